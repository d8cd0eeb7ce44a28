package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepGlossary maps team shorthand ("ssh push", "grid copy") to canonical
// step names for requests where the model left step_name empty.
type StepGlossary struct {
	Terms []StepGlossaryTerm `yaml:"terms"`
}

type StepGlossaryTerm struct {
	Phrase string `yaml:"phrase"`
	Step   string `yaml:"step"`
}

func LoadStepGlossary(path string) (*StepGlossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read step glossary: %w", err)
	}
	var g StepGlossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse step glossary yaml: %w", err)
	}
	return &g, nil
}

// Match returns the step for the longest phrase contained in text.
func (g *StepGlossary) Match(text string) (string, bool) {
	if g == nil || len(g.Terms) == 0 {
		return "", false
	}
	terms := append([]StepGlossaryTerm(nil), g.Terms...)
	sort.SliceStable(terms, func(i, j int) bool {
		return len(terms[i].Phrase) > len(terms[j].Phrase)
	})
	lower := normalizeTextToken(text)
	for _, t := range terms {
		phrase := normalizeTextToken(t.Phrase)
		if phrase == "" || strings.TrimSpace(t.Step) == "" {
			continue
		}
		if strings.Contains(lower, phrase) {
			return strings.TrimSpace(t.Step), true
		}
	}
	return "", false
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
