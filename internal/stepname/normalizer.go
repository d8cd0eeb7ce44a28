// Package stepname resolves free-form deployment step identifiers against
// the canonical step-name catalog.
package stepname

import (
	"context"
	"log"
	"path"
	"sort"
	"strings"
	"sync"
)

// Catalog supplies the canonical vocabulary.
type Catalog interface {
	LoadStepNames(ctx context.Context) ([]string, error)
}

// Normalizer caches the catalog after the first successful or failed load
// until Invalidate is called. A failed load caches an empty vocabulary so a
// broken catalog does not cost a query per message.
type Normalizer struct {
	catalog Catalog

	mu     sync.RWMutex
	loaded bool
	exact  map[string]struct{}
	// byLength is sorted longest first so the first prefix hit is the longest.
	// Equal-length names keep catalog order.
	byLength []string
}

func NewNormalizer(catalog Catalog) *Normalizer {
	return &Normalizer{catalog: catalog}
}

// Normalize returns the canonical form of raw, or "" for blank input.
func (n *Normalizer) Normalize(ctx context.Context, raw string) string {
	s := Sanitize(raw)
	if s == "" {
		return ""
	}

	exact, byLength := n.vocabulary(ctx)
	if len(exact) == 0 {
		return s
	}
	if _, ok := exact[s]; ok {
		return s
	}

	for _, name := range byLength {
		if len(s) > len(name) && strings.HasPrefix(s, name) {
			if sep := s[len(name)]; sep == '_' || sep == '-' {
				return name
			}
		}
	}

	candidate := s
	for {
		i := strings.LastIndexByte(candidate, '_')
		if i <= 0 {
			break
		}
		candidate = candidate[:i]
		if _, ok := exact[candidate]; ok {
			return candidate
		}
	}

	// A leading abbreviation such as SSH expands only when exactly one
	// canonical name starts with it.
	var expanded string
	for _, name := range byLength {
		if strings.HasPrefix(name, s+"_") {
			if expanded != "" {
				return s
			}
			expanded = name
		}
	}
	if expanded != "" {
		return expanded
	}

	return s
}

// Invalidate drops the cached vocabulary; the next Normalize reloads it.
func (n *Normalizer) Invalidate() {
	n.mu.Lock()
	n.loaded = false
	n.exact = nil
	n.byLength = nil
	n.mu.Unlock()
	log.Printf("stepname cache invalidated")
}

// Size reports the cached vocabulary size, loading it if needed.
func (n *Normalizer) Size(ctx context.Context) int {
	exact, _ := n.vocabulary(ctx)
	return len(exact)
}

func (n *Normalizer) vocabulary(ctx context.Context) (map[string]struct{}, []string) {
	n.mu.RLock()
	if n.loaded {
		exact, byLength := n.exact, n.byLength
		n.mu.RUnlock()
		return exact, byLength
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.loaded {
		return n.exact, n.byLength
	}

	names, err := n.catalog.LoadStepNames(ctx)
	if err != nil {
		log.Printf("stepname catalog load error: %v", err)
		names = nil
	}

	exact := make(map[string]struct{}, len(names))
	byLength := make([]string, 0, len(names))
	for _, raw := range names {
		name := Sanitize(raw)
		if name == "" {
			continue
		}
		if _, dup := exact[name]; dup {
			continue
		}
		exact[name] = struct{}{}
		byLength = append(byLength, name)
	}
	sort.SliceStable(byLength, func(i, j int) bool {
		return len(byLength[i]) > len(byLength[j])
	})

	n.exact, n.byLength, n.loaded = exact, byLength, true
	log.Printf("stepname catalog loaded count=%d", len(exact))
	return exact, byLength
}

// Sanitize strips any directory prefix and trailing .log suffixes, then
// uppercases and turns each space into an underscore. It is idempotent.
func Sanitize(raw string) string {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = path.Base(s)
		if s == "/" || s == "." {
			s = ""
		}
	}
	for {
		s = strings.TrimSpace(s)
		if len(s) >= 4 && strings.EqualFold(s[len(s)-4:], ".log") {
			s = s[:len(s)-4]
			continue
		}
		break
	}
	if s == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToUpper(s), " ", "_")
}
