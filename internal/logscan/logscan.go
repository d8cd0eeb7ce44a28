// Package logscan pulls the error-bearing parts out of raw deployment logs.
package logscan

import (
	"regexp"
	"sort"
	"strings"
)

const (
	contextLinesBefore = 3
	maxContinuation    = 50
	contextCharLimit   = 8000
	keyErrorLimit      = 5
	keyErrorLineChars  = 120
	ContextSeparator   = "\n--- ERROR CONTEXT SEPARATOR ---\n"
)

var relevanceWeights = []struct {
	term   string
	weight int
}{
	{"error", 10},
	{"failed", 10},
	{"failure", 10},
	{"exception", 8},
	{"timeout", 6},
	{"denied", 6},
	{"refused", 6},
	{"abort", 5},
	{"warning", 3},
	{"retry", 2},
}

// RelevanceScore ranks content by how error-heavy it looks. Each term counts
// once regardless of how often it appears.
func RelevanceScore(content string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, w := range relevanceWeights {
		if strings.Contains(lower, w.term) {
			score += w.weight
		}
	}
	return score
}

var keyErrorTerms = []string{"fatal", "error", "failed", "permission denied", "exception"}

// KeyErrors returns up to five error lines as a "- " bullet list.
func KeyErrors(content string) string {
	var b strings.Builder
	count := 0
	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(line)
		hit := false
		for _, term := range keyErrorTerms {
			if strings.Contains(lower, term) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if len(line) > keyErrorLineChars {
			line = line[:keyErrorLineChars] + "..."
		}
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(line))
		b.WriteByte('\n')
		count++
		if count >= keyErrorLimit {
			break
		}
	}
	return b.String()
}

type trigger struct {
	re     *regexp.Regexp
	weight int
}

var triggers = []trigger{
	{regexp.MustCompile(`(?i)\bFATAL\b`), 5},
	{regexp.MustCompile(`(?i)\[ERROR\]|\berror\b|exception`), 4},
	{regexp.MustCompile(`(?i)\bFAILED\b|Refusing to execute|Oracle not available`), 4},
	{regexp.MustCompile(`(?i)timeout|denied|refused|connection error|Unable to (get|retrieve|start)`), 3},
}

var (
	datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	timePrefix = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}`)

	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}:\d{2}[\d.]*Z?`)
	longIDRe    = regexp.MustCompile(`\b\d{10,}\b`)
	pidRe       = regexp.MustCompile(`(?i)\bpid\s*[=:]?\s*\d+`)
)

type block struct {
	start, end int
	score      int
}

// ErrorContext extracts the lines around each error trigger, with three
// lines of lead-in and any continuation lines that follow. Overlapping
// blocks are merged, near-duplicate blocks are dropped, and the strongest
// blocks are kept up to a fixed character budget. Returns "" when nothing
// looks like an error.
func ErrorContext(content string) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	n := len(lines)

	var blocks []block
	for i, line := range lines {
		weight := 0
		for _, t := range triggers {
			if t.weight > weight && t.re.MatchString(line) {
				weight = t.weight
			}
		}
		if weight == 0 {
			continue
		}
		start := i - contextLinesBefore
		if start < 0 {
			start = 0
		}
		end := i + 1
		limit := i + maxContinuation
		if limit > n {
			limit = n
		}
		for end < limit && isContinuation(lines[end]) {
			end++
		}
		blocks = append(blocks, block{start: start, end: end, score: weight*100000 + i})
	}
	if len(blocks) == 0 {
		return ""
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].start < blocks[j].start })
	merged := []block{blocks[0]}
	for _, b := range blocks[1:] {
		cur := &merged[len(merged)-1]
		if b.start <= cur.end+1 {
			if b.end > cur.end {
				cur.end = b.end
			}
			if b.score > cur.score {
				cur.score = b.score
			}
			continue
		}
		merged = append(merged, b)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].score > merged[j].score })

	var out strings.Builder
	seen := make(map[string]bool)
	used := 0
	for _, b := range merged {
		snippet := strings.Join(lines[b.start:b.end], "\n") + "\n"
		key := snippetKey(snippet)
		if key == "" || seen[key] {
			continue
		}
		if used+len(snippet) > contextCharLimit {
			break
		}
		if out.Len() > 0 {
			out.WriteString(ContextSeparator)
		}
		out.WriteString(snippet)
		used += len(snippet)
		seen[key] = true
	}
	return out.String()
}

func isContinuation(line string) bool {
	if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "  ") {
		return true
	}
	return !datePrefix.MatchString(line) && !timePrefix.MatchString(line)
}

// snippetKey strips timestamps, long numeric ids and pids so repeated
// failures differing only in those compare equal.
func snippetKey(snippet string) string {
	var b strings.Builder
	for _, line := range strings.Split(snippet, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		switch {
		case strings.Contains(lower, "not registered with synner"):
			t = "Not registered with Synner"
		case strings.Contains(lower, "2fa is required") && strings.Contains(lower, "prompt_user"):
			t = "2FA is required and Synner code not available"
		default:
			t = timestampRe.ReplaceAllString(t, "[TIMESTAMP]")
			t = longIDRe.ReplaceAllString(t, "[ID]")
			t = pidRe.ReplaceAllString(t, "pid=[PID]")
		}
		b.WriteString(t)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
