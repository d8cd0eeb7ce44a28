package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	jsonFenceRe    = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	genericFenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
)

// extractJSON pulls the first JSON value out of a model response. It tries a
// ```json fence, then any fence whose body starts with { or [, then the first
// balanced object, then the first balanced array. Returns "{}" when nothing
// is found.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "{}"
	}
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return body
		}
	}
	for _, m := range genericFenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			return body
		}
	}
	if obj := balanced(text, '{', '}'); obj != "" {
		return obj
	}
	if arr := balanced(text, '[', ']'); arr != "" {
		return arr
	}
	return "{}"
}

// balanced returns the first open..close span whose delimiters balance,
// ignoring delimiters inside JSON strings.
func balanced(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// The model is loose with types: numbers arrive quoted, booleans as
// "yes", and absent values as null or "". These helpers accept all of it.

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawInt(raw json.RawMessage) (int, bool) {
	s := rawString(raw)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	s := rawString(raw)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func rawBool(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	switch strings.ToLower(rawString(raw)) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}

func decodeObject(text string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSON(text)), &obj); err != nil {
		return nil, fmt.Errorf("parsing model JSON: %w", err)
	}
	return obj, nil
}
