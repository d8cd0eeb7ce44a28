package query

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota + 1
	tokQuoted
	tokString
	tokNumber
	tokSymbol
)

type token struct {
	kind       tokenKind
	text       string
	start, end int
}

func (t token) lower() string { return strings.ToLower(t.text) }

func (t token) is(word string) bool { return t.kind == tokIdent && strings.EqualFold(t.text, word) }

func (t token) isName() bool { return t.kind == tokIdent || t.kind == tokQuoted }

// tokenize splits sql into identifiers, quoted identifiers, string and
// number literals, and single symbols. Comments, statement separators and
// bind parameters are rejected outright.
func tokenize(sql string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-', c == '/' && i+1 < len(sql) && sql[i+1] == '*', c == '#':
			return nil, reject("comments are not allowed in queries")
		case c == ';':
			return nil, reject("multiple statements are not allowed")
		case c == '?' || c == '$' || c == '@':
			return nil, reject("query parameters are not allowed")
		case c == '\'':
			end, ok := closeQuote(sql, i, '\'')
			if !ok {
				return nil, reject("unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokString, text: sql[i:end], start: i, end: end})
			i = end
		case c == '"' || c == '`':
			end, ok := closeQuote(sql, i, c)
			if !ok {
				return nil, reject("unterminated quoted identifier")
			}
			tokens = append(tokens, token{kind: tokQuoted, text: sql[i+1 : end-1], start: i, end: end})
			i = end
		case isDigit(c) || (c == '.' && i+1 < len(sql) && isDigit(sql[i+1])):
			j := i
			for j < len(sql) && (isDigit(sql[j]) || sql[j] == '.') {
				j++
			}
			if j < len(sql) && (sql[j] == 'e' || sql[j] == 'E') {
				k := j + 1
				if k < len(sql) && (sql[k] == '+' || sql[k] == '-') {
					k++
				}
				if k < len(sql) && isDigit(sql[k]) {
					j = k
					for j < len(sql) && isDigit(sql[j]) {
						j++
					}
				}
			}
			tokens = append(tokens, token{kind: tokNumber, text: sql[i:j], start: i, end: j})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(sql) && isIdentPart(rune(sql[j])) {
				j++
			}
			tokens = append(tokens, token{kind: tokIdent, text: sql[i:j], start: i, end: j})
			i = j
		case c >= 0x80:
			return nil, reject("unexpected character in query")
		default:
			tokens = append(tokens, token{kind: tokSymbol, text: string(c), start: i, end: i + 1})
			i++
		}
	}
	return tokens, nil
}

// closeQuote returns the index just past the closing quote, treating a
// doubled quote as an escaped one.
func closeQuote(s string, open int, q byte) (int, bool) {
	for i := open + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1, true
	}
	return 0, false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
