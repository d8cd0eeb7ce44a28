// Package query gates, runs and formats the SQL written by the planner.
package query

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"failurebot/internal/domain"
	"failurebot/internal/metrics"
)

const (
	MetricsRowLimit  = 500
	AnalysisRowLimit = 10
)

// ValidatedQuery is a plan that passed Validate, with its LIMIT enforced.
type ValidatedQuery struct {
	SQL   string
	Kind  domain.Intent
	Limit int
}

func rowLimit(kind domain.Intent) int {
	if kind == domain.IntentAnalysis {
		return AnalysisRowLimit
	}
	return MetricsRowLimit
}

var allowedKeywords = toSet(
	"select", "from", "where", "and", "or", "not", "in", "is", "null", "like", "ilike", "glob",
	"between", "group", "by", "order", "asc", "desc", "limit", "offset", "as", "distinct", "all",
	"having", "case", "when", "then", "else", "end", "true", "false", "nulls", "first", "last",
	"interval", "current_date", "current_time", "current_timestamp", "escape", "filter", "over", "partition", "for",
	// CAST targets and date parts
	"date", "text", "integer", "int", "bigint", "numeric", "decimal", "real", "float", "double",
	"precision", "varchar", "char", "timestamp", "year", "month", "day", "week", "quarter", "dow", "hour", "epoch",
)

var allowedFunctions = toSet(
	"count", "sum", "avg", "min", "max", "lower", "upper", "trim", "ltrim", "rtrim", "length",
	"substr", "substring", "coalesce", "ifnull", "nullif", "cast", "round", "abs", "date", "datetime",
	"strftime", "julianday", "date_trunc", "date_part", "extract", "to_char", "to_date", "now",
	"replace", "instr", "position", "concat", "split_part", "string_agg", "group_concat",
	"row_number", "rank", "dense_rank",
)

var mutatingKeywords = toSet(
	"insert", "update", "delete", "drop", "alter", "create", "truncate", "replace", "merge", "upsert",
	"grant", "revoke", "attach", "detach", "pragma", "vacuum", "analyze", "reindex", "copy", "call",
	"exec", "execute", "do", "set", "reset", "lock", "into", "union", "intersect", "except", "with",
	"returning", "join",
)

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var knownColumns = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range domain.FailureLogColumns {
		m[c] = true
	}
	return m
}()

// Validate accepts only a single read-only SELECT over pmd_failure_logs and
// its columns. A missing LIMIT is added and an oversized one is lowered to
// the ceiling for the plan's kind.
func Validate(plan domain.QueryPlan) (ValidatedQuery, error) {
	vq, err := validate(plan)
	if err != nil {
		metrics.RecordValidationRejection()
		log.Printf("query validate rejected kind=%s reason=%q sql=%q", plan.Kind, err.Error(), plan.SQL)
		return ValidatedQuery{}, err
	}
	return vq, nil
}

func reject(format string, args ...any) error {
	return &domain.ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func validate(plan domain.QueryPlan) (ValidatedQuery, error) {
	sql := strings.TrimSpace(plan.SQL)
	// A lone trailing terminator cannot introduce a second statement.
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if sql == "" {
		return ValidatedQuery{}, reject("the generated query is empty")
	}

	tokens, err := tokenize(sql)
	if err != nil {
		return ValidatedQuery{}, err
	}
	if len(tokens) == 0 || !tokens[0].is("select") {
		return ValidatedQuery{}, reject("only SELECT queries are allowed")
	}

	var (
		depth        int
		selects      int
		topFroms     int
		tableAliases = map[string]bool{}
		aliases      = map[string]bool{}
		limitIdx     = -1
		offsetIdx    = -1
		inSelectList bool
	)
	for i, t := range tokens {
		if t.is("as") && peek(tokens, i+1).isName() {
			aliases[tokens[i+1].lower()] = true
		}
		if t.is("from") {
			if alias, _ := tableAlias(tokens, i+1); alias != "" {
				tableAliases[alias] = true
			}
		}
	}

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.kind {
		case tokSymbol:
			switch t.text {
			case "(":
				depth++
			case ")":
				depth--
				if depth < 0 {
					return ValidatedQuery{}, reject("unbalanced parentheses")
				}
			}
			continue
		case tokString, tokNumber:
			continue
		}

		word := t.lower()
		next := peek(tokens, i+1)

		if t.kind == tokQuoted && next.text == "(" {
			return ValidatedQuery{}, reject("quoted function names are not allowed")
		}
		if t.kind == tokIdent && next.text == "(" && !allowedKeywords[word] {
			if !allowedFunctions[word] {
				return ValidatedQuery{}, reject("function %s is not allowed", strings.ToUpper(word))
			}
			continue
		}
		if t.kind == tokIdent && mutatingKeywords[word] {
			return ValidatedQuery{}, reject("only read-only SELECT statements over %s are allowed", domain.FailureLogTable)
		}

		switch {
		case t.kind == tokIdent && word == "select":
			selects++
			if selects > 1 {
				return ValidatedQuery{}, reject("subqueries are not allowed")
			}
			inSelectList = depth == 0
		case t.kind == tokIdent && word == "from" && depth == 0:
			inSelectList = false
			topFroms++
			if topFroms > 1 {
				return ValidatedQuery{}, reject("only one FROM clause is allowed")
			}
			table := peek(tokens, i+1)
			if !table.isName() || table.lower() != domain.FailureLogTable {
				return ValidatedQuery{}, reject("only the %s table can be queried", domain.FailureLogTable)
			}
			i++
			if alias, at := tableAlias(tokens, i); alias != "" {
				i = at
			}
			if peek(tokens, i+1).text == "," {
				return ValidatedQuery{}, reject("only the %s table can be queried", domain.FailureLogTable)
			}
		case t.kind == tokIdent && word == "limit":
			if depth != 0 || limitIdx >= 0 {
				return ValidatedQuery{}, reject("unexpected LIMIT clause")
			}
			if next.kind != tokNumber {
				return ValidatedQuery{}, reject("LIMIT must be a whole number")
			}
			if after := peek(tokens, i+2); after.text != "" && !after.is("offset") {
				return ValidatedQuery{}, reject("LIMIT must be a whole number")
			}
			limitIdx = i + 1
			i++
		case t.kind == tokIdent && word == "offset" && depth == 0:
			offsetIdx = i
		case next.text == ".":
			if word != domain.FailureLogTable && !tableAliases[word] {
				return ValidatedQuery{}, reject("unknown table %q", t.text)
			}
			col := peek(tokens, i+2)
			if col.text != "*" && !(col.isName() && knownColumns[col.lower()]) {
				return ValidatedQuery{}, reject("unknown column %q", col.text)
			}
			if col.lower() == contentColumn && !bareProjection(tokens, i, i+2, inSelectList && depth == 0) {
				return ValidatedQuery{}, reject(contentMisuse)
			}
			i += 2
		case t.kind == tokIdent && allowedKeywords[word]:
		case word == contentColumn:
			if !bareProjection(tokens, i, i, inSelectList && depth == 0) {
				return ValidatedQuery{}, reject(contentMisuse)
			}
		case knownColumns[word], aliases[word], tableAliases[word]:
		default:
			return ValidatedQuery{}, reject("unknown column %q", t.text)
		}
	}
	if depth != 0 {
		return ValidatedQuery{}, reject("unbalanced parentheses")
	}
	if topFroms != 1 {
		return ValidatedQuery{}, reject("the query must select from %s", domain.FailureLogTable)
	}

	ceiling := rowLimit(plan.Kind)
	limit := ceiling
	switch {
	case limitIdx < 0 && offsetIdx >= 0:
		at := tokens[offsetIdx].start
		sql = sql[:at] + "LIMIT " + strconv.Itoa(ceiling) + " " + sql[at:]
	case limitIdx < 0:
		sql += " LIMIT " + strconv.Itoa(ceiling)
	default:
		tok := tokens[limitIdx]
		n, err := strconv.Atoi(tok.text)
		if err != nil || n < 0 {
			return ValidatedQuery{}, reject("LIMIT must be a whole number")
		}
		if n > ceiling {
			sql = sql[:tok.start] + strconv.Itoa(ceiling) + sql[tok.end:]
		} else {
			limit = n
		}
	}
	return ValidatedQuery{SQL: sql, Kind: plan.Kind, Limit: limit}, nil
}

// content is stored compressed and only decompressed when it comes back as
// a plain result column.
const (
	contentColumn = "content"
	contentMisuse = "content can only be selected as a plain column; filter on step_name, work_id, case_number, datacenter or report_date instead"
)

// bareProjection reports whether tokens[first:last+1] stand alone as one
// item of the top-level select list.
func bareProjection(tokens []token, first, last int, inSelectList bool) bool {
	if !inSelectList {
		return false
	}
	prev, next := peek(tokens, first-1), peek(tokens, last+1)
	if prev.text != "," && !prev.is("select") && !prev.is("distinct") {
		return false
	}
	return next.text == "," || next.is("from")
}

// tableAlias reads an optional alias after the table name at tokens[table].
// It returns the alias and its index, or "" when there is none.
func tableAlias(tokens []token, table int) (string, int) {
	j := table + 1
	if peek(tokens, j).is("as") {
		j++
	}
	alias := peek(tokens, j)
	if !alias.isName() || allowedKeywords[alias.lower()] || mutatingKeywords[alias.lower()] {
		return "", 0
	}
	return alias.lower(), j
}

func peek(tokens []token, i int) token {
	if i < 0 || i >= len(tokens) {
		return token{}
	}
	return tokens[i]
}
