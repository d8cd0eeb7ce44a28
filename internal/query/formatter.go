package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"failurebot/internal/domain"
	"failurebot/internal/logscan"
)

const (
	maxTotalLength     = 50000
	maxContentLength   = 300
	maxCellLength      = 200
	maxTableLength     = 20000
	maxJSONLength      = 25000
	maxTableRows       = 100
	maxJSONRows        = 200
	maxRankedResults   = 15
	maxResultsPerStep  = 2
	numericScanLimit   = 50
	diversityThreshold = 10
)

var preferredColumns = []string{"step_name", "report_date", "case_number", "datacenter", "record_id", "work_id", "attachment_id"}

// Format renders rows for the narration prompt: a readable section (ranked
// log excerpts when rows carry content, a pipe table otherwise) followed by
// a fenced JSON projection with per-column numeric totals. Every cap that
// drops rows says so in the output.
func Format(rows domain.RowSet, kind domain.Intent) string {
	if rows.Len() == 0 {
		return "No results found."
	}
	columns := orderedColumns(rows)

	var out strings.Builder
	if hasColumn(columns, "content") || kind == domain.IntentAnalysis {
		writeRanked(&out, rows)
	} else {
		writeTable(&out, rows, columns)
	}
	out.WriteString("\n```json\n")
	writeJSON(&out, rows, columns)
	out.WriteString("```")
	return out.String()
}

func writeRanked(out *strings.Builder, rows domain.RowSet) {
	ranked := rankByRelevance(rows.Rows)
	fmt.Fprintf(out, "Total results: %d, showing top %d most relevant:\n\n", rows.Len(), len(ranked))

	used := out.Len()
	for i, row := range ranked {
		var section strings.Builder
		fmt.Fprintf(&section, "## %s | Case %s | %s | %s\n",
			field(row, "step_name"), field(row, "case_number"), field(row, "report_date"), field(row, "datacenter"))
		if content, ok := row["content"]; ok && content != nil {
			text := fmt.Sprint(content)
			if keyErrors := logscan.KeyErrors(text); keyErrors != "" {
				section.WriteString("**Key Errors:**\n")
				section.WriteString(keyErrors)
			} else {
				section.WriteString("Content: ")
				section.WriteString(truncateRunes(text, maxContentLength))
			}
		}
		section.WriteString("\n")

		if used+section.Len() > maxTotalLength {
			fmt.Fprintf(out, "... %d additional results omitted due to token limits\n", len(ranked)-i)
			return
		}
		out.WriteString(section.String())
		used += section.Len()
	}
}

func writeTable(out *strings.Builder, rows domain.RowSet, columns []string) {
	fmt.Fprintf(out, "Total rows: %d\n\n", rows.Len())
	out.WriteString(strings.Join(columns, " | "))
	out.WriteString("\n")
	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = "---"
	}
	out.WriteString(strings.Join(sep, " | "))
	out.WriteString("\n")

	used := 0
	for i, row := range rows.Rows {
		if i >= maxTableRows {
			fmt.Fprintf(out, "... %d additional rows omitted\n", rows.Len()-i)
			break
		}
		values := make([]string, len(columns))
		for j, col := range columns {
			if v := row[col]; v != nil {
				values[j] = truncateRunes(fmt.Sprint(v), maxCellLength)
			}
		}
		line := strings.Join(values, " | ") + "\n"
		if used+len(line) > maxTableLength {
			fmt.Fprintf(out, "... %d additional rows omitted due to token limits\n", rows.Len()-i)
			break
		}
		out.WriteString(line)
		used += len(line)
	}
	out.WriteString("\n")
}

func writeJSON(out *strings.Builder, rows domain.RowSet, columns []string) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = jsonValue(c)
	}
	out.WriteString("{\n")
	fmt.Fprintf(out, "  \"columns\": [%s],\n", strings.Join(quoted, ", "))
	fmt.Fprintf(out, "  \"row_count\": %d,\n", rows.Len())
	out.WriteString("  \"rows\": [\n")

	var lines []string
	used := 0
	for _, row := range rows.Rows[:min(rows.Len(), maxJSONRows)] {
		var fields []string
		for _, col := range columns {
			if col == "content" {
				continue
			}
			fields = append(fields, jsonValue(col)+": "+jsonValue(cellValue(row[col])))
		}
		line := "    {" + strings.Join(fields, ", ") + "}"
		if used+len(line) > maxJSONLength {
			break
		}
		lines = append(lines, line)
		used += len(line)
	}
	if omitted := rows.Len() - len(lines); omitted > 0 {
		lines = append(lines, fmt.Sprintf("    {\"note\": \"rows truncated\", \"omitted_rows\": %d}", omitted))
	}
	if len(lines) > 0 {
		out.WriteString(strings.Join(lines, ",\n"))
		out.WriteString("\n")
	}
	out.WriteString("  ],\n")

	var totals []string
	for _, t := range numericTotals(rows, columns) {
		totals = append(totals, jsonValue(t.column)+": "+t.value)
	}
	fmt.Fprintf(out, "  \"numeric_totals\": {%s}\n", strings.Join(totals, ", "))
	out.WriteString("}\n")
}

type numericTotal struct {
	column string
	value  string
}

// numericTotals sums every numeric column seen in the first rows. Totals
// print as integers when every summed value was integral.
func numericTotals(rows domain.RowSet, columns []string) []numericTotal {
	numeric := map[string]bool{}
	for _, row := range rows.Rows[:min(rows.Len(), numericScanLimit)] {
		for col, v := range row {
			if isNumber(v) && !strings.EqualFold(col, "id") {
				numeric[col] = true
			}
		}
	}

	var totals []numericTotal
	for _, col := range columns {
		if !numeric[col] {
			continue
		}
		sum := 0.0
		integral := true
		for _, row := range rows.Rows {
			switch v := row[col].(type) {
			case int64:
				sum += float64(v)
			case float64:
				sum += v
				if v != math.Trunc(v) {
					integral = false
				}
			}
		}
		value := strconv.FormatFloat(sum, 'f', -1, 64)
		if integral {
			value = strconv.FormatInt(int64(math.Round(sum)), 10)
		}
		totals = append(totals, numericTotal{column: col, value: value})
	}
	return totals
}

func rankByRelevance(rows []domain.Row) []domain.Row {
	if len(rows) > diversityThreshold {
		return rankWithStepDiversity(rows)
	}
	ranked := append([]domain.Row(nil), rows...)
	sortByRelevance(ranked)
	return ranked[:min(len(ranked), maxRankedResults)]
}

// rankWithStepDiversity keeps the best two rows of each step before the
// overall ranking so one noisy step cannot fill every slot.
func rankWithStepDiversity(rows []domain.Row) []domain.Row {
	var order []string
	byStep := map[string][]domain.Row{}
	for _, row := range rows {
		step := "UNKNOWN"
		if v := row["step_name"]; v != nil {
			step = fmt.Sprint(v)
		}
		if _, ok := byStep[step]; !ok {
			order = append(order, step)
		}
		byStep[step] = append(byStep[step], row)
	}
	sort.SliceStable(order, func(i, j int) bool { return len(byStep[order[i]]) > len(byStep[order[j]]) })

	var diverse []domain.Row
	for _, step := range order {
		group := byStep[step]
		sortByRelevance(group)
		diverse = append(diverse, group[:min(len(group), maxResultsPerStep)]...)
	}
	sortByRelevance(diverse)
	return diverse[:min(len(diverse), maxRankedResults)]
}

func sortByRelevance(rows []domain.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := errorScore(rows[i]), errorScore(rows[j])
		if si != sj {
			return si > sj
		}
		di, dj := rows[i]["report_date"], rows[j]["report_date"]
		if di != nil && dj != nil {
			return fmt.Sprint(di) > fmt.Sprint(dj)
		}
		return contentLength(rows[i]) > contentLength(rows[j])
	})
}

func errorScore(row domain.Row) int {
	v := row["content"]
	if v == nil {
		return 0
	}
	return logscan.RelevanceScore(fmt.Sprint(v))
}

func contentLength(row domain.Row) int {
	v := row["content"]
	if v == nil {
		return 0
	}
	return len(fmt.Sprint(v))
}

// orderedColumns puts the identifying columns first, then the rest in
// result order.
func orderedColumns(rows domain.RowSet) []string {
	present := map[string]bool{}
	var all []string
	add := func(c string) {
		if !present[c] {
			present[c] = true
			all = append(all, c)
		}
	}
	for _, c := range rows.Columns {
		add(c)
	}
	var extra []string
	for _, row := range rows.Rows {
		for c := range row {
			if !present[c] {
				extra = append(extra, c)
				present[c] = true
			}
		}
	}
	sort.Strings(extra)
	all = append(all, extra...)

	ordered := make([]string, 0, len(all))
	placed := map[string]bool{}
	for _, p := range preferredColumns {
		if present[p] {
			ordered = append(ordered, p)
			placed[p] = true
		}
	}
	for _, c := range all {
		if !placed[c] {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func field(row domain.Row, name string) string {
	if v := row[name]; v != nil {
		return fmt.Sprint(v)
	}
	return "N/A"
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func jsonValue(v any) string {
	switch v.(type) {
	case nil, string, int64, float64, bool:
	default:
		v = fmt.Sprint(v)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// cellValue keeps scalars as they are and shortens everything else.
func cellValue(v any) any {
	switch v.(type) {
	case nil, int64, float64, bool:
		return v
	}
	return truncateRunes(fmt.Sprint(v), maxCellLength)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
