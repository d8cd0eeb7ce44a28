package llm

import (
	"fmt"
	"strings"
	"time"

	"failurebot/internal/domain"
)

const extractionSystemPrompt = `You extract structured parameters from questions about PMD deployment failures and their logs. You reply with JSON only.`

func buildExtractionPrompt(query, conversationContext string, today time.Time) string {
	var b strings.Builder
	b.WriteString("<instructions>\n")
	b.WriteString("Return a single JSON object with these fields (null when unknown):\n")
	b.WriteString("- record_id (string)\n")
	b.WriteString("- work_id (string, e.g. W-1234567)\n")
	b.WriteString("- case_number (integer)\n")
	b.WriteString("- step_name (string; e.g. SSH_TO_ALL_HOSTS, GRIDFORCE_APP_LOG_COPY, KM_VALIDATION_RELENG)\n")
	b.WriteString("- attachment_id (string)\n")
	b.WriteString("- datacenter (string; datacenter or host suffix)\n")
	b.WriteString("- report_date (YYYY-MM-DD)\n")
	b.WriteString("- query (string; the core question with the parameters removed)\n")
	b.WriteString("- intent (string; one of import, metrics, analysis)\n")
	b.WriteString("- confidence (number between 0.0 and 1.0)\n")
	b.WriteString("- is_relevant (boolean; true when the request is about PMD failures, logs or deployments)\n")
	b.WriteString("- irrelevant_reason (string; a short reason when is_relevant is false)\n\n")
	b.WriteString("Guidelines:\n")
	b.WriteString("1) Extract only what is stated or strongly implied.\n")
	fmt.Fprintf(&b, "2) Resolve relative dates such as \"yesterday\" to real dates. Today is %s.\n", today.Format("2006-01-02"))
	b.WriteString("3) Expand partial step names to the canonical name when it is clear (\"SSH\" means SSH_TO_ALL_HOSTS).\n")
	b.WriteString("4) Case numbers are integers; drop any non-digits.\n")
	b.WriteString("5) intent is import for requests to fetch, pull, import or download logs; metrics for counts, breakdowns and trends; analysis for explaining errors or root cause.\n")
	b.WriteString("6) \"Explain\" and \"why\" questions are analysis. \"How many\" and \"count\" questions are metrics.\n")
	b.WriteString("7) Always include intent, and set confidence by how clearly the request was stated.\n")
	b.WriteString("8) When the request is not about PMD failures, logs or deployments, set is_relevant to false and give irrelevant_reason.\n")
	b.WriteString("9) Return ONLY the JSON object.\n\n")
	b.WriteString("Example query: \"What went wrong with case 123456's SSH deployment yesterday?\"\n")
	b.WriteString(`Example output: {"record_id": null, "work_id": null, "case_number": 123456, "step_name": "SSH_TO_ALL_HOSTS", "attachment_id": null, "datacenter": null, "report_date": "2024-01-15", "query": "What went wrong with deployment", "intent": "analysis", "confidence": 0.9, "is_relevant": true, "irrelevant_reason": null}` + "\n\n")
	b.WriteString("Example query: \"Import logs for case 567890\"\n")
	b.WriteString(`Example output: {"record_id": null, "work_id": null, "case_number": 567890, "step_name": null, "attachment_id": null, "datacenter": null, "report_date": null, "query": "Import logs", "intent": "import", "confidence": 0.95, "is_relevant": true, "irrelevant_reason": null}` + "\n")
	b.WriteString("</instructions>\n\n")

	if strings.TrimSpace(conversationContext) != "" {
		b.WriteString("<conversation_context>\n")
		b.WriteString(conversationContext)
		b.WriteString("\n</conversation_context>\n\n")
	}

	b.WriteString("<user_query>\n")
	b.WriteString(query)
	b.WriteString("\n</user_query>\n")
	return b.String()
}

const (
	metricsToolName  = "generate_metrics_query"
	analysisToolName = "generate_analysis_query"
)

func planningTools(intent domain.Intent, dialect string) []Tool {
	if intent == domain.IntentAnalysis {
		return []Tool{queryTool(analysisToolName,
			"Generate a read-only SELECT that fetches representative failure logs, including content, for explaining what went wrong. Select record_id, work_id, step_name, case_number, datacenter, report_date, content. Filter by step_name, report_date or case_number when provided and order by recency. LIMIT must be 10 or less.",
			fmt.Sprintf("%s SELECT over pmd_failure_logs selecting record_id, work_id, step_name, case_number, datacenter, report_date, content. Never select id. content must be a plain select-list column and never used in WHERE or a function. LIMIT 10 or less.", dialect),
		)}
	}
	return []Tool{queryTool(metricsToolName,
		"Generate a read-only SELECT for counts, breakdowns and trends over pmd_failure_logs. Include a numeric aggregate such as COUNT(*) AS failures and GROUP BY the dimension the question asks about (step_name for different failures, report_date for by day or month, datacenter when asked). Never select the content column. LIMIT must be 500 or less.",
		fmt.Sprintf("%s SELECT over pmd_failure_logs with aggregates and GROUP BY as needed. Columns: record_id, work_id, case_number, step_name, attachment_id, datacenter, report_date. Never select id or content. End with a LIMIT of 500 or less.", dialect),
	)}
}

func queryTool(name, description, sqlDescription string) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Properties: map[string]any{
			"sql_query": map[string]any{
				"type":        "string",
				"description": sqlDescription,
			},
			"explanation": map[string]any{
				"type":        "string",
				"description": "One sentence describing what the query returns.",
			},
		},
		Required: []string{"sql_query", "explanation"},
	}
}

func buildPlanningPrompts(filters domain.FilterSet, intent domain.Intent, dialect string) (string, string) {
	system := fmt.Sprintf(`You write a single read-only %s SELECT statement against one table and return it through the provided tool.

Table pmd_failure_logs:
- record_id TEXT: case tracker record id
- work_id TEXT: work item id such as W-1234567
- case_number INTEGER: change case number
- step_name TEXT: canonical deployment step, uppercase
- attachment_id TEXT: unique id of the imported log attachment
- datacenter TEXT: datacenter or host suffix
- report_date DATE: day the failure was reported
- content: the failure log text, stored compressed. It may only appear as a plain column in the SELECT list (no alias, function, WHERE, GROUP BY or ORDER BY); it cannot be searched.

Rules:
- One statement, no semicolons, no comments.
- Use only the table and columns above. Give every computed column an alias with AS.
- Apply every filter listed below exactly as given.`, dialect)

	var user strings.Builder
	fmt.Fprintf(&user, "Intent: %s\n", intent)
	applied := filters.Applied()
	if len(applied) == 0 {
		user.WriteString("Filters: none\n")
	} else {
		user.WriteString("Filters:\n")
		for _, f := range applied {
			fmt.Fprintf(&user, "- %s\n", f)
		}
	}
	fmt.Fprintf(&user, "\nQuestion: %s\n", filters.Query)
	return system, user.String()
}

const narrationSystemPrompt = `You answer questions about PMD deployment failure logs in Slack. Keep answers short and plain.`

func buildMetricsNarrationPrompt(originalQuery, sql, formatted string, resultCount int) string {
	return fmt.Sprintf(`<instructions>
Answer the metrics question in <question> using the data in <context>.

Output (plain text):
- Line 1: the total as a number, with its scope (step, date or datacenter when present).
- Following lines: a breakdown by the most informative dimension in the data that fits the question.
- If there is no matching data, output exactly: No matching data found.

Rules:
- Compute totals from the aggregates in the data, not from number of rows. One row can stand for many failures.
- Do not mention SQL, column names or JSON keys.
- Do not invent filters or ranges that are not in the question or the data.
- No next steps or suggestions.
</instructions>

<context>
SQL Query: %s

Results (%d rows):
%s
</context>

<question>
%s
</question>`, sql, resultCount, formatted, originalQuery)
}

func buildAnalysisNarrationPrompt(originalQuery, sql, formatted string) string {
	return fmt.Sprintf(`<instructions>
Explain the failures in <context> to answer <question>.

Output, in this order:
1) A short summary paragraph of what happened, with the step and date when known.
2) A bulleted list of 2 to 6 key error lines or patterns, each with a plain description and a short direct quote. Group near-duplicates.
3) A diagnosis paragraph: likely causes and scope. No action items.
Then end with a list titled "Work items:" with one line per work item in this exact link format when record_id and work_id are present: <https://gus.lightning.force.com/lightning/r/ADM_Work__c/{record_id}/view|{work_id}>

Style:
- Plain text, no markdown headings.
- Do not mention SQL or column names.
- If the evidence is insufficient, say: Insufficient data to determine root cause.
</instructions>

<context>
SQL Query: %s

%s
</context>

<question>
%s
</question>`, sql, formatted, originalQuery)
}
