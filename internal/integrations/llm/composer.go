package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"failurebot/internal/domain"
	"failurebot/internal/metrics"
)

const narrationUnavailable = "Unfortunately, I couldn't generate a detailed summary at this time."

// Composer narrates formatted query results.
type Composer struct {
	client Client
}

func NewComposer(client Client) *Composer {
	return &Composer{client: client}
}

// Compose returns the model's narration verbatim. When every attempt fails
// it falls back to a short deterministic summary of rows.
func (c *Composer) Compose(ctx context.Context, originalQuery string, plan domain.QueryPlan, formatted string, rows domain.RowSet) string {
	var prompt string
	if plan.Kind == domain.IntentAnalysis {
		prompt = buildAnalysisNarrationPrompt(originalQuery, plan.SQL, formatted)
	} else {
		prompt = buildMetricsNarrationPrompt(originalQuery, plan.SQL, formatted, rows.Len())
	}

	var text string
	err := withRetry(ctx, "compose", func() error {
		out, usage, err := c.client.Complete(ctx, narrationSystemPrompt, prompt)
		metrics.RecordLLMCall("compose", usage.InputTokens, usage.OutputTokens, err)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errors.New("empty narration")
		}
		text = out
		return nil
	})
	if err != nil {
		log.Printf("llm compose falling back kind=%s rows=%d: %v", plan.Kind, rows.Len(), err)
		return fallbackNarration(plan.Kind, rows)
	}
	return text
}

func fallbackNarration(kind domain.Intent, rows domain.RowSet) string {
	if rows.Len() == 0 {
		return "No matching records found for your query."
	}
	if kind == domain.IntentAnalysis {
		return fmt.Sprintf("Found %d failure records for analysis. %s", rows.Len(), narrationUnavailable)
	}
	for _, col := range rows.Columns {
		total, ok := sumColumn(rows, col)
		if ok {
			return fmt.Sprintf("Found %s: %s. %s", col, total, narrationUnavailable)
		}
	}
	return fmt.Sprintf("Found %d matching records. %s", rows.Len(), narrationUnavailable)
}

// sumColumn totals col when its first non-nil value is numeric.
func sumColumn(rows domain.RowSet, col string) (string, bool) {
	var total float64
	integral := true
	seen := false
	for _, r := range rows.Rows {
		switch v := r[col].(type) {
		case nil:
			continue
		case int64:
			total += float64(v)
		case float64:
			total += v
			if v != float64(int64(v)) {
				integral = false
			}
		default:
			if !seen {
				return "", false
			}
			continue
		}
		seen = true
	}
	if !seen {
		return "", false
	}
	if integral {
		return fmt.Sprintf("%d", int64(total)), true
	}
	return fmt.Sprintf("%.2f", total), true
}
