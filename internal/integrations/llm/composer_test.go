package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"failurebot/internal/domain"
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryInitialDelay
	retryInitialDelay = time.Millisecond
	t.Cleanup(func() { retryInitialDelay = prev })
}

func TestComposeReturnsNarrationVerbatim(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{text: "11 SSH_TO_ALL_HOSTS failures in May 2025.\n"}}}
	plan := domain.QueryPlan{SQL: "SELECT COUNT(*) AS failures FROM pmd_failure_logs", Kind: domain.IntentMetrics}
	rows := domain.RowSet{Columns: []string{"failures"}, Rows: []domain.Row{{"failures": int64(11)}}}

	got := NewComposer(client).Compose(context.Background(), "How many SSH failures in May 2025?", plan, "formatted", rows)
	if got != "11 SSH_TO_ALL_HOSTS failures in May 2025.\n" {
		t.Fatalf("got %q", got)
	}
	prompt := client.prompts[0]
	if !strings.Contains(prompt, "not from number of rows") || !strings.Contains(prompt, "Results (1 rows)") {
		t.Fatalf("metrics prompt missing aggregate rule:\n%s", prompt)
	}
}

func TestComposeRetriesThenSucceeds(t *testing.T) {
	fastRetries(t)
	client := &fakeClient{responses: []fakeResponse{
		{err: errors.New("timeout")},
		{text: "  "},
		{text: "Summary.\n• error one\nWork items:\n<https://gus.lightning.force.com/lightning/r/ADM_Work__c/a0X/view|W-1>"},
	}}
	plan := domain.QueryPlan{SQL: "SELECT content FROM pmd_failure_logs", Kind: domain.IntentAnalysis}
	got := NewComposer(client).Compose(context.Background(), "why?", plan, "formatted", domain.RowSet{})
	if !strings.HasPrefix(got, "Summary.") {
		t.Fatalf("got %q", got)
	}
	if client.calls() != 3 {
		t.Fatalf("calls = %d, want 3", client.calls())
	}
	if !strings.Contains(client.prompts[0], "Work items:") {
		t.Fatal("analysis template not used")
	}
}

func TestComposeFallbacks(t *testing.T) {
	fastRetries(t)
	failAll := func() *fakeClient {
		return &fakeClient{responses: []fakeResponse{{err: errors.New("a")}, {err: errors.New("b")}, {err: errors.New("c")}}}
	}
	tests := []struct {
		name string
		kind domain.Intent
		rows domain.RowSet
		want string
	}{
		{"analysis", domain.IntentAnalysis, domain.RowSet{Rows: []domain.Row{{}, {}}},
			"Found 2 failure records for analysis. Unfortunately, I couldn't generate a detailed summary at this time."},
		{"metrics empty", domain.IntentMetrics, domain.RowSet{}, "No matching records found for your query."},
		{"analysis empty", domain.IntentAnalysis, domain.RowSet{}, "No matching records found for your query."},
		{"metrics totals first numeric column", domain.IntentMetrics, domain.RowSet{
			Columns: []string{"step_name", "failures"},
			Rows:    []domain.Row{{"step_name": "A", "failures": int64(4)}, {"step_name": "B", "failures": int64(7)}},
		}, "Found failures: 11. Unfortunately, I couldn't generate a detailed summary at this time."},
		{"metrics no numbers", domain.IntentMetrics, domain.RowSet{
			Columns: []string{"step_name"},
			Rows:    []domain.Row{{"step_name": "A"}},
		}, "Found 1 matching records. Unfortunately, I couldn't generate a detailed summary at this time."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := failAll()
			got := NewComposer(client).Compose(context.Background(), "q", domain.QueryPlan{Kind: tt.kind}, "f", tt.rows)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if client.calls() != retryAttempts {
				t.Fatalf("calls = %d, want %d", client.calls(), retryAttempts)
			}
		})
	}
}
