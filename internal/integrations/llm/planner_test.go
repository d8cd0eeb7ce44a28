package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"failurebot/internal/config"
	"failurebot/internal/domain"
)

func TestPlanSelectsToolByIntent(t *testing.T) {
	tests := []struct {
		intent   domain.Intent
		toolName string
	}{
		{domain.IntentMetrics, metricsToolName},
		{domain.IntentAnalysis, analysisToolName},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			client := &fakeClient{responses: []fakeResponse{{call: toolCall(tt.toolName, " SELECT 1 FROM pmd_failure_logs ", "one")}}}
			filters := domain.FilterSet{StepName: domain.StringPtr("SSH_TO_ALL_HOSTS"), Query: "How many SSH failures?"}

			plan, err := NewPlanner(client, config.DriverSQLite).Plan(context.Background(), filters, tt.intent)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if plan.Kind != tt.intent || plan.SQL != "SELECT 1 FROM pmd_failure_logs" || plan.Explanation != "one" {
				t.Fatalf("unexpected plan: %+v", plan)
			}
			offered := client.tools[0]
			if len(offered) != 1 || offered[0].Name != tt.toolName {
				t.Fatalf("offered tools = %+v", offered)
			}
			if !strings.Contains(client.prompts[0], "- step SSH_TO_ALL_HOSTS") {
				t.Fatalf("filters missing from prompt:\n%s", client.prompts[0])
			}
		})
	}
}

func TestPlanErrors(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	filters := domain.FilterSet{ReportDate: &date}

	if _, err := NewPlanner(&fakeClient{}, config.DriverSQLite).Plan(ctx, filters, domain.IntentImport); err == nil {
		t.Fatal("import intent should not be planned")
	}

	failing := &fakeClient{responses: []fakeResponse{{err: errors.New("overloaded")}}}
	if _, err := NewPlanner(failing, config.DriverSQLite).Plan(ctx, filters, domain.IntentMetrics); err == nil {
		t.Fatal("expected model error to propagate")
	}

	empty := &fakeClient{responses: []fakeResponse{{call: toolCall(metricsToolName, "  ", "nothing")}}}
	if _, err := NewPlanner(empty, config.DriverSQLite).Plan(ctx, filters, domain.IntentMetrics); err == nil {
		t.Fatal("expected error for empty sql_query")
	}

	garbage := &fakeClient{responses: []fakeResponse{{call: ToolCall{Name: metricsToolName, Input: []byte("not json")}}}}
	if _, err := NewPlanner(garbage, config.DriverSQLite).Plan(ctx, filters, domain.IntentMetrics); err == nil {
		t.Fatal("expected error for malformed tool arguments")
	}
}

func TestPlannerDialectFollowsDriver(t *testing.T) {
	if p := NewPlanner(nil, config.DriverPostgres); p.dialect != "PostgreSQL" {
		t.Fatalf("dialect = %s", p.dialect)
	}
	if p := NewPlanner(nil, config.DriverSQLite); p.dialect != "SQLite" {
		t.Fatalf("dialect = %s", p.dialect)
	}
}
