package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"failurebot/internal/config"
	"failurebot/internal/domain"
	"failurebot/internal/metrics"
)

// Planner asks the model to write the SQL for a metrics or analysis request.
type Planner struct {
	client  Client
	dialect string
}

func NewPlanner(client Client, dbDriver string) *Planner {
	dialect := "SQLite"
	if dbDriver == config.DriverPostgres {
		dialect = "PostgreSQL"
	}
	return &Planner{client: client, dialect: dialect}
}

type plannedQuery struct {
	SQLQuery    string `json:"sql_query"`
	Explanation string `json:"explanation"`
}

func (p *Planner) Plan(ctx context.Context, filters domain.FilterSet, intent domain.Intent) (domain.QueryPlan, error) {
	if intent != domain.IntentMetrics && intent != domain.IntentAnalysis {
		return domain.QueryPlan{}, fmt.Errorf("cannot plan a query for intent %q", intent)
	}

	system, user := buildPlanningPrompts(filters, intent, p.dialect)
	call, usage, err := p.client.SelectTool(ctx, system, user, planningTools(intent, p.dialect))
	metrics.RecordLLMCall("plan", usage.InputTokens, usage.OutputTokens, err)
	if err != nil {
		return domain.QueryPlan{}, fmt.Errorf("planning query: %w", err)
	}

	var args plannedQuery
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return domain.QueryPlan{}, fmt.Errorf("parsing %s arguments: %w", call.Name, err)
	}
	sql := strings.TrimSpace(args.SQLQuery)
	if sql == "" {
		return domain.QueryPlan{}, fmt.Errorf("tool %s returned no sql_query", call.Name)
	}

	kind := intent
	switch call.Name {
	case metricsToolName:
		kind = domain.IntentMetrics
	case analysisToolName:
		kind = domain.IntentAnalysis
	default:
		log.Printf("llm plan unexpected tool=%s, keeping intent=%s", call.Name, intent)
	}

	log.Printf("llm plan tool=%s kind=%s sql=%q", call.Name, kind, sql)
	return domain.QueryPlan{SQL: sql, Explanation: strings.TrimSpace(args.Explanation), Kind: kind}, nil
}
