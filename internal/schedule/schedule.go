// Package schedule runs the cron-driven background jobs: the periodic
// import of failed step logs and the step-name cache refresh.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"failurebot/internal/config"
	"failurebot/internal/domain"
	"failurebot/internal/importer"
	slackbot "failurebot/internal/integrations/slack"
)

type Importer interface {
	ImportLogs(ctx context.Context, caseNumber *int, stepName *string) (domain.ImportSummary, error)
}

type Poster interface {
	PostMessage(channel, threadTS, text string) error
}

type StepCache interface {
	Invalidate()
	Size(ctx context.Context) int
}

// Parse accepts a standard 5-field cron expression (minute hour
// day-of-month month day-of-week), e.g. "0 6 * * *" or "30 7 * * 1-5".
func Parse(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

// ImportSteps imports each step in turn and returns one summary line per
// step. An authentication failure aborts the remaining steps since they
// would fail the same way.
func ImportSteps(ctx context.Context, imp Importer, steps []string) []string {
	var lines []string
	for i, step := range steps {
		step = strings.TrimSpace(step)
		if step == "" {
			continue
		}
		s, err := imp.ImportLogs(ctx, nil, &step)
		criteria := importer.Criteria(nil, &step)
		lines = append(lines, slackbot.FormatImportSummary(criteria, s, err))
		if err != nil {
			log.Printf("auto-import error step=%s: %v", step, err)
			var authErr *domain.ImportAuthError
			if errors.As(err, &authErr) {
				if rest := len(steps) - i - 1; rest > 0 {
					lines = append(lines, fmt.Sprintf("Skipped %d remaining step(s) after the Salesforce login failure.", rest))
				}
				break
			}
		}
	}
	return lines
}

// StartAutoImport schedules ImportSteps for cfg.AutoImportSteps and posts
// the summary to the report channel. It returns immediately; the loop stops
// when ctx is cancelled.
func StartAutoImport(ctx context.Context, cfg config.Config, imp Importer, poster Poster) {
	expr := strings.TrimSpace(cfg.AutoImportSchedule)
	if expr == "" {
		log.Println("Auto-import disabled (auto_import_schedule not set)")
		return
	}
	if !cfg.SalesforceConfigured() {
		log.Println("Auto-import disabled: Salesforce is not configured")
		return
	}
	if len(cfg.AutoImportSteps) == 0 {
		log.Println("Auto-import disabled: auto_import_steps is empty")
		return
	}
	sched, err := Parse(expr)
	if err != nil {
		log.Printf("Invalid auto_import_schedule '%s': %v. Auto-import disabled", expr, err)
		return
	}
	log.Printf("Auto-import scheduled (cron: %s) for %d step(s)", expr, len(cfg.AutoImportSteps))

	go every(ctx, "auto-import", sched, cfg.Location, func(ctx context.Context) {
		lines := ImportSteps(ctx, imp, cfg.AutoImportSteps)
		summary := strings.Join(lines, "\n")
		log.Printf("Auto-import complete steps=%d", len(cfg.AutoImportSteps))
		if cfg.ReportChannelID == "" || summary == "" {
			return
		}
		if err := poster.PostMessage(cfg.ReportChannelID, "", "Scheduled import complete:\n"+summary); err != nil {
			log.Printf("Auto-import post error: %v", err)
		}
	})
}

// StartStepRefresh periodically drops the cached step-name vocabulary so
// names added to the catalog are picked up without a restart.
func StartStepRefresh(ctx context.Context, cfg config.Config, cache StepCache) {
	expr := strings.TrimSpace(cfg.StepRefreshSchedule)
	if expr == "" {
		log.Println("Step refresh disabled (step_refresh_schedule not set)")
		return
	}
	sched, err := Parse(expr)
	if err != nil {
		log.Printf("Invalid step_refresh_schedule '%s': %v. Step refresh disabled", expr, err)
		return
	}
	log.Printf("Step refresh scheduled (cron: %s)", expr)

	go every(ctx, "step-refresh", sched, cfg.Location, func(ctx context.Context) {
		cache.Invalidate()
		log.Printf("Step refresh complete count=%d", cache.Size(ctx))
	})
}

func every(ctx context.Context, name string, sched cron.Schedule, loc *time.Location, run func(context.Context)) {
	if loc == nil {
		loc = time.Local
	}
	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		if next.IsZero() {
			log.Printf("%s schedule has no future runs, stopping", name)
			return
		}
		wait := next.Sub(now)
		log.Printf("Next %s at %s (in %s)", name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		run(ctx)
	}
}
