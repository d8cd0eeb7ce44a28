package schedule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"failurebot/internal/config"
	"failurebot/internal/domain"
)

type fakeImporter struct {
	mu    sync.Mutex
	steps []string
	fail  map[string]error
}

func (f *fakeImporter) ImportLogs(_ context.Context, caseNumber *int, stepName *string) (domain.ImportSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, *stepName)
	if err := f.fail[*stepName]; err != nil {
		return domain.ImportSummary{}, err
	}
	return domain.ImportSummary{TotalAttachments: 1, ProcessedAttachments: 1, SuccessfulLogs: 1, StoredRecords: 1}, nil
}

type fakePoster struct {
	mu    sync.Mutex
	posts []string
}

func (p *fakePoster) PostMessage(channel, threadTS, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, channel+"|"+text)
	return nil
}

type fakeCache struct{ invalidated atomic.Int32 }

func (c *fakeCache) Invalidate()              { c.invalidated.Add(1) }
func (c *fakeCache) Size(context.Context) int { return 3 }

// tickSchedule fires every d regardless of the cron grid.
type tickSchedule time.Duration

func (s tickSchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(s)) }

func TestParse(t *testing.T) {
	for _, expr := range []string{"0 6 * * *", " 30 7 * * 1-5 ", "*/15 * * * *"} {
		if _, err := Parse(expr); err != nil {
			t.Fatalf("Parse(%q): %v", expr, err)
		}
	}
	for _, expr := range []string{"", "0 6 * *", "every day", "0 0 6 * * *"} {
		if _, err := Parse(expr); err == nil {
			t.Fatalf("Parse(%q) should fail", expr)
		}
	}
}

func TestImportStepsSummarisesEachStep(t *testing.T) {
	imp := &fakeImporter{fail: map[string]error{"KM_VALIDATION_RELENG": errors.New("listing attachments: boom")}}
	lines := ImportSteps(context.Background(), imp, []string{"SSH_TO_ALL_HOSTS", " ", "KM_VALIDATION_RELENG", "GRIDFORCE_APP_LOG_COPY"})

	if len(imp.steps) != 3 {
		t.Fatalf("imported steps = %v", imp.steps)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "step SSH_TO_ALL_HOSTS") || !strings.Contains(lines[0], "1") {
		t.Fatalf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Import failed for step KM_VALIDATION_RELENG") {
		t.Fatalf("failed line = %q", lines[1])
	}
}

func TestImportStepsStopsOnAuthFailure(t *testing.T) {
	imp := &fakeImporter{fail: map[string]error{"A": &domain.ImportAuthError{Err: errors.New("INVALID_LOGIN")}}}
	lines := ImportSteps(context.Background(), imp, []string{"A", "B", "C"})
	if len(imp.steps) != 1 {
		t.Fatalf("imported steps = %v, want only A", imp.steps)
	}
	if len(lines) != 2 || !strings.Contains(lines[1], "Skipped 2 remaining") {
		t.Fatalf("lines = %q", lines)
	}
}

func TestEveryRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan struct{}, 8)
	done := make(chan struct{})
	go func() {
		every(ctx, "test", tickSchedule(5*time.Millisecond), time.UTC, func(context.Context) { runs <- struct{}{} })
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestStartAutoImportDisabledWithoutSchedule(t *testing.T) {
	imp := &fakeImporter{}
	poster := &fakePoster{}
	cfg := config.Config{AutoImportSteps: []string{"A"}, Location: time.UTC}
	StartAutoImport(context.Background(), cfg, imp, poster)

	cfg.AutoImportSchedule = "not a cron"
	cfg.SalesforceLoginURL, cfg.SalesforceUsername = "https://login.example.com", "bot"
	cfg.SalesforcePassword, cfg.SalesforceSecurityToken = "pw", "tok"
	StartAutoImport(context.Background(), cfg, imp, poster)

	time.Sleep(10 * time.Millisecond)
	if len(imp.steps) != 0 || len(poster.posts) != 0 {
		t.Fatalf("disabled scheduler did work: steps=%v posts=%v", imp.steps, poster.posts)
	}
}

func TestStartStepRefreshRejectsBadSchedule(t *testing.T) {
	cache := &fakeCache{}
	StartStepRefresh(context.Background(), config.Config{StepRefreshSchedule: "61 * * * *"}, cache)
	StartStepRefresh(context.Background(), config.Config{}, cache)
	if cache.invalidated.Load() != 0 {
		t.Fatalf("invalidated = %d", cache.invalidated.Load())
	}
}
