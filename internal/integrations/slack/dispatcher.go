// Package slackbot receives Slack events and drives each one through
// extraction, import or query, and reply.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"failurebot/internal/domain"
	"failurebot/internal/importer"
	"failurebot/internal/metrics"
	"failurebot/internal/query"
)

type Extractor interface {
	Extract(ctx context.Context, query, conversationContext string) domain.ExtractionResult
}

type Planner interface {
	Plan(ctx context.Context, filters domain.FilterSet, intent domain.Intent) (domain.QueryPlan, error)
}

type Executor interface {
	Execute(ctx context.Context, vq query.ValidatedQuery) (domain.RowSet, error)
}

type Composer interface {
	Compose(ctx context.Context, originalQuery string, plan domain.QueryPlan, formatted string, rows domain.RowSet) string
}

type Importer interface {
	ImportLogs(ctx context.Context, caseNumber *int, stepName *string) (domain.ImportSummary, error)
}

// StepCache is the canonical step-name cache the admin command clears.
type StepCache interface {
	Invalidate()
	Size(ctx context.Context) int
}

// Event is one inbound mention or direct message.
type Event struct {
	Channel  string
	User     string
	TS       string
	ThreadTS string
	Text     string
}

type Deps struct {
	Chat      Chat
	Extractor Extractor
	Planner   Planner
	Executor  Executor
	Composer  Composer
	Importer  Importer
	Steps     StepCache
	Dedup     *DedupStore

	Workers       int
	ImportWorkers int
	QueueSize     int
	Threshold     float64
	IsAdmin       func(userID string) bool
}

type Dispatcher struct {
	chat      Chat
	extractor Extractor
	planner   Planner
	executor  Executor
	composer  Composer
	importer  Importer
	steps     StepCache
	dedup     *DedupStore
	threshold float64
	isAdmin   func(string) bool

	queries *Pool
	imports *Pool
}

func NewDispatcher(d Deps) *Dispatcher {
	if d.Dedup == nil {
		d.Dedup = NewDedupStore(0)
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 256
	}
	if d.IsAdmin == nil {
		d.IsAdmin = func(string) bool { return false }
	}
	return &Dispatcher{
		chat:      d.Chat,
		extractor: d.Extractor,
		planner:   d.Planner,
		executor:  d.Executor,
		composer:  d.Composer,
		importer:  d.Importer,
		steps:     d.Steps,
		dedup:     d.Dedup,
		threshold: d.Threshold,
		isAdmin:   d.IsAdmin,
		queries:   NewPool("query", d.Workers, d.QueueSize),
		imports:   NewPool("import", d.ImportWorkers, d.QueueSize),
	}
}

// Close drains queued work. Query handlers may still hand work to the
// import pool, so that pool closes second.
func (d *Dispatcher) Close() {
	d.queries.Close()
	d.imports.Close()
}

// Dispatch deduplicates ev and queues it. It never blocks on the pipeline
// and reports whether a handler was scheduled.
func (d *Dispatcher) Dispatch(ev Event) bool {
	if !d.dedup.FirstSeen(DedupKey(ev.Channel, ev.TS, ev.Text)) {
		log.Printf("dispatch dropped duplicate channel=%s ts=%s", ev.Channel, ev.TS)
		metrics.RecordEvent("dropped")
		return false
	}
	text := stripMentions(ev.Text)
	if text == "" {
		log.Printf("dispatch ignored empty message channel=%s ts=%s", ev.Channel, ev.TS)
		metrics.RecordEvent("empty")
		return false
	}

	reqID := uuid.NewString()
	if err := d.queries.Submit(func() { d.handle(reqID, ev, text) }); err != nil {
		log.Printf("dispatch rejected req=%s channel=%s ts=%s: %v", reqID, ev.Channel, ev.TS, err)
		metrics.RecordEvent("rejected")
		postMessage(d.chat, ev.Channel, ev.TS, busyMessage)
		return false
	}
	log.Printf("dispatch queued req=%s channel=%s ts=%s user=%s", reqID, ev.Channel, ev.TS, ev.User)
	return true
}

// finish delivers the single reply and terminal reaction of an event.
func (d *Dispatcher) finish(ev Event, current, terminal, text, outcome string) {
	postMessage(d.chat, ev.Channel, ev.TS, text)
	removeReaction(d.chat, ev.Channel, ev.TS, current)
	addReaction(d.chat, ev.Channel, ev.TS, terminal)
	metrics.RecordEvent(outcome)
}

func (d *Dispatcher) handle(reqID string, ev Event, text string) {
	ctx := context.Background()
	current := reactionProcessing
	handedOff := false
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch panic req=%s: %v\n%s", reqID, r, debug.Stack())
			if !handedOff {
				d.finish(ev, current, reactionError, genericErrorMessage, "error")
			}
		}
	}()

	log.Printf("dispatch processing req=%s channel=%s text=%q", reqID, ev.Channel, text)
	addReaction(d.chat, ev.Channel, ev.TS, reactionProcessing)

	convCtx := ""
	if ev.ThreadTS != "" && ev.ThreadTS != ev.TS {
		c, err := d.chat.ThreadContext(ev.Channel, ev.ThreadTS, ev.TS)
		if err != nil {
			log.Printf("dispatch thread context error req=%s: %v", reqID, err)
		}
		convCtx = c
	}

	res := d.extractor.Extract(ctx, text, convCtx)
	log.Printf("dispatch extracted req=%s intent=%s confidence=%.2f method=%s relevant=%t filters=%q",
		reqID, res.Intent, res.Confidence, res.Method, res.Relevant, res.Filters.Applied())

	if !res.Relevant {
		log.Printf("dispatch blocked req=%s: %v", reqID, &domain.IrrelevantQueryError{Reason: res.IrrelevantReason})
		d.finish(ev, current, reactionBlocked, irrelevantMessage(res.IrrelevantReason), "blocked")
		return
	}
	if res.Intent == domain.IntentImport {
		handedOff = d.startImport(reqID, ev, res.Filters)
		return
	}
	if res.Intent != domain.IntentMetrics && res.Intent != domain.IntentAnalysis {
		d.finish(ev, current, reactionError, noIntentMessage, "error")
		return
	}

	reply, ok := d.answer(ctx, reqID, text, res)
	if ok {
		d.finish(ev, current, reactionSuccess, reply, "success")
	} else {
		d.finish(ev, current, reactionError, reply, "error")
	}
}

// answer runs plan, validate, execute, format and compose. ok is false when
// the reply describes a failure.
func (d *Dispatcher) answer(ctx context.Context, reqID, text string, res domain.ExtractionResult) (string, bool) {
	plan, err := d.planner.Plan(ctx, res.Filters, res.Intent)
	if err != nil {
		log.Printf("dispatch plan error req=%s: %v", reqID, err)
		return genericErrorMessage, false
	}

	vq, err := query.Validate(plan)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return usageErrorMessage(fmt.Sprintf(validationErrorFormat, verr.Reason)), false
		}
		return genericErrorMessage, false
	}

	rows, err := d.executor.Execute(ctx, vq)
	if err != nil {
		log.Printf("dispatch execute error req=%s: %v", reqID, err)
		body := fmt.Sprintf(processingErrorFormat, "the failure log store could not run the query")
		if shouldHedge(res, d.threshold, 0, true) {
			body = hedge(body, res.Filters)
		}
		return body, false
	}

	question := res.Filters.Query
	if question == "" {
		question = text
	}
	formatted := query.Format(rows, vq.Kind)
	reply := d.composer.Compose(ctx, question, plan, formatted, rows)
	if shouldHedge(res, d.threshold, rows.Len(), false) {
		reply = hedge(reply, res.Filters)
	}
	log.Printf("dispatch answered req=%s kind=%s rows=%d", reqID, vq.Kind, rows.Len())
	return reply, true
}

// startImport queues the import on its own pool and reports whether it did.
// When it returns true the import task owns the event's terminal state.
func (d *Dispatcher) startImport(reqID string, ev Event, f domain.FilterSet) bool {
	caseNumber, stepName := f.CaseNumber, f.StepName
	if caseNumber != nil {
		stepName = nil
	}
	if stepName != nil && strings.TrimSpace(*stepName) == "" {
		stepName = nil
	}
	if caseNumber == nil && stepName == nil {
		d.finish(ev, reactionProcessing, reactionError, missingImportParams, "error")
		return false
	}

	criteria := importer.Criteria(caseNumber, stepName)
	err := d.imports.Submit(func() { d.runImport(reqID, ev, criteria, caseNumber, stepName) })
	if err != nil {
		log.Printf("dispatch import rejected req=%s: %v", reqID, err)
		d.finish(ev, reactionProcessing, reactionError, busyMessage, "rejected")
		return false
	}
	log.Printf("dispatch import queued req=%s %s", reqID, criteria)
	return true
}

func (d *Dispatcher) runImport(reqID string, ev Event, criteria string, caseNumber *int, stepName *string) {
	current := reactionProcessing
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch import panic req=%s: %v\n%s", reqID, r, debug.Stack())
			d.finish(ev, current, reactionError, importFailedMessage(criteria, fmt.Errorf("internal error")), "error")
		}
	}()

	removeReaction(d.chat, ev.Channel, ev.TS, reactionProcessing)
	addReaction(d.chat, ev.Channel, ev.TS, reactionImporting)
	current = reactionImporting

	summary, err := d.importer.ImportLogs(context.Background(), caseNumber, stepName)
	if err != nil {
		log.Printf("dispatch import failed req=%s %s: %v", reqID, criteria, err)
		d.finish(ev, current, reactionError, importFailedMessage(criteria, err), "error")
		return
	}
	text, reaction := importOutcome(criteria, summary)
	outcome := "success"
	if reaction == reactionError {
		outcome = "error"
	}
	d.finish(ev, current, reaction, text, outcome)
}

// RefreshSteps clears the canonical step cache for an admin and returns the
// reply text.
func (d *Dispatcher) RefreshSteps(ctx context.Context, userID string) string {
	if !d.isAdmin(userID) {
		log.Printf("refresh steps denied user=%s", userID)
		return "Only admins can refresh the step name cache."
	}
	d.steps.Invalidate()
	n := d.steps.Size(ctx)
	log.Printf("refresh steps user=%s count=%d", userID, n)
	return fmt.Sprintf("Step name cache refreshed: %d canonical names loaded.", n)
}
