package query

import (
	"context"
	"log"
	"time"

	"failurebot/internal/domain"
	"failurebot/internal/metrics"
)

// RowQuerier runs a read-only statement and returns every row or an error.
type RowQuerier interface {
	QueryReadOnly(ctx context.Context, query string) (domain.RowSet, error)
}

type Executor struct {
	store RowQuerier
}

func NewExecutor(store RowQuerier) *Executor {
	return &Executor{store: store}
}

// Execute runs vq. Failures come back as *domain.ExecutionError with an
// empty row set.
func (e *Executor) Execute(ctx context.Context, vq ValidatedQuery) (domain.RowSet, error) {
	start := time.Now()
	rows, err := e.store.QueryReadOnly(ctx, vq.SQL)
	metrics.ObserveQuery(string(vq.Kind), time.Since(start))
	if err != nil {
		log.Printf("query execute error kind=%s: %v", vq.Kind, err)
		return domain.RowSet{}, &domain.ExecutionError{Err: err}
	}
	log.Printf("query execute kind=%s rows=%d duration=%s", vq.Kind, rows.Len(), time.Since(start).Round(time.Millisecond))
	return rows, nil
}
