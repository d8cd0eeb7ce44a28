package llm

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const retryAttempts = 3

var retryInitialDelay = 300 * time.Millisecond

// withRetry runs fn up to retryAttempts times, doubling the delay between
// attempts. It stops early if ctx is done.
func withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, fn()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(retryAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("llm %s attempt=%d/%d retry_in=%s error: %v", op, attempt, retryAttempts, next, err)
		}),
	)
	return err
}
