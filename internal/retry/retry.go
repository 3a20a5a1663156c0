// Package retry is the bounded-retry-with-fixed-delay wrapper every remote
// call in this agent goes through. It performs no deduplication: operations
// must be idempotent or safely retryable by the caller's contract.
package retry

import (
	"context"
	"fmt"
	"time"
)

// ExhaustedError is returned when every attempt failed. It carries the last
// observed cause, which errors.Is/As can reach through Unwrap.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls op up to attempts times, sleeping delay between failures, and
// returns the first success. Between attempts the context is honored, so an
// externally-terminated process does not sit out its remaining budget. There
// is no per-attempt timeout: a hung op stalls the whole call.
func Do[T any](ctx context.Context, attempts int, delay time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if i == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: last}
}
