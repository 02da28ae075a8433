package conversation

import (
	"context"
	"fmt"
	"time"

	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
)

// StoreRetry bounds how often a single store call is attempted.
type StoreRetry struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultStoreRetry is three attempts with a short linear backoff.
var DefaultStoreRetry = StoreRetry{Attempts: 3, Backoff: 200 * time.Millisecond}

// withStore runs fn until it succeeds, fails permanently or runs out of
// attempts. Exhausted retries are wrapped with ErrStoreUnavailable.
func (e *Engine) withStore(ctx context.Context, flow Flow, op string, fn func(context.Context) error) error {
	attempts := e.storeRetry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if domain.IsPermanentStoreError(err) {
			return err
		}

		e.flowLogger(flow).WithError(err).WithFields(logging.Fields{
			"event":     "flow_store_retry",
			"operation": op,
			"attempt":   attempt,
		}).Warn("store call failed")

		if attempt == attempts {
			break
		}

		delay := e.storeRetry.Backoff * time.Duration(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
