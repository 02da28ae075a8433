// Package dispatch defines how a finished QR payload reaches a chat and how
// delivery failures are classified and retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vietqr_bot/internal/logging"
)

// Card is the human-readable panel drawn next to the QR code.
type Card struct {
	BankName      string
	HolderName    string
	AccountNumber string
	Amount        string
	Note          string
}

// Layout is passed through to the gateway untouched. X and Y are nil when the
// renderer should pick the placement itself.
type Layout struct {
	BackgroundPath string
	X              *int
	Y              *int
	Size           int
}

// Request is one QR delivery.
type Request struct {
	ChatID  int64
	Payload string
	Caption string
	Card    Card
	Layout  Layout
}

// Gateway posts a rendered QR code into a chat.
type Gateway interface {
	Send(ctx context.Context, req Request) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) error

// Send calls f.
func (f GatewayFunc) Send(ctx context.Context, req Request) error {
	return f(ctx, req)
}

type classifiedError struct {
	err       error
	permanent bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, permanent: true}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err}
}

// IsPermanent reports whether err was classified permanent.
func IsPermanent(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.permanent
}

// IsTransient reports whether err may succeed on retry. Unclassified errors
// count as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// RetryPolicy bounds Deliver.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is used when the caller has no preference.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 500 * time.Millisecond}

// Deliver sends req through gw, retrying transient failures with linear
// backoff. Permanent failures and context cancellation stop immediately.
func Deliver(ctx context.Context, gw Gateway, req Request, policy RetryPolicy) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if gw == nil {
		return Permanent(errors.New("dispatch gateway is not configured"))
	}

	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	logger := logging.WithContext(logging.Context{ChatID: req.ChatID})

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = gw.Send(ctx, req)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return fmt.Errorf("deliver to chat %d: %w", req.ChatID, lastErr)
		}
		if attempt == attempts {
			break
		}

		logger.WithError(lastErr).WithFields(logging.Fields{
			"event":   "dispatch_retry",
			"attempt": attempt,
		}).Warn("dispatch failed, retrying")

		if err := wait(ctx, policy.Backoff*time.Duration(attempt)); err != nil {
			return fmt.Errorf("deliver to chat %d: %w", req.ChatID, Permanent(err))
		}
	}

	return fmt.Errorf("deliver to chat %d after %d attempts: %w", req.ChatID, attempts, Transient(lastErr))
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
