// Package retry provides a bounded, fixed-delay retry helper.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errInvalidAttempts = errors.New("max attempts must be at least 1")

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// Retryable reports whether err is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(err error) bool
	// OnAttempt, if set, is called after every failed attempt.
	OnAttempt func(attempt int, err error)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. Non-retryable errors are returned as-is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		return errInvalidAttempts
	}

	var last error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return &ExhaustedError{Attempts: attempt - 1, Last: last}
			}

			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}

		if p.OnAttempt != nil {
			p.OnAttempt(attempt, last)
		}

		if p.Retryable != nil && !p.Retryable(last) {
			return last
		}

		if attempt == p.MaxAttempts {
			break
		}

		if err := sleep(ctx, p.Delay); err != nil {
			return &ExhaustedError{Attempts: attempt, Last: last}
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
