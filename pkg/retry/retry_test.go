package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errFlaky = errors.New("flaky")
	errFatal = errors.New("fatal")
)

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestDo(t *testing.T) {
	tests := []struct {
		name          string
		failures      []error
		wantCalls     int
		wantErr       error
		wantExhausted bool
	}{
		{name: "first_try", wantCalls: 1},
		{name: "recovers", failures: []error{errFlaky, errFlaky}, wantCalls: 3},
		{name: "exhausted", failures: []error{errFlaky, errFlaky, errFlaky}, wantCalls: 3, wantErr: errFlaky, wantExhausted: true},
		{name: "fatal_stops_immediately", failures: []error{errFatal}, wantCalls: 1, wantErr: errFatal},
		{name: "fatal_after_flaky", failures: []error{errFlaky, errFatal}, wantCalls: 2, wantErr: errFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var seen []int

			err := Do(context.Background(), Policy{
				MaxAttempts: 3,
				Delay:       time.Millisecond,
				Retryable:   isFlaky,
				OnAttempt:   func(attempt int, _ error) { seen = append(seen, attempt) },
			}, func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}

				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Len(t, seen, min(calls, len(tt.failures)))

			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tt.wantErr)

			var exhausted *ExhaustedError
			assert.Equal(t, tt.wantExhausted, errors.As(err, &exhausted))

			if tt.wantExhausted {
				assert.Equal(t, 3, exhausted.Attempts)
			}
		})
	}
}

func TestDoHonorsFixedDelay(t *testing.T) {
	start := time.Now()

	_ = Do(context.Background(), Policy{MaxAttempts: 3, Delay: 20 * time.Millisecond}, func(context.Context) error {
		return errFlaky
	})

	// two pauses between three attempts
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, Policy{MaxAttempts: 5, Delay: time.Hour}, func(context.Context) error {
		calls++
		cancel()

		return errFlaky
	})

	assert.Equal(t, 1, calls)
	require.ErrorIs(t, err, errFlaky)
}

func TestDoRejectsZeroAttempts(t *testing.T) {
	err := Do(context.Background(), Policy{}, func(context.Context) error { return nil })
	require.Error(t, err)
}
