package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type refusedErr struct{}

func (refusedErr) Error() string   { return "refused" }
func (refusedErr) Timeout() bool   { return false }
func (refusedErr) Temporary() bool { return false }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxAttempts: 3})
	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"plain error", errors.New("boom"), 1, true},
		{"attempts exhausted", errors.New("boom"), 3, false},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), 1, false},
		{"deadline", context.DeadlineExceeded, 1, false},
		{"permanent", Permanent(errors.New("bad request")), 1, false},
		{"net timeout", timeoutErr{}, 1, true},
		{"net non-timeout", refusedErr{}, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond})
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxAttempts: 5, BaseDelay: time.Millisecond})
	calls := 0
	sentinel := errors.New("forbidden")
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}
