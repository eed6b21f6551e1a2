package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingPauser struct {
	pauses []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.pauses = append(p.pauses, d)
	return ctx.Err()
}

type recordingLimiter struct {
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.urls = append(l.urls, rawURL)
	return l.err
}

func TestTimerPauseControllerHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := timerPauseController{}.Pause(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")

	require.NoError(t, timerPauseController{}.Pause(context.Background(), time.Millisecond))
}

func TestPolitenessJitterWithinBounds(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{}
	pauser := &recordingPauser{}
	p := newPoliteness(200*time.Millisecond, limiter)
	p.pauser = pauser
	var bounds []int64
	p.randN = func(n int64) int64 {
		bounds = append(bounds, n)
		return n - 1
	}

	require.NoError(t, p.Wait(context.Background(), "https://shop.example.com/a"))
	require.Equal(t, []int64{int64(200 * time.Millisecond)}, bounds)
	require.Equal(t, []time.Duration{200*time.Millisecond - 1}, pauser.pauses)
	require.Equal(t, []string{"https://shop.example.com/a"}, limiter.urls)

	for range 100 {
		d := newPoliteness(50*time.Millisecond, nil).delay()
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, 50*time.Millisecond)
	}
}

func TestPolitenessWithoutJitter(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	p := newPoliteness(0, nil)
	p.pauser = pauser
	require.NoError(t, p.Wait(context.Background(), "https://shop.example.com/"))
	require.Equal(t, []time.Duration{0}, pauser.pauses)
}

func TestPolitenessPropagatesLimiterError(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{err: errors.New("rate: Wait(n=1) would exceed context deadline")}
	p := newPoliteness(0, limiter)
	require.Error(t, p.Wait(context.Background(), "https://shop.example.com/"))
}
