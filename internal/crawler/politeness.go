package crawler

import (
	"context"
	"math/rand/v2"
	"time"
)

// HostLimiter throttles requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// pauseController blocks for a duration unless the context ends first.
type pauseController interface {
	Pause(ctx context.Context, d time.Duration) error
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, d time.Duration) error {
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

// politeness spaces out requests with a random delay in [0, jitter) followed
// by the per-host token bucket.
type politeness struct {
	jitter  time.Duration
	limiter HostLimiter
	pauser  pauseController
	randN   func(n int64) int64
}

func newPoliteness(jitter time.Duration, limiter HostLimiter) *politeness {
	return &politeness{
		jitter:  jitter,
		limiter: limiter,
		pauser:  timerPauseController{},
		randN:   rand.Int64N,
	}
}

func (p *politeness) delay() time.Duration {
	if p.jitter <= 0 {
		return 0
	}
	return time.Duration(p.randN(int64(p.jitter)))
}

// Wait applies the jitter delay and then the host limiter for rawURL.
func (p *politeness) Wait(ctx context.Context, rawURL string) error {
	if err := p.pauser.Pause(ctx, p.delay()); err != nil {
		return err
	}
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx, rawURL)
}
