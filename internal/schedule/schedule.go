// Package schedule fires ingestion periods from cron expressions for
// deployments that have no external scheduler.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/orchestrator"
)

// TriggerFunc starts one run for period.
type TriggerFunc func(ctx context.Context, period orchestrator.Period) error

// Entry binds a cron expression to a period.
type Entry struct {
	Period orchestrator.Period
	Spec   string
	expr   *cronexpr.Expression
}

// Scheduler waits for the next due entry and triggers it.
type Scheduler struct {
	entries []Entry
	trigger TriggerFunc
	logger  *zap.Logger
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// New parses specs, keyed by period, into a Scheduler. Empty specs disable
// that period.
func New(specs map[orchestrator.Period]string, trigger TriggerFunc, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var entries []Entry
	for _, period := range []orchestrator.Period{orchestrator.PeriodHourly, orchestrator.PeriodDaily, orchestrator.PeriodAll} {
		spec := specs[period]
		if spec == "" {
			continue
		}
		expr, err := cronexpr.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("parse %s schedule %q: %w", period, spec, err)
		}
		entries = append(entries, Entry{Period: period, Spec: spec, expr: expr})
	}
	if len(entries) == 0 {
		return nil, errors.New("no schedule configured")
	}
	return &Scheduler{
		entries: entries,
		trigger: trigger,
		logger:  logger.Named("schedule"),
		now:     time.Now,
		after:   time.After,
	}, nil
}

// Next returns the soonest fire time after from and the periods due then.
func (s *Scheduler) Next(from time.Time) (time.Time, []orchestrator.Period) {
	var (
		at      time.Time
		periods []orchestrator.Period
	)
	for _, e := range s.entries {
		next := e.expr.Next(from)
		if next.IsZero() {
			continue
		}
		switch {
		case at.IsZero() || next.Before(at):
			at = next
			periods = []orchestrator.Period{e.Period}
		case next.Equal(at):
			periods = append(periods, e.Period)
		}
	}
	return at, periods
}

// Run triggers due periods until ctx is done. Periods due at the same instant
// collapse into one run. Trigger failures are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		now := s.now()
		at, periods := s.Next(now)
		if at.IsZero() {
			return errors.New("schedule has no future fire time")
		}
		s.logger.Debug("next run scheduled", zap.Time("at", at), zap.Any("periods", periods))
		select {
		case <-ctx.Done():
			return nil
		case <-s.after(at.Sub(now)):
		}

		period := merge(periods)
		if err := s.trigger(ctx, period); err != nil {
			if errors.Is(err, orchestrator.ErrRunInProgress) {
				s.logger.Info("scheduled run skipped; another run holds the lock", zap.String("period", string(period)))
				continue
			}
			s.logger.Error("scheduled run failed", zap.String("period", string(period)), zap.Error(err))
		}
	}
	return nil
}

func merge(periods []orchestrator.Period) orchestrator.Period {
	if len(periods) == 1 {
		return periods[0]
	}
	return orchestrator.PeriodAll
}
