// Package retention expires documents that have not been seen within the
// configured window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	"github.com/JakeFAU/retail-content-ingestor/internal/metrics"
)

// ErrInvalidMaxAge is returned when the retention window is not positive.
var ErrInvalidMaxAge = errors.New("retention max age must be positive")

// Deleter removes points whose freshness epoch is below a cutoff.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoffMillis int64) error
}

// Cleaner runs the retention delete.
type Cleaner struct {
	store  Deleter
	clock  ingest.Clock
	maxAge time.Duration
	logger *zap.Logger
}

// New creates a Cleaner.
func New(store Deleter, clock ingest.Clock, maxAge time.Duration, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		store:  store,
		clock:  clock,
		maxAge: maxAge,
		logger: logger.Named("retention"),
	}
}

// Cutoff returns the freshness epoch (milliseconds) below which documents
// are deleted.
func (c *Cleaner) Cutoff() int64 {
	return c.clock.Now().Add(-c.maxAge).UnixMilli()
}

// Run deletes every document, across all sources, last seen before
// now - maxAge. A document seen exactly at the cutoff is kept.
func (c *Cleaner) Run(ctx context.Context) error {
	if c.maxAge <= 0 {
		metrics.ObserveCleanup("error")
		return ErrInvalidMaxAge
	}
	cutoff := c.Cutoff()
	if err := c.store.DeleteOlderThan(ctx, cutoff); err != nil {
		metrics.ObserveCleanup("error")
		return fmt.Errorf("delete documents older than %d: %w", cutoff, err)
	}
	metrics.ObserveCleanup("success")
	c.logger.Info("retention cleanup finished",
		zap.Int64("cutoff_epoch_ms", cutoff),
		zap.Duration("max_age", c.maxAge),
	)
	return nil
}
