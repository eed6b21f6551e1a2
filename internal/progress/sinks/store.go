package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/retail-content-ingestor/internal/progress"
	"github.com/JakeFAU/retail-content-ingestor/internal/store"
)

// OutcomeFailed is the change outcome recorded for FAILURE events.
const OutcomeFailed = "failed"

// StoreSink appends DOCUMENT and FAILURE events to the run change log. Run
// lifecycle events are ignored; run history is written by the orchestrator.
type StoreSink struct {
	repo store.ChangeRepository
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.ChangeRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Consume converts the batch and writes it in one call.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	changes := make([]store.Change, 0, len(batch))
	for _, evt := range batch {
		var outcome string
		switch evt.Stage {
		case progress.StageDocument:
			outcome = evt.Outcome
		case progress.StageFailure:
			outcome = OutcomeFailed
		default:
			continue
		}
		changes = append(changes, store.Change{
			RunID:       evt.RunUUID(),
			Source:      evt.Source,
			URL:         evt.URL,
			Outcome:     outcome,
			ContentHash: evt.ContentHash,
			Chunks:      evt.Chunks,
			Note:        evt.Note,
			At:          evt.TS,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	if err := s.repo.AppendChanges(ctx, changes); err != nil {
		return fmt.Errorf("append changes: %w", err)
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
