package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Change records what one run did to one (source, url).
type Change struct {
	RunID  uuid.UUID
	Source string
	URL    string
	// Outcome is added, replaced, unchanged, skipped or failed.
	Outcome     string
	ContentHash string
	Chunks      int
	Note        string
	At          time.Time
}

// ChangeRepository persists the per-run change log.
type ChangeRepository interface {
	// AppendChanges stores changes; order within a run is preserved.
	AppendChanges(ctx context.Context, changes []Change) error
	// ListChanges returns the changes of one run in the order they happened.
	ListChanges(ctx context.Context, runID uuid.UUID, limit, offset int) ([]Change, error)
}
