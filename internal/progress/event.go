package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes what an Event reports.
type Stage string

// Supported stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	// StageDocument reports an indexer outcome for one (source, url).
	StageDocument Stage = "DOCUMENT"
	// StageFailure reports a page or post that could not be processed.
	StageFailure Stage = "FAILURE"
)

// Event captures one milestone of a run.
type Event struct {
	// RunID is the 16-byte form of the run's UUID.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Source and URL identify the document for DOCUMENT and FAILURE events.
	Source string
	URL    string
	// Outcome is the indexer outcome (added, replaced, unchanged, skipped).
	Outcome     string
	ContentHash string
	Chunks      int
	// Note carries short context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageDocument:
		if e.Source == "" || e.URL == "" {
			return errors.New("document event requires source and url")
		}
		if e.Outcome == "" {
			return errors.New("document event requires outcome")
		}
	case StageFailure:
		if e.Source == "" || e.URL == "" {
			return errors.New("failure event requires source and url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Chunks < 0 {
		return errors.New("chunks must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run id to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

type runIDKey struct{}

// WithRunID returns a context carrying id. Producers read it back with
// RunIDFromContext to tag their events.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, UUIDToBytes(id))
}

// RunIDFromContext returns the run id stored by WithRunID.
func RunIDFromContext(ctx context.Context) ([16]byte, bool) {
	id, ok := ctx.Value(runIDKey{}).([16]byte)
	return id, ok
}

// EmitFor stamps evt with the run id from ctx and the time now, then emits
// it. Events outside a run, or with a nil emitter, are dropped.
func EmitFor(ctx context.Context, emitter Emitter, now time.Time, evt Event) {
	if emitter == nil {
		return
	}
	id, ok := RunIDFromContext(ctx)
	if !ok {
		return
	}
	evt.RunID = id
	evt.TS = now
	emitter.Emit(evt)
}
