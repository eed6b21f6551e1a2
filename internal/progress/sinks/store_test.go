package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/retail-content-ingestor/internal/progress"
	"github.com/JakeFAU/retail-content-ingestor/internal/storage/memory"
	"github.com/JakeFAU/retail-content-ingestor/internal/store"
)

func TestStoreSinkRecordsDocumentsAndFailures(t *testing.T) {
	t.Parallel()

	repo := memory.NewChangeStore()
	sink := NewStoreSink(repo)
	runID := uuid.New()
	ts := time.Unix(1700000000, 0).UTC()

	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(runID), TS: ts, Stage: progress.StageRunStart},
		{
			RunID: progress.UUIDToBytes(runID), TS: ts, Stage: progress.StageDocument,
			Source: "acme", URL: "https://acme.test/", Outcome: "replaced", ContentHash: "abc", Chunks: 4,
		},
		{
			RunID: progress.UUIDToBytes(runID), TS: ts, Stage: progress.StageFailure,
			Source: "acme", URL: "https://acme.test/broken", Note: "status 500",
		},
		{RunID: progress.UUIDToBytes(runID), TS: ts, Stage: progress.StageRunDone},
	})
	require.NoError(t, err)

	changes, err := repo.ListChanges(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []store.Change{
		{RunID: runID, Source: "acme", URL: "https://acme.test/", Outcome: "replaced", ContentHash: "abc", Chunks: 4, At: ts},
		{RunID: runID, Source: "acme", URL: "https://acme.test/broken", Outcome: OutcomeFailed, Note: "status 500", At: ts},
	}, changes)
}

func TestStoreSinkSkipsLifecycleOnlyBatches(t *testing.T) {
	t.Parallel()

	repo := &failingRepo{}
	sink := NewStoreSink(repo)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunStart},
	})
	require.NoError(t, err)
	require.Zero(t, repo.calls)
}

func TestStoreSinkWrapsRepositoryErrors(t *testing.T) {
	t.Parallel()

	repo := &failingRepo{}
	sink := NewStoreSink(repo)
	err := sink.Consume(context.Background(), []progress.Event{
		{
			RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageDocument,
			Source: "acme", URL: "https://acme.test/", Outcome: "added",
		},
	})
	require.ErrorContains(t, err, "append changes")
	require.Equal(t, 1, repo.calls)
}

type failingRepo struct {
	calls int
}

func (r *failingRepo) AppendChanges(context.Context, []store.Change) error {
	r.calls++
	return errors.New("db down")
}

func (r *failingRepo) ListChanges(context.Context, uuid.UUID, int, int) ([]store.Change, error) {
	return nil, nil
}
