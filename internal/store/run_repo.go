package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the ingest_runs status column.
type RunStatus string

// Run statuses persisted in ingest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one orchestrated ingestion run.
type Run struct {
	ID uuid.UUID
	// Period is the selector the run was started with (hourly, daily, all).
	Period string
	// Trigger names the entry point: cli, http or schedule.
	Trigger   string
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	Status     RunStatus
	// ErrorMessage optionally stores the aggregated failure.
	ErrorMessage *string
	// Tasks maps each task name to "ok" or its error text.
	Tasks map[string]string
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun records a run in the running state.
	StartRun(ctx context.Context, run Run) error
	// FinishRun marks the run finished with its final status and task outcomes.
	FinishRun(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		errMsg *string,
		tasks map[string]string,
	) error
	// GetRun returns one run or ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs ordered by start time, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
}
