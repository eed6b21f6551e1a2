// Package orchestrator sequences one ingestion run: index bootstrap, then the
// tasks selected by the period, run concurrently with aggregated failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	"github.com/JakeFAU/retail-content-ingestor/internal/metrics"
	"github.com/JakeFAU/retail-content-ingestor/internal/progress"
	"github.com/JakeFAU/retail-content-ingestor/internal/store"
	"github.com/JakeFAU/retail-content-ingestor/internal/telemetry"
)

// ErrRunInProgress is returned when another run holds the run lock.
var ErrRunInProgress = errors.New("ingestion run already in progress")

const (
	runLockName        = "run"
	defaultLockTTL     = 2 * time.Hour
	bookkeepingTimeout = 10 * time.Second
)

// TaskFunc executes one task of a run.
type TaskFunc func(ctx context.Context) error

// Locker is a distributed mutual-exclusion lock.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
	Extend(ctx context.Context, name string, ttl time.Duration) error
}

// IDGenerator returns run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Dependencies are the collaborators of an Orchestrator. Locker, Runs,
// Publisher and Progress are optional.
type Dependencies struct {
	Store     ingest.VectorStore
	Embedder  ingest.Embedder
	Tasks     map[Task]TaskFunc
	Locker    Locker
	Runs      store.RunRepository
	Publisher ingest.Publisher
	Progress  progress.Emitter
	Clock     ingest.Clock
	IDs       IDGenerator
	Logger    *zap.Logger
}

// Config tunes the orchestrator.
type Config struct {
	// LockTTL bounds how long a crashed run can block the next one. The lock
	// is extended while the run is alive.
	LockTTL time.Duration
	// SummaryTopic receives a run summary when a publisher is configured.
	SummaryTopic string
}

// TaskResult is the outcome of one task.
type TaskResult struct {
	Task     Task          `json:"task"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report summarizes a run.
type Report struct {
	RunID      string       `json:"run_id"`
	Period     Period       `json:"period"`
	Trigger    string       `json:"trigger"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Tasks      []TaskResult `json:"tasks"`
}

// Orchestrator runs ingestion periods.
type Orchestrator struct {
	store     ingest.VectorStore
	embedder  ingest.Embedder
	tasks     map[Task]TaskFunc
	locker    Locker
	runs      store.RunRepository
	publisher ingest.Publisher
	progress  progress.Emitter
	clock     ingest.Clock
	ids       IDGenerator
	logger    *zap.Logger
	cfg       Config
}

// New wires an Orchestrator.
func New(cfg Config, deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Orchestrator{
		store:     deps.Store,
		embedder:  deps.Embedder,
		tasks:     deps.Tasks,
		locker:    deps.Locker,
		runs:      deps.Runs,
		publisher: deps.Publisher,
		progress:  deps.Progress,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    logger.Named("orchestrator"),
		cfg:       cfg,
	}
}

// Bootstrap ensures the collection and the payload indexes every run relies
// on. Existing collections and indexes count as success.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if err := o.store.EnsureCollection(ctx, o.embedder.Dimensions()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	for _, idx := range ingest.RequiredIndexes {
		if err := o.store.EnsureIndex(ctx, idx.Field, idx.Schema); err != nil {
			return fmt.Errorf("ensure index %s: %w", idx.Field, err)
		}
	}
	return nil
}

// Run executes period. Bootstrap failure aborts the run. Otherwise every
// selected task runs concurrently; Run waits for all of them and returns one
// error naming each failed task.
func (o *Orchestrator) Run(ctx context.Context, period Period, trigger string) (Report, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	report := Report{
		RunID:     runID,
		Period:    period,
		Trigger:   trigger,
		StartedAt: o.clock.Now(),
	}
	logger := o.logger.With(zap.String("run_id", runID), zap.String("period", string(period)))
	if id, parseErr := uuid.Parse(runID); parseErr == nil {
		ctx = progress.WithRunID(ctx, id)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "ingest.run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.period", string(period)),
		attribute.String("run.trigger", trigger),
	)
	defer span.End()

	release, err := o.lock(ctx, logger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	defer release()

	o.recordStart(ctx, report, logger)
	progress.EmitFor(ctx, o.progress, report.StartedAt, progress.Event{Stage: progress.StageRunStart, Note: trigger})
	logger.Info("run started", zap.String("trigger", trigger))

	runErr := o.Bootstrap(ctx)
	if runErr != nil {
		runErr = fmt.Errorf("bootstrap: %w", runErr)
		logger.Error("bootstrap failed", zap.Error(runErr))
	} else {
		report.Tasks, runErr = o.runTasks(ctx, period.Tasks(), logger)
	}

	report.FinishedAt = o.clock.Now()
	report.Status = string(store.RunSuccess)
	if runErr != nil {
		report.Status = string(store.RunError)
		report.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run failed")
	}
	metrics.ObserveRun(string(period), report.Status, report.FinishedAt.Sub(report.StartedAt))
	o.recordFinish(ctx, report, logger)
	o.publish(ctx, report, logger)
	if runErr != nil {
		progress.EmitFor(ctx, o.progress, report.FinishedAt, progress.Event{Stage: progress.StageRunError, Note: report.Error})
	} else {
		progress.EmitFor(ctx, o.progress, report.FinishedAt, progress.Event{Stage: progress.StageRunDone})
	}

	if runErr != nil {
		logger.Error("run finished with errors", zap.Error(runErr))
		return report, runErr
	}
	logger.Info("run finished", zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (o *Orchestrator) runTasks(ctx context.Context, tasks []Task, logger *zap.Logger) ([]TaskResult, error) {
	results := make([]TaskResult, len(tasks))
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		fn, ok := o.tasks[task]
		if !ok {
			results[i] = TaskResult{Task: task, Error: "task not configured"}
			errs[i] = fmt.Errorf("task %s: not configured", task)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := o.runTask(ctx, task, fn)
			results[i] = TaskResult{Task: task, Duration: time.Since(start)}
			if err != nil {
				results[i].Error = err.Error()
				errs[i] = fmt.Errorf("task %s: %w", task, err)
				metrics.ObserveTask(string(task), "error")
				logger.Error("task failed", zap.String("task", string(task)), zap.Error(err))
				return
			}
			metrics.ObserveTask(string(task), "success")
			logger.Info("task finished", zap.String("task", string(task)), zap.Duration("duration", results[i].Duration))
		}()
	}
	wg.Wait()
	return results, multierr.Combine(errs...)
}

func (o *Orchestrator) runTask(ctx context.Context, task Task, fn TaskFunc) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.task."+string(task))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "task failed")
		}
		span.End()
	}()
	return fn(ctx)
}

// lock takes the run lock and keeps it alive until the returned release is
// called. Without a locker it is a no-op.
func (o *Orchestrator) lock(ctx context.Context, logger *zap.Logger) (func(), error) {
	if o.locker == nil {
		return func() {}, nil
	}
	acquired, err := o.locker.Acquire(ctx, runLockName, o.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := o.locker.Extend(context.WithoutCancel(ctx), runLockName, o.cfg.LockTTL); err != nil {
					logger.Warn("extend run lock failed", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
		defer cancel()
		if err := o.locker.Release(releaseCtx, runLockName); err != nil {
			logger.Warn("release run lock failed", zap.Error(err))
		}
	}, nil
}

func (o *Orchestrator) recordStart(ctx context.Context, report Report, logger *zap.Logger) {
	if o.runs == nil {
		return
	}
	id, err := uuid.Parse(report.RunID)
	if err != nil {
		logger.Warn("run id is not a uuid; history skipped", zap.Error(err))
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	err = o.runs.StartRun(bctx, store.Run{
		ID:        id,
		Period:    string(report.Period),
		Trigger:   report.Trigger,
		StartedAt: report.StartedAt,
	})
	if err != nil {
		logger.Warn("record run start failed", zap.Error(err))
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, report Report, logger *zap.Logger) {
	if o.runs == nil {
		return
	}
	id, err := uuid.Parse(report.RunID)
	if err != nil {
		return
	}
	var errMsg *string
	if report.Error != "" {
		msg := report.Error
		errMsg = &msg
	}
	tasks := make(map[string]string, len(report.Tasks))
	for _, t := range report.Tasks {
		tasks[string(t.Task)] = "ok"
		if t.Error != "" {
			tasks[string(t.Task)] = t.Error
		}
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := o.runs.FinishRun(bctx, id, report.FinishedAt, store.RunStatus(report.Status), errMsg, tasks); err != nil {
		logger.Warn("record run finish failed", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, report Report, logger *zap.Logger) {
	if o.publisher == nil || o.cfg.SummaryTopic == "" {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if _, err := o.publisher.Publish(bctx, o.cfg.SummaryTopic, report); err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
	}
}

// FailedTasks lists the tasks of report that failed, in name order.
func FailedTasks(report Report) []string {
	var failed []string
	for _, t := range report.Tasks {
		if t.Error != "" {
			failed = append(failed, string(t.Task))
		}
	}
	sort.Strings(failed)
	return failed
}

// Summary renders report on one line for logs and CLI output.
func Summary(report Report) string {
	parts := make([]string, 0, len(report.Tasks))
	for _, t := range report.Tasks {
		status := "ok"
		if t.Error != "" {
			status = "failed"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", t.Task, status))
	}
	return fmt.Sprintf("run %s period=%s status=%s %s", report.RunID, report.Period, report.Status, strings.Join(parts, " "))
}
