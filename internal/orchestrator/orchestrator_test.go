package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/embedding/hash"
	uuidgen "github.com/JakeFAU/retail-content-ingestor/internal/id/uuid"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	"github.com/JakeFAU/retail-content-ingestor/internal/progress"
	pubmemory "github.com/JakeFAU/retail-content-ingestor/internal/publisher/memory"
	"github.com/JakeFAU/retail-content-ingestor/internal/storage/memory"
	"github.com/JakeFAU/retail-content-ingestor/internal/store"
	vsmemory "github.com/JakeFAU/retail-content-ingestor/internal/vectorstore/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, name, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocker) Release(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockLocker) Extend(ctx context.Context, name string, ttl time.Duration) error {
	return m.Called(ctx, name, ttl).Error(0)
}

// failingStore rejects EnsureIndex.
type failingStore struct {
	*vsmemory.Store
}

func (failingStore) EnsureIndex(context.Context, string, ingest.FieldSchema) error {
	return errors.New("qdrant: 503 service unavailable")
}

// taskRecorder builds TaskFuncs that record their invocation.
type taskRecorder struct {
	mu    sync.Mutex
	calls []Task
}

func (r *taskRecorder) task(name Task, err error) TaskFunc {
	return func(context.Context) error {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return err
	}
}

func (r *taskRecorder) called() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.calls...)
}

func newOrchestrator(t *testing.T, deps Dependencies) *Orchestrator {
	t.Helper()
	if deps.Store == nil {
		deps.Store = vsmemory.New()
	}
	if deps.Embedder == nil {
		deps.Embedder = hash.New(16)
	}
	deps.Clock = fixedClock{now: time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)}
	deps.IDs = uuidgen.New()
	deps.Logger = zap.NewNop()
	return New(Config{SummaryTopic: "ingest-runs"}, deps)
}

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		want  Period
		known bool
	}{
		"hourly":   {PeriodHourly, true},
		" Daily ":  {PeriodDaily, true},
		"all":      {PeriodAll, true},
		"":         {PeriodAll, false},
		"weekly":   {PeriodAll, false},
		"HOURLY\n": {PeriodHourly, true},
	}
	for raw, tc := range cases {
		got, known := ParsePeriod(raw)
		assert.Equal(t, tc.want, got, raw)
		assert.Equal(t, tc.known, known, raw)
	}
}

func TestPeriodTasks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Task{TaskFeed}, PeriodHourly.Tasks())
	assert.Equal(t, []Task{TaskCrawl, TaskCleanup}, PeriodDaily.Tasks())
	assert.Equal(t, []Task{TaskFeed, TaskCrawl, TaskCleanup}, PeriodAll.Tasks())
}

func TestBootstrapEnsuresCollectionAndIndexes(t *testing.T) {
	t.Parallel()

	vs := vsmemory.New()
	o := newOrchestrator(t, Dependencies{Store: vs})

	require.NoError(t, o.Bootstrap(context.Background()))
	require.NoError(t, o.Bootstrap(context.Background()), "bootstrap is idempotent")
	assert.Equal(t, map[string]ingest.FieldSchema{
		ingest.FieldSource:         ingest.SchemaKeyword,
		ingest.FieldURL:            ingest.SchemaKeyword,
		ingest.FieldCrawledAtEpoch: ingest.SchemaInteger,
	}, vs.Indexes())
}

func TestRunSelectsTasksByPeriod(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		period Period
		want   []Task
	}{
		{PeriodHourly, []Task{TaskFeed}},
		{PeriodDaily, []Task{TaskCrawl, TaskCleanup}},
		{PeriodAll, []Task{TaskFeed, TaskCrawl, TaskCleanup}},
	} {
		rec := &taskRecorder{}
		o := newOrchestrator(t, Dependencies{Tasks: map[Task]TaskFunc{
			TaskFeed:    rec.task(TaskFeed, nil),
			TaskCrawl:   rec.task(TaskCrawl, nil),
			TaskCleanup: rec.task(TaskCleanup, nil),
		}})

		report, err := o.Run(context.Background(), tc.period, "test")
		require.NoError(t, err)
		assert.ElementsMatch(t, tc.want, rec.called(), tc.period)
		assert.Equal(t, string(store.RunSuccess), report.Status)
		assert.Len(t, report.Tasks, len(tc.want))
	}
}

func TestRunWaitsForAllTasksAndAggregatesFailures(t *testing.T) {
	t.Parallel()

	var crawlDone atomic.Bool
	o := newOrchestrator(t, Dependencies{Tasks: map[Task]TaskFunc{
		TaskFeed: func(context.Context) error { return errors.New("graph api: status 400") },
		TaskCrawl: func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			crawlDone.Store(true)
			return nil
		},
		TaskCleanup: func(context.Context) error { return errors.New("qdrant unavailable") },
	}})

	report, err := o.Run(context.Background(), PeriodAll, "test")
	require.Error(t, err)
	assert.True(t, crawlDone.Load(), "the slow successful task still completes")
	assert.Contains(t, err.Error(), "task feed: graph api: status 400")
	assert.Contains(t, err.Error(), "task cleanup: qdrant unavailable")
	assert.NotContains(t, err.Error(), "task crawl")
	assert.Equal(t, string(store.RunError), report.Status)
	assert.Equal(t, []string{"cleanup", "feed"}, FailedTasks(report))
}

func TestRunRecoversTaskPanic(t *testing.T) {
	t.Parallel()

	rec := &taskRecorder{}
	o := newOrchestrator(t, Dependencies{Tasks: map[Task]TaskFunc{
		TaskCrawl:   func(context.Context) error { panic("nil frontier") },
		TaskCleanup: rec.task(TaskCleanup, nil),
	}})

	_, err := o.Run(context.Background(), PeriodDaily, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task crawl: panic: nil frontier")
	assert.Equal(t, []Task{TaskCleanup}, rec.called())
}

func TestRunMissingTaskFails(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, Dependencies{Tasks: map[Task]TaskFunc{}})

	_, err := o.Run(context.Background(), PeriodHourly, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task feed: not configured")
}

func TestRunBootstrapFailureAbortsTasks(t *testing.T) {
	t.Parallel()

	rec := &taskRecorder{}
	o := newOrchestrator(t, Dependencies{
		Store: failingStore{Store: vsmemory.New()},
		Tasks: map[Task]TaskFunc{TaskFeed: rec.task(TaskFeed, nil)},
	})

	report, err := o.Run(context.Background(), PeriodHourly, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap: ensure index")
	assert.Empty(t, rec.called())
	assert.Empty(t, report.Tasks)
}

func TestRunRecordsHistoryAndPublishesSummary(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	pub := pubmemory.New()
	o := newOrchestrator(t, Dependencies{
		Runs:      runs,
		Publisher: pub,
		Tasks: map[Task]TaskFunc{
			TaskCrawl:   func(context.Context) error { return nil },
			TaskCleanup: func(context.Context) error { return errors.New("boom") },
		},
	})

	report, err := o.Run(context.Background(), PeriodDaily, "cron")
	require.Error(t, err)

	id, err := uuid.Parse(report.RunID)
	require.NoError(t, err)
	stored, err := runs.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "daily", stored.Period)
	assert.Equal(t, "cron", stored.Trigger)
	assert.Equal(t, store.RunError, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "task cleanup: boom")
	assert.Equal(t, map[string]string{"crawl": "ok", "cleanup": "boom"}, stored.Tasks)

	msg, ok := pub.Last()
	require.True(t, ok)
	assert.Equal(t, "ingest-runs", msg.Topic)
	var published Report
	require.NoError(t, msg.Decode(&published))
	assert.Equal(t, report.RunID, published.RunID)
	assert.Equal(t, "error", published.Status)
}

func TestRunLockHeldElsewhere(t *testing.T) {
	t.Parallel()

	locker := &mockLocker{}
	locker.On("Acquire", mock.Anything, runLockName, defaultLockTTL).Return(false, nil)
	rec := &taskRecorder{}
	o := newOrchestrator(t, Dependencies{
		Locker: locker,
		Tasks:  map[Task]TaskFunc{TaskFeed: rec.task(TaskFeed, nil)},
	})

	_, err := o.Run(context.Background(), PeriodHourly, "test")
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, rec.called())
	locker.AssertExpectations(t)
	locker.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestRunReleasesLock(t *testing.T) {
	t.Parallel()

	locker := &mockLocker{}
	locker.On("Acquire", mock.Anything, runLockName, defaultLockTTL).Return(true, nil)
	locker.On("Release", mock.Anything, runLockName).Return(nil)
	o := newOrchestrator(t, Dependencies{
		Locker: locker,
		Tasks:  map[Task]TaskFunc{TaskFeed: func(context.Context) error { return errors.New("boom") }},
	})

	_, err := o.Run(context.Background(), PeriodHourly, "test")
	require.Error(t, err)
	locker.AssertExpectations(t)
}

func TestRunLockAcquireError(t *testing.T) {
	t.Parallel()

	locker := &mockLocker{}
	locker.On("Acquire", mock.Anything, runLockName, defaultLockTTL).Return(false, errors.New("dial tcp: connection refused"))
	o := newOrchestrator(t, Dependencies{Locker: locker})

	_, err := o.Run(context.Background(), PeriodAll, "test")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunInProgress)
	assert.Contains(t, err.Error(), "acquire run lock")
}

func TestSummary(t *testing.T) {
	t.Parallel()

	line := Summary(Report{
		RunID:  "r1",
		Period: PeriodDaily,
		Status: "error",
		Tasks:  []TaskResult{{Task: TaskCrawl}, {Task: TaskCleanup, Error: "boom"}},
	})
	assert.Equal(t, "run r1 period=daily status=error crawl=ok cleanup=failed", line)
}

type collectingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collectingEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectingEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.Stage
	}
	return out
}

func TestRunTagsTaskContextAndEmitsLifecycle(t *testing.T) {
	t.Parallel()

	emitter := &collectingEmitter{}
	var seen atomic.Value
	o := newOrchestrator(t, Dependencies{
		Progress: emitter,
		Tasks: map[Task]TaskFunc{
			TaskFeed: func(ctx context.Context) error {
				id, ok := progress.RunIDFromContext(ctx)
				if ok {
					seen.Store(uuid.UUID(id).String())
				}
				return nil
			},
		},
	})

	report, err := o.Run(context.Background(), PeriodHourly, "cli")
	require.NoError(t, err)
	require.Equal(t, report.RunID, seen.Load())
	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunDone}, emitter.stages())

	o = newOrchestrator(t, Dependencies{
		Progress: emitter,
		Tasks:    map[Task]TaskFunc{TaskFeed: func(context.Context) error { return errors.New("graph api down") }},
	})
	_, err = o.Run(context.Background(), PeriodHourly, "cli")
	require.Error(t, err)
	stages := emitter.stages()
	require.Equal(t, progress.StageRunError, stages[len(stages)-1])
}
