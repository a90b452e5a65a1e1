package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"trialsim/domain/core"
	"trialsim/domain/trial"
	apperrors "trialsim/internal/errors"
	"trialsim/internal/metrics"
	"trialsim/internal/testkit"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types(id core.JobID) []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []EventType
	for _, e := range p.events {
		if e.JobID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

func succeed(ctx context.Context, req Request, progress func(int, int)) (*Outcome, error) {
	progress(50, 100)
	progress(100, 100)
	rec := trial.NewRunRecord(testkit.DefaultOwnerID, req.Config, 1, trial.AggregateResult{Warnings: []string{"high type I"}})
	return &Outcome{Record: rec, Warnings: []string{"cache unavailable"}}, nil
}

// blockUntilCancelled signals started, then waits for its context
func blockUntilCancelled(started chan<- struct{}) ExecutorFunc {
	return func(ctx context.Context, req Request, progress func(int, int)) (*Outcome, error) {
		close(started)
		<-ctx.Done()
		return nil, fmt.Errorf("simulation cancelled after 0 runs: %w", ctx.Err())
	}
}

func waitForStatus(t *testing.T, m *Manager, id core.JobID, want Status) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestManager_RunsToSuccess(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(ExecutorFunc(succeed), Options{Workers: 2, QueueSize: 4, Publisher: pub})
	m.Start()
	defer m.Stop(context.Background())

	job, err := m.Submit(Request{Config: testkit.SmallConfig(), Label: "baseline"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)

	done := waitForStatus(t, m, job.ID, StatusSucceeded)
	assert.NotEmpty(t, done.RunID)
	require.NotNil(t, done.Result)
	assert.Equal(t, []string{"high type I", "cache unavailable"}, done.Warnings)
	assert.Equal(t, 100.0, done.Progress())
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	require.Eventually(t, func() bool {
		types := pub.types(job.ID)
		return len(types) > 0 && types[len(types)-1] == EventFinished
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventType{EventQueued, EventStarted, EventProgress, EventProgress, EventFinished}, pub.types(job.ID))
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	m := NewManager(ExecutorFunc(succeed), Options{})
	cfg := testkit.SmallConfig()
	cfg.ConfidenceLevel = 100

	_, err := m.Submit(Request{Config: cfg})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Equal(t, 0, m.store.Len())
}

func TestManager_QueueFull(t *testing.T) {
	reg := metrics.New()
	m := NewManager(ExecutorFunc(succeed), Options{QueueSize: 1, Metrics: reg})

	_, err := m.Submit(Request{Config: testkit.SmallConfig()})
	require.NoError(t, err)
	_, err = m.Submit(Request{Config: testkit.SmallConfig()})
	assert.ErrorIs(t, err, core.ErrJobQueueFull)
	assert.Equal(t, apperrors.CodeUnavailable, apperrors.GetCode(apperrors.Classify(err)))

	assert.Equal(t, 1, m.store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.JobsQueued))
}

func TestManager_CancelQueuedNeverRuns(t *testing.T) {
	var calls int
	var mu sync.Mutex
	exec := ExecutorFunc(func(ctx context.Context, req Request, progress func(int, int)) (*Outcome, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return succeed(ctx, req, progress)
	})
	m := NewManager(exec, Options{QueueSize: 2})

	job, err := m.Submit(Request{Config: testkit.SmallConfig()})
	require.NoError(t, err)
	cancelled, err := m.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	next, err := m.Submit(Request{Config: testkit.SmallConfig()})
	require.NoError(t, err)

	m.Start()
	defer m.Stop(context.Background())
	waitForStatus(t, m, next.ID, StatusSucceeded)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	final, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
}

func TestManager_CancelRunning(t *testing.T) {
	started := make(chan struct{})
	m := NewManager(blockUntilCancelled(started), Options{})
	m.Start()
	defer m.Stop(context.Background())

	job, err := m.Submit(Request{Config: testkit.SmallConfig()})
	require.NoError(t, err)
	<-started

	_, err = m.Cancel(job.ID)
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, StatusCancelled)
	assert.Equal(t, apperrors.CodeCancelled, done.ErrorCode)
	assert.Contains(t, done.Error, "cancelled")

	_, err = m.Cancel(job.ID)
	assert.ErrorIs(t, err, core.ErrJobFinished)
}

func TestManager_TimeoutFails(t *testing.T) {
	started := make(chan struct{})
	m := NewManager(blockUntilCancelled(started), Options{Timeout: 20 * time.Millisecond})
	m.Start()
	defer m.Stop(context.Background())

	job, err := m.Submit(Request{Config: testkit.SmallConfig()})
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Contains(t, done.Error, "timed out")
}

func TestManager_ExecutorErrorIsClassified(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, req Request, progress func(int, int)) (*Outcome, error) {
		return nil, core.NewComputationError(1, core.ErrZeroSampleSize)
	})
	m := NewManager(exec, Options{})
	m.Start()
	defer m.Stop(context.Background())

	job, err := m.Submit(Request{Config: testkit.SmallConfig()})
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Equal(t, apperrors.CodeComputationError, done.ErrorCode)
	assert.Nil(t, done.Result)
}

func TestManager_GetUnknown(t *testing.T) {
	m := NewManager(ExecutorFunc(succeed), Options{})
	_, err := m.Get("nope")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.True(t, core.IsNotFoundError(err))

	_, err = m.Cancel("nope")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestManager_StopCancelsRunning(t *testing.T) {
	started := make(chan struct{})
	m := NewManager(blockUntilCancelled(started), Options{})
	m.Start()

	job, err := m.Submit(Request{Config: testkit.SmallConfig()})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	final, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)

	_, err = m.Submit(Request{Config: testkit.SmallConfig()})
	assert.True(t, errors.Is(err, core.ErrJobQueueFull))
}
