package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/internal"
	apperrors "trialsim/internal/errors"
	"trialsim/internal/metrics"
)

// Request is the payload of a submitted job
type Request struct {
	Config trial.SimulationConfig `json:"config"`
	Seed   *int64                 `json:"seed,omitempty"`
	Label  string                 `json:"label,omitempty"`
}

// Outcome is what an executor hands back for a finished job
type Outcome struct {
	Record   *trial.RunRecord
	Warnings []string
}

// Executor runs one job. progress may be called from the executing goroutine only.
type Executor interface {
	Execute(ctx context.Context, req Request, progress func(completed, total int)) (*Outcome, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, req Request, progress func(completed, total int)) (*Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request, progress func(completed, total int)) (*Outcome, error) {
	return f(ctx, req, progress)
}

// EventType names a job lifecycle event
type EventType string

const (
	EventQueued   EventType = "queued"
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventFinished EventType = "finished"
	// EventSnapshot is the current state sent to a client when it connects
	EventSnapshot EventType = "snapshot"
)

// Event is published on every job state change
type Event struct {
	JobID     core.JobID `json:"job_id"`
	Type      EventType  `json:"event_type"`
	Status    Status     `json:"status"`
	Progress  float64    `json:"progress"`
	Job       *Job       `json:"job"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher receives job events. Publish must not block.
type Publisher interface {
	Publish(event Event)
}

// Options configure a Manager
type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds one job's execution; zero means no limit
	Timeout time.Duration
	// Retention prunes finished jobs older than this; zero keeps them
	Retention time.Duration
	Logger    *internal.Logger
	Metrics   *metrics.Metrics
	Publisher Publisher
}

// Manager queues jobs and runs them on a fixed worker pool
type Manager struct {
	store    *Store
	exec     Executor
	queue    chan core.JobID
	opts     Options
	logger   *internal.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewManager creates a manager. Jobs queue up until Start is called.
func NewManager(exec Executor, opts Options) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = internal.DefaultLogger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:  NewStore(),
		exec:   exec,
		queue:  make(chan core.JobID, opts.QueueSize),
		opts:   opts,
		logger: logger.WithComponent("Jobs"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker pool
func (m *Manager) Start() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.logger.Info("starting %d workers, queue size %d", m.opts.Workers, m.opts.QueueSize)
	for range m.opts.Workers {
		m.wg.Add(1)
		go m.worker()
	}
	if m.opts.Retention > 0 {
		m.wg.Add(1)
		go m.janitor()
	}
}

// Stop cancels running jobs and waits for the workers until ctx expires
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(m.cancel)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping job workers: %w", ctx.Err())
	}
}

// Submit validates the request and queues a job
func (m *Manager) Submit(req Request) (*Job, error) {
	if err := trial.Validate(req.Config); err != nil {
		return nil, err
	}
	if err := m.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: manager stopped", core.ErrJobQueueFull)
	}

	job := &Job{
		ID:        core.NewJobID(),
		Label:     req.Label,
		Status:    StatusQueued,
		Config:    req.Config.Clone(),
		Seed:      req.Seed,
		CreatedAt: time.Now(),
	}
	m.store.Create(job)

	// the gauge goes up before the send so a fast worker's Dec cannot precede it
	if m.opts.Metrics != nil {
		m.opts.Metrics.JobsQueued.Inc()
	}
	select {
	case m.queue <- job.ID:
	default:
		if m.opts.Metrics != nil {
			m.opts.Metrics.JobsQueued.Dec()
		}
		m.store.Delete(job.ID)
		m.logger.Warn("queue full, rejecting job %s", job.ID)
		return nil, fmt.Errorf("%w: %d jobs waiting", core.ErrJobQueueFull, m.opts.QueueSize)
	}

	m.publish(EventQueued, job)
	return cloneJob(job), nil
}

// Get returns a snapshot of a job
func (m *Manager) Get(id core.JobID) (*Job, error) {
	return m.store.Get(id)
}

// List returns job snapshots, newest first
func (m *Manager) List(limit, offset int) []*Job {
	return m.store.List(limit, offset)
}

// Cancel stops a queued or running job
func (m *Manager) Cancel(id core.JobID) (*Job, error) {
	var cancelRunning func()
	job, err := m.store.Mutate(id, func(j *Job) error {
		switch {
		case j.Status.Terminal():
			return fmt.Errorf("%w: %s is %s", core.ErrJobFinished, id, j.Status)
		case j.Status == StatusQueued:
			now := time.Now()
			j.Status = StatusCancelled
			j.FinishedAt = &now
			j.Error = "cancelled before start"
			j.ErrorCode = apperrors.CodeCancelled
		default:
			cancelRunning = j.cancelFunc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cancelRunning != nil {
		m.logger.Info("cancelling running job %s", id)
		cancelRunning()
		return job, nil
	}
	if job.Status == StatusCancelled {
		m.logger.Info("cancelled queued job %s", id)
		m.publish(EventFinished, job)
	}
	return job, nil
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case id := <-m.queue:
			if m.opts.Metrics != nil {
				m.opts.Metrics.JobsQueued.Dec()
			}
			m.run(id)
		}
	}
}

func (m *Manager) run(id core.JobID) {
	var ctx context.Context
	var cancel context.CancelFunc
	if m.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(m.ctx, m.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(m.ctx)
	}
	defer cancel()

	job, err := m.store.Mutate(id, func(j *Job) error {
		if j.Status != StatusQueued {
			return errSkip
		}
		now := time.Now()
		j.Status = StatusRunning
		j.StartedAt = &now
		j.cancelFunc = cancel
		return nil
	})
	if err != nil {
		// cancelled while queued, or pruned
		return
	}

	if m.opts.Metrics != nil {
		m.opts.Metrics.JobsRunning.Inc()
		defer m.opts.Metrics.JobsRunning.Dec()
	}
	m.publish(EventStarted, job)
	m.logger.Debug("job %s started", id)

	lastPct := -1
	progress := func(completed, total int) {
		snapshot, err := m.store.Mutate(id, func(j *Job) error {
			j.Completed, j.Total = completed, total
			return nil
		})
		if err != nil {
			return
		}
		pct := int(math.Floor(snapshot.Progress()))
		if pct != lastPct {
			lastPct = pct
			m.publish(EventProgress, snapshot)
		}
	}

	outcome, execErr := m.exec.Execute(ctx, Request{Config: job.Config, Seed: job.Seed, Label: job.Label}, progress)

	final, err := m.store.Mutate(id, func(j *Job) error {
		now := time.Now()
		j.FinishedAt = &now
		j.cancelFunc = nil
		m.settle(ctx, j, outcome, execErr)
		return nil
	})
	if err != nil {
		return
	}

	switch final.Status {
	case StatusSucceeded:
		m.logger.Info("job %s succeeded (run %s)", id, final.RunID)
	case StatusCancelled:
		m.logger.Warn("job %s cancelled", id)
	default:
		m.logger.Error("job %s failed: %s", id, final.Error)
	}
	m.publish(EventFinished, final)
}

var errSkip = errors.New("job not runnable")

// settle records the terminal state of a job. Timeouts are failures, while
// explicit cancellation ends up cancelled.
func (m *Manager) settle(ctx context.Context, j *Job, outcome *Outcome, execErr error) {
	if execErr == nil && outcome != nil && outcome.Record != nil {
		j.Status = StatusSucceeded
		j.RunID = outcome.Record.ID
		result := outcome.Record.Result
		j.Result = &result
		j.Warnings = append(append([]string(nil), result.Warnings...), outcome.Warnings...)
		if j.Total > 0 {
			j.Completed = j.Total
		}
		return
	}
	if execErr == nil {
		execErr = errors.New("executor returned no result")
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		j.Status = StatusFailed
		j.Error = fmt.Sprintf("timed out after %s", m.opts.Timeout)
		j.ErrorCode = apperrors.CodeCancelled
	case errors.Is(execErr, context.Canceled):
		j.Status = StatusCancelled
		j.Error = execErr.Error()
		j.ErrorCode = apperrors.CodeCancelled
	default:
		j.Status = StatusFailed
		j.Error = execErr.Error()
		j.ErrorCode = apperrors.GetCode(apperrors.Classify(execErr))
	}
}

func (m *Manager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(max(m.opts.Retention/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.store.Prune(m.opts.Retention); n > 0 {
				m.logger.Debug("pruned %d finished jobs", n)
			}
		}
	}
}

func (m *Manager) publish(t EventType, job *Job) {
	if m.opts.Publisher == nil {
		return
	}
	m.opts.Publisher.Publish(NewEvent(t, job))
}

// NewEvent builds an event from a job snapshot
func NewEvent(t EventType, job *Job) Event {
	return Event{
		JobID:     job.ID,
		Type:      t,
		Status:    job.Status,
		Progress:  job.Progress(),
		Job:       job,
		Timestamp: time.Now(),
	}
}
