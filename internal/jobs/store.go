package jobs

import (
	"fmt"
	"sync"
	"time"

	"trialsim/domain/core"
	"trialsim/domain/trial"
)

// Status represents the state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is one asynchronous simulation batch.
type Job struct {
	ID         core.JobID             `json:"id"`
	Label      string                 `json:"label,omitempty"`
	Status     Status                 `json:"status"`
	Config     trial.SimulationConfig `json:"config"`
	Seed       *int64                 `json:"seed,omitempty"`
	Completed  int                    `json:"completed"`
	Total      int                    `json:"total"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	RunID      core.RunID             `json:"run_id,omitempty"`
	Result     *trial.AggregateResult `json:"result,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorCode  string                 `json:"error_code,omitempty"`

	// cancelFunc is set when the job starts and can be called to cancel execution.
	cancelFunc func()
}

// Progress returns the completed share in percent.
func (j *Job) Progress() float64 {
	if j.Total <= 0 {
		if j.Status == StatusSucceeded {
			return 100
		}
		return 0
	}
	return 100 * float64(j.Completed) / float64(j.Total)
}

// Store keeps jobs in memory in submission order.
type Store struct {
	mu   sync.RWMutex
	jobs map[core.JobID]*Job
	keys []core.JobID
}

// NewStore returns an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[core.JobID]*Job)}
}

// Create stores a job.
func (s *Store) Create(job *Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.keys = append(s.keys, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
}

// Delete removes a job.
func (s *Store) Delete(id core.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return
	}
	delete(s.jobs, id)
	for i, key := range s.keys {
		if key == id {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Get returns a copy of a job.
func (s *Store) Get(id core.JobID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	return cloneJob(job), nil
}

// Mutate applies fn to the stored job under the write lock and returns a
// copy of the result. fn sees the live record.
func (s *Store) Mutate(id core.JobID, fn func(job *Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	return cloneJob(job), nil
}

// List returns jobs newest first.
func (s *Store) List(limit, offset int) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.keys) {
		return []*Job{}
	}
	remaining := len(s.keys) - offset
	if limit <= 0 || limit > remaining {
		limit = remaining
	}
	result := make([]*Job, 0, limit)
	for i := len(s.keys) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		if job, ok := s.jobs[s.keys[i]]; ok {
			result = append(result, cloneJob(job))
		}
	}
	return result
}

// Prune removes finished jobs older than the given duration.
func (s *Store) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	pruned := 0
	keys := s.keys[:0]
	for _, id := range s.keys {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		if job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			pruned++
			continue
		}
		keys = append(keys, id)
	}
	s.keys = keys
	return pruned
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Config = job.Config.Clone()
	if job.Seed != nil {
		seed := *job.Seed
		clone.Seed = &seed
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		clone.FinishedAt = &t
	}
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	if job.Warnings != nil {
		clone.Warnings = append([]string(nil), job.Warnings...)
	}
	clone.cancelFunc = nil
	return &clone
}
