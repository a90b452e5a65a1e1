package testkit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/models"
	"trialsim/ports"

	"github.com/google/uuid"
)

// DefaultOwnerID matches the single-user id the Postgres adapter seeds
var DefaultOwnerID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

// SmallConfig is a valid config sized for fast tests
func SmallConfig() trial.SimulationConfig {
	return trial.SimulationConfig{
		ArmsEffects:       []float64{20, 35, 30},
		SampleSizePerArm:  100,
		InterimLooks:      2,
		FutilityThreshold: 0.05,
		ConfidenceLevel:   95,
		NumSimulations:    100,
	}
}

// Seeded returns a deterministic math/rand stream
func Seeded(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// FuncSource yields fn(i) for the i-th draw, starting at zero
type FuncSource struct {
	fn    func(i int) float64
	calls int
}

// NewFuncSource creates a scripted source driven by the draw index
func NewFuncSource(fn func(i int) float64) *FuncSource {
	return &FuncSource{fn: fn}
}

func (s *FuncSource) Float64() float64 {
	v := s.fn(s.calls)
	s.calls++
	return v
}

// Calls returns the number of draws consumed so far
func (s *FuncSource) Calls() int {
	return s.calls
}

// ArmScriptedSource returns a fixed value per arm assuming every arm stays
// active: draws come in blocks of perLook for control, treatment1, treatment2.
func ArmScriptedSource(perLook int, control, treatment1, treatment2 float64) *FuncSource {
	values := [trial.NumArms]float64{control, treatment1, treatment2}
	return NewFuncSource(func(i int) float64 {
		return values[(i/perLook)%trial.NumArms]
	})
}

// RecordingSource wraps a source and keeps every value it handed out
type RecordingSource struct {
	inner interface{ Float64() float64 }
	draws []float64
}

func NewRecordingSource(inner interface{ Float64() float64 }) *RecordingSource {
	return &RecordingSource{inner: inner}
}

func (s *RecordingSource) Float64() float64 {
	v := s.inner.Float64()
	s.draws = append(s.draws, v)
	return v
}

// Draws returns a copy of the recorded values
func (s *RecordingSource) Draws() []float64 {
	return append([]float64(nil), s.draws...)
}

// InMemoryRunLog implements ports.RunLog with in-memory storage
type InMemoryRunLog struct {
	mu      sync.RWMutex
	records map[core.RunID]*trial.RunRecord
	order   []core.RunID
	saveErr error
}

var _ ports.RunLog = (*InMemoryRunLog)(nil)

func NewInMemoryRunLog() *InMemoryRunLog {
	return &InMemoryRunLog{records: make(map[core.RunID]*trial.RunRecord)}
}

// FailSavesWith makes every subsequent Save return err
func (s *InMemoryRunLog) FailSavesWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *InMemoryRunLog) Save(ctx context.Context, record *trial.RunRecord, ownerID uuid.UUID, at core.Timestamp) error {
	if record == nil {
		return errors.New("nil run record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("run %s already stored", record.ID)
	}

	stored := *record
	stored.OwnerID = ownerID
	stored.CreatedAt = at
	s.records[record.ID] = &stored
	s.order = append(s.order, record.ID)
	return nil
}

func (s *InMemoryRunLog) ListRuns(ctx context.Context, filters ports.RunFilters) ([]*trial.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*trial.RunRecord
	for _, id := range s.order {
		r := s.records[id]
		if filters.OwnerID != nil && r.OwnerID != *filters.OwnerID {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}

	// newest first; insertion order breaks timestamp ties
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (s *InMemoryRunLog) GetRun(ctx context.Context, id core.RunID) (*trial.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	copied := *r
	return &copied, nil
}

func (s *InMemoryRunLog) GetUserRunStats(ctx context.Context, userID uuid.UUID) (*models.UserRunStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.UserRunStats{}
	for _, r := range s.records {
		if r.OwnerID != userID {
			continue
		}
		stats.TotalRuns++
		if r.Result.HasWarnings() {
			stats.RunsWithWarnings++
		}
		at := r.CreatedAt.Time()
		if stats.EarliestRun == nil || at.Before(*stats.EarliestRun) {
			stats.EarliestRun = timePtr(at)
		}
		if stats.LatestRun == nil || at.After(*stats.LatestRun) {
			stats.LatestRun = timePtr(at)
		}
	}
	return stats, nil
}

func timePtr(t time.Time) *time.Time { return &t }

// Len returns the number of stored runs
func (s *InMemoryRunLog) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// InMemoryCache implements ports.ResultCache
type InMemoryCache struct {
	mu       sync.RWMutex
	last     *trial.RunRecord
	storeErr error
}

var _ ports.ResultCache = (*InMemoryCache)(nil)

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{}
}

func (c *InMemoryCache) LoadLast(ctx context.Context) (*trial.RunRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return nil, false, nil
	}
	copied := *c.last
	return &copied, true, nil
}

func (c *InMemoryCache) StoreLast(ctx context.Context, record *trial.RunRecord) error {
	if record == nil {
		return errors.New("nil run record")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeErr != nil {
		return c.storeErr
	}
	copied := *record
	c.last = &copied
	return nil
}

// FailStoresWith makes every subsequent StoreLast return err
func (c *InMemoryCache) FailStoresWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeErr = err
}
