package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"trialsim/adapters/export"
	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/internal"
	apperrors "trialsim/internal/errors"
	"trialsim/internal/jobs"
	"trialsim/internal/metrics"
	"trialsim/internal/simulator"
	"trialsim/models"
	"trialsim/ports"

	"github.com/google/uuid"
)

// SimulationService runs simulation batches and owns the "last result" and
// run history around the pure engine.
type SimulationService struct {
	rngPort     ports.RNGPort
	runLog      ports.RunLog // nil disables history
	cache       ports.ResultCache
	metrics     *metrics.Metrics
	logger      *internal.Logger
	ownerID     uuid.UUID
	defaultSeed int64
	newSeed     func() int64
}

// SimulationRequest defines the inputs of one batch
type SimulationRequest struct {
	Config trial.SimulationConfig `json:"config"`
	// Seed reproduces an earlier batch; nil uses the service default
	Seed     *int64                 `json:"seed,omitempty"`
	Label    string                 `json:"label,omitempty"`
	Progress simulator.ProgressFunc `json:"-"`
}

// SimulationOutcome is a computed batch plus any non-fatal persistence warnings
type SimulationOutcome struct {
	Record              *trial.RunRecord `json:"record"`
	PersistenceWarnings []string         `json:"persistence_warnings,omitempty"`
}

// SimulationServiceDeps holds the collaborators of the service
type SimulationServiceDeps struct {
	RNG         ports.RNGPort
	RunLog      ports.RunLog
	Cache       ports.ResultCache
	Metrics     *metrics.Metrics
	Logger      *internal.Logger
	OwnerID     uuid.UUID
	DefaultSeed int64
	// NewSeed generates seeds when neither the request nor DefaultSeed sets one
	NewSeed func() int64
}

// NewSimulationService creates a simulation service
func NewSimulationService(deps SimulationServiceDeps) *SimulationService {
	logger := deps.Logger
	if logger == nil {
		logger = internal.DefaultLogger
	}
	newSeed := deps.NewSeed
	if newSeed == nil {
		newSeed = func() int64 { return time.Now().UnixNano() }
	}
	return &SimulationService{
		rngPort:     deps.RNG,
		runLog:      deps.RunLog,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		logger:      logger.WithComponent("Simulator"),
		ownerID:     deps.OwnerID,
		defaultSeed: deps.DefaultSeed,
		newSeed:     newSeed,
	}
}

// Run validates, simulates, caches and records one batch. Persistence is
// best-effort: failures become warnings on the outcome, never errors.
func (s *SimulationService) Run(ctx context.Context, req SimulationRequest) (*SimulationOutcome, error) {
	start := time.Now()

	if err := trial.Validate(req.Config); err != nil {
		s.observe("invalid", start)
		return nil, apperrors.Classify(err)
	}

	seed := s.resolveSeed(req.Seed)
	src, err := s.rngPort.SeededStream(ctx, "simulation", seed)
	if err != nil {
		s.observe("failed", start)
		return nil, apperrors.Classify(err)
	}

	opts := []simulator.Option{}
	if req.Progress != nil {
		opts = append(opts, simulator.WithProgress(req.Progress))
	}

	s.logger.Info("starting batch: %d simulations, n=%d, looks=%d, seed=%d",
		req.Config.NumSimulations, req.Config.SampleSizePerArm, req.Config.InterimLooks, seed)

	result, err := simulator.New(opts...).Simulate(ctx, req.Config, src)
	if err != nil {
		classified := apperrors.Classify(err)
		if apperrors.GetCode(classified) == apperrors.CodeCancelled {
			s.logger.Warn("batch cancelled: %v", err)
			s.observe("cancelled", start)
		} else {
			s.logger.Error("batch failed: %v", err)
			s.observe("failed", start)
		}
		return nil, classified
	}

	record := trial.NewRunRecord(s.ownerID, req.Config, seed, *result)
	record.Label = req.Label
	record.DurationMs = time.Since(start).Milliseconds()

	outcome := &SimulationOutcome{Record: record}
	s.persist(ctx, outcome)

	if s.metrics != nil {
		s.metrics.RunsSimulated(2*req.Config.NumSimulations + simulator.SweepPoints*simulator.SweepRunsPerPoint)
		if result.HasWarnings() {
			s.metrics.TypeIWarnings.Inc()
		}
	}
	s.observe("success", start)

	s.logger.Info("batch %s done in %dms: power %.1f%%/%.1f%%, type I %.1f%%",
		record.Fingerprint.Short(), record.DurationMs,
		result.Power.Treatment1, result.Power.Treatment2, result.TypeIErrorRate)
	for _, w := range result.Warnings {
		s.logger.Warn("%s", w)
	}
	return outcome, nil
}

func (s *SimulationService) resolveSeed(requested *int64) int64 {
	switch {
	case requested != nil:
		return *requested
	case s.defaultSeed != 0:
		return s.defaultSeed
	default:
		return s.newSeed()
	}
}

func (s *SimulationService) persist(ctx context.Context, outcome *SimulationOutcome) {
	record := outcome.Record

	if s.cache != nil {
		if err := s.cache.StoreLast(ctx, record); err != nil {
			s.persistenceWarning(outcome, "cache", apperrors.PersistenceError("cache result", err))
		}
	}
	if s.runLog != nil {
		if err := s.runLog.Save(ctx, record, s.ownerID, record.CreatedAt); err != nil {
			s.persistenceWarning(outcome, "runlog", apperrors.PersistenceError("save run", err))
		}
	}
}

func (s *SimulationService) persistenceWarning(outcome *SimulationOutcome, target string, err error) {
	s.logger.Warn("%v", err)
	outcome.PersistenceWarnings = append(outcome.PersistenceWarnings, err.Error())
	if s.metrics != nil {
		s.metrics.PersistenceFailed(target)
	}
}

func (s *SimulationService) observe(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.SimulationFinished(status, time.Since(start))
	}
}

var _ jobs.Executor = (*SimulationService)(nil)

// Execute runs a queued job through Run
func (s *SimulationService) Execute(ctx context.Context, req jobs.Request, progress func(completed, total int)) (*jobs.Outcome, error) {
	out, err := s.Run(ctx, SimulationRequest{Config: req.Config, Seed: req.Seed, Label: req.Label, Progress: progress})
	if err != nil {
		return nil, err
	}
	return &jobs.Outcome{Record: out.Record, Warnings: out.PersistenceWarnings}, nil
}

// LastResult returns the most recently cached record
func (s *SimulationService) LastResult(ctx context.Context) (*trial.RunRecord, error) {
	if s.cache == nil {
		return nil, apperrors.Classify(core.ErrCacheMiss)
	}
	record, ok, err := s.cache.LoadLast(ctx)
	if err != nil {
		return nil, apperrors.PersistenceError("load cached result", err)
	}
	if !ok {
		return nil, apperrors.Classify(core.ErrCacheMiss)
	}
	return record, nil
}

// History lists the owner's stored runs, newest first
func (s *SimulationService) History(ctx context.Context, limit, offset int) ([]*trial.RunRecord, error) {
	if s.runLog == nil {
		return []*trial.RunRecord{}, nil
	}
	owner := s.ownerID
	records, err := s.runLog.ListRuns(ctx, ports.RunFilters{OwnerID: &owner, Limit: limit, Offset: offset})
	if err != nil {
		return nil, apperrors.PersistenceError("list runs", err)
	}
	return records, nil
}

// Stats summarizes the owner's stored runs
func (s *SimulationService) Stats(ctx context.Context) (*models.UserRunStats, error) {
	if s.runLog == nil {
		return &models.UserRunStats{}, nil
	}
	stats, err := s.runLog.GetUserRunStats(ctx, s.ownerID)
	if err != nil {
		return nil, apperrors.PersistenceError("load run stats", err)
	}
	return stats, nil
}

// GetRun loads one stored run; "last" resolves to the cached record
func (s *SimulationService) GetRun(ctx context.Context, id string) (*trial.RunRecord, error) {
	if id == "" || id == "last" {
		return s.LastResult(ctx)
	}
	runID, err := core.ParseRunID(id)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if s.runLog == nil {
		return nil, apperrors.Classify(core.NewNotFoundError("run", id))
	}
	record, err := s.runLog.GetRun(ctx, runID)
	if err != nil {
		return nil, apperrors.Classify(err)
	}
	return record, nil
}

// Replay re-runs a stored run from its config and seed and checks the
// aggregate is bit-identical.
func (s *SimulationService) Replay(ctx context.Context, id string) (*trial.RunRecord, error) {
	stored, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := stored.VerifyFingerprint(); err != nil {
		return nil, apperrors.Classify(err)
	}

	src, err := s.rngPort.SeededStream(ctx, "simulation", stored.Seed)
	if err != nil {
		return nil, apperrors.Classify(err)
	}
	result, err := simulator.Simulate(ctx, stored.Config, src)
	if err != nil {
		return nil, apperrors.Classify(err)
	}

	replayed := trial.NewRunRecord(stored.OwnerID, stored.Config, stored.Seed, *result)
	if !replayed.Fingerprint.Equals(stored.Fingerprint) {
		return nil, apperrors.Classify(fmt.Errorf("%w: engine %s cannot replay %s", core.ErrNonDeterministic, result.EngineVersion, stored.Result.EngineVersion))
	}
	if !sameAggregate(stored.Result, *result) {
		return nil, apperrors.Classify(fmt.Errorf("%w: run %s", core.ErrNonDeterministic, stored.ID))
	}
	return replayed, nil
}

// Export renders a stored run ("last" for the cached one) in the given format
// and returns the exported record.
func (s *SimulationService) Export(ctx context.Context, id string, format export.Format, w io.Writer) (*trial.RunRecord, error) {
	record, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	err = export.Write(w, format, record)
	if s.metrics != nil {
		s.metrics.Exported(string(format), err)
	}
	if err != nil {
		return nil, apperrors.ExportError(string(format), err)
	}
	return record, nil
}

// IsCacheMiss reports whether err means nothing has been computed yet
func IsCacheMiss(err error) bool {
	return errors.Is(err, core.ErrCacheMiss)
}

// sameAggregate compares two aggregates through their canonical JSON form,
// which is how stored results come back from every run log.
func sameAggregate(a, b trial.AggregateResult) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
