package simulator

import (
	"context"
	"errors"
	"fmt"

	"trialsim/domain/trial"
)

// EngineVersion identifies the simulation algorithm. It is folded into run
// fingerprints so stored results from older engines are distinguishable.
const EngineVersion = "gsd-engine/1.0"

// DefaultPollInterval is how many runs pass between cancellation checks.
const DefaultPollInterval = 50

var errNilSource = errors.New("random source is nil")

// ProgressFunc receives completed and total run counts
type ProgressFunc func(completed, total int)

// Option configures a Simulator
type Option func(*Simulator)

// WithProgress registers a callback invoked at every cancellation poll and
// once more when the batch finishes.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Simulator) { s.progress = fn }
}

// WithPollInterval overrides the number of runs between cancellation checks
func WithPollInterval(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.pollEvery = n
		}
	}
}

// Simulator runs simulation batches. It holds no per-batch state and is safe
// for concurrent use as long as each call gets its own RandomSource.
type Simulator struct {
	progress  ProgressFunc
	pollEvery int
}

// New creates a simulator
func New(opts ...Option) *Simulator {
	s := &Simulator{pollEvery: DefaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulate runs the full batch with default options
func Simulate(ctx context.Context, cfg trial.SimulationConfig, src RandomSource) (*trial.AggregateResult, error) {
	return New().Simulate(ctx, cfg, src)
}

// Simulate validates cfg, runs the paired primary/null batch and then the
// power sweep, all drawing sequentially from src. Any failure aborts the
// batch; no partial result is returned.
func (s *Simulator) Simulate(ctx context.Context, cfg trial.SimulationConfig, src RandomSource) (*trial.AggregateResult, error) {
	if err := trial.Validate(cfg); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, errNilSource
	}

	z := ZCritical(cfg.ConfidenceLevel)
	progress := &progressTracker{
		fn:    s.progress,
		total: cfg.NumSimulations + SweepPoints*SweepRunsPerPoint,
	}

	result, err := s.runBatch(ctx, cfg, z, src, progress)
	if err != nil {
		return nil, err
	}

	curve, err := s.sweepPower(ctx, cfg, z, src, progress)
	if err != nil {
		return nil, err
	}
	result.PowerCurve = curve

	if result.TypeIErrorRate > trial.TypeIErrorLimit {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Type I error rate %.1f%% exceeds %.0f%%; consider a higher confidence level or fewer interim looks",
			result.TypeIErrorRate, trial.TypeIErrorLimit))
	}

	progress.report()
	return result, nil
}

type progressTracker struct {
	fn        ProgressFunc
	completed int
	total     int
}

func (p *progressTracker) advance() { p.completed++ }

func (p *progressTracker) report() {
	if p.fn != nil {
		p.fn(p.completed, p.total)
	}
}
