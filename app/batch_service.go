package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/internal"
	apperrors "trialsim/internal/errors"
	"trialsim/internal/scenario"
	"trialsim/ports"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// BatchService runs a set of named scenarios through the simulation service
type BatchService struct {
	simulations *SimulationService
	rngPort     ports.RNGPort
	sem         *semaphore.Weighted
	logger      *internal.Logger
}

// BatchRequest defines a scenario batch
type BatchRequest struct {
	Scenarios []scenario.Scenario
	// BaseSeed derives a seed per scenario that does not pin its own
	BaseSeed int64
	BatchID  string
	// Progress is called per scenario as its runs complete
	Progress func(name string, completed, total int)
}

// ScenarioOutcome is the result of one scenario in a batch
type ScenarioOutcome struct {
	Name     string           `json:"name"`
	Seed     int64            `json:"seed"`
	Record   *trial.RunRecord `json:"record,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
}

// Failed reports whether the scenario produced no result
func (o ScenarioOutcome) Failed() bool {
	return o.Error != ""
}

// BatchResult collects scenario outcomes in input order
type BatchResult struct {
	BatchID   string            `json:"batch_id"`
	Outcomes  []ScenarioOutcome `json:"outcomes"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Duration  time.Duration     `json:"duration"`
}

// NewBatchService creates a batch service running at most concurrency
// scenarios at once.
func NewBatchService(simulations *SimulationService, rngPort ports.RNGPort, concurrency int, logger *internal.Logger) *BatchService {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &BatchService{
		simulations: simulations,
		rngPort:     rngPort,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      logger.WithComponent("Batch"),
	}
}

// Run simulates every scenario. A failing scenario is recorded in its
// outcome and the rest continue; only cancellation aborts the batch.
func (b *BatchService) Run(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if err := scenario.Validate(req.Scenarios); err != nil {
		return nil, apperrors.Classify(err)
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = core.NewID().String()
	}

	seeds, err := b.scenarioSeeds(ctx, req)
	if err != nil {
		return nil, apperrors.Classify(err)
	}

	start := time.Now()
	b.logger.Info("batch %s: %d scenarios, base seed %d", batchID, len(req.Scenarios), req.BaseSeed)

	outcomes := make([]ScenarioOutcome, len(req.Scenarios))
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range req.Scenarios {
		if err := b.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer b.sem.Release(1)

			simReq := SimulationRequest{
				Config: sc.Config,
				Seed:   &seeds[i],
				Label:  sc.Name,
			}
			if req.Progress != nil {
				simReq.Progress = func(completed, total int) {
					progressMu.Lock()
					defer progressMu.Unlock()
					req.Progress(sc.Name, completed, total)
				}
			}

			outcome := ScenarioOutcome{Name: sc.Name, Seed: seeds[i]}
			res, err := b.simulations.Run(gctx, simReq)
			if err != nil {
				code := apperrors.GetCode(err)
				if code == apperrors.CodeCancelled {
					return err
				}
				b.logger.Warn("scenario %q failed: %v", sc.Name, err)
				outcome.Error = err.Error()
				outcome.Code = code
			} else {
				outcome.Record = res.Record
				outcome.Warnings = res.PersistenceWarnings
			}
			outcomes[i] = outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, apperrors.Classify(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Classify(fmt.Errorf("batch %s cancelled: %w", batchID, err))
	}

	result := &BatchResult{BatchID: batchID, Outcomes: outcomes, Duration: time.Since(start)}
	for _, o := range outcomes {
		if o.Failed() {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	b.logger.Info("batch %s done in %s: %d succeeded, %d failed", batchID, result.Duration, result.Succeeded, result.Failed)
	return result, nil
}

// scenarioSeeds resolves every scenario seed up front. Seeds depend only on
// the base seed and scenario name, never on the batch id or scheduling.
func (b *BatchService) scenarioSeeds(ctx context.Context, req BatchRequest) ([]int64, error) {
	seeds := make([]int64, len(req.Scenarios))
	for i, sc := range req.Scenarios {
		if sc.Seed != nil {
			seeds[i] = *sc.Seed
			continue
		}
		stream, err := b.rngPort.Stream(ctx, "", sc.Name, req.BaseSeed)
		if err != nil {
			return nil, err
		}
		seeds[i] = stream.Int63()
	}
	return seeds, nil
}

// FirstFailure returns the first failed outcome, if any
func (r *BatchResult) FirstFailure() error {
	for _, o := range r.Outcomes {
		if o.Failed() {
			return errors.New(o.Name + ": " + o.Error)
		}
	}
	return nil
}
