package simulator

import (
	"context"
	"fmt"
	"math"

	"trialsim/domain/trial"

	"gonum.org/v1/gonum/floats"
)

const (
	// SweepPoints is the number of sample sizes on the power curve.
	SweepPoints = 5
	// SweepRunsPerPoint is the number of primary runs per curve point.
	SweepRunsPerPoint = 100
)

// SweepSampleSizes returns the floored, evenly spaced grid over the valid
// per-arm sample size range: 50, 2537, 5025, 7512, 10000.
func SweepSampleSizes() []int {
	grid := floats.Span(make([]float64, SweepPoints), trial.MinSampleSizePerArm, trial.MaxSampleSizePerArm)
	sizes := make([]int, len(grid))
	for i, v := range grid {
		sizes[i] = int(math.Floor(v))
	}
	return sizes
}

// sweepPower estimates power at each grid size with the caller's other
// parameters held fixed. Only primary runs are simulated.
func (s *Simulator) sweepPower(ctx context.Context, cfg trial.SimulationConfig, z float64, src RandomSource, progress *progressTracker) ([]trial.PowerPoint, error) {
	sizes := SweepSampleSizes()
	curve := make([]trial.PowerPoint, 0, len(sizes))

	for _, size := range sizes {
		pointCfg := cfg.WithSampleSize(size)
		var efficacy [trial.NumArms]int

		for r := 0; r < SweepRunsPerPoint; r++ {
			if r%s.pollEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("power sweep cancelled at n=%d: %w", size, err)
				}
				progress.report()
			}

			run, err := runTrial(pointCfg, z, src)
			if err != nil {
				return nil, fmt.Errorf("sweep run n=%d #%d: %w", size, r, err)
			}
			if arm, ok := run.StopReason.EfficacyArm(); ok {
				efficacy[arm]++
			}
			progress.advance()
		}

		curve = append(curve, trial.PowerPoint{
			SampleSize:      size,
			PowerTreatment1: 100 * float64(efficacy[trial.ArmTreatment1]) / SweepRunsPerPoint,
			PowerTreatment2: 100 * float64(efficacy[trial.ArmTreatment2]) / SweepRunsPerPoint,
		})
	}
	return curve, nil
}
