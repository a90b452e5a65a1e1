package simulator

import (
	"context"
	"fmt"

	"trialsim/domain/trial"

	"github.com/montanaflynn/stats"
)

// tally accumulates per-run outcomes of a batch
type tally struct {
	efficacy   [trial.NumArms]int
	typeI      int
	early      int
	looks      int
	reasons    map[trial.StopReason]int
	finalSizes []float64
}

func newTally(capacity int) *tally {
	reasons := make(map[trial.StopReason]int, len(trial.AllStopReasons))
	for _, r := range trial.AllStopReasons {
		reasons[r] = 0
	}
	return &tally{reasons: reasons, finalSizes: make([]float64, 0, capacity)}
}

func (t *tally) addPrimary(run *trial.TrialRunResult) {
	if arm, ok := run.StopReason.EfficacyArm(); ok {
		t.efficacy[arm]++
	}
	if run.StoppedEarly {
		t.early++
	}
	t.looks += run.LooksEvaluated
	t.reasons[run.StopReason]++
	t.finalSizes = append(t.finalSizes, float64(run.FinalSampleSize))
}

// isTypeIError reports whether a null-hypothesis run ends with any active
// treatment beating control by more than z standard errors at its final
// posteriors. A run counts at most once.
func isTypeIError(run *trial.TrialRunResult, z float64) (bool, error) {
	control := run.FinalPosteriors[trial.ArmControl]
	for _, arm := range trial.TreatmentArms {
		if !run.ActiveAtEnd[arm] {
			continue
		}
		treatment := run.FinalPosteriors[arm]
		if treatment <= control {
			continue
		}
		fired, err := EfficacyFires(treatment, control, run.FinalSampleSize, z)
		if err != nil {
			return false, err
		}
		if fired {
			return true, nil
		}
	}
	return false, nil
}

// runBatch runs NumSimulations primary runs, each paired with a null run drawn
// right after it from the same source.
func (s *Simulator) runBatch(ctx context.Context, cfg trial.SimulationConfig, z float64, src RandomSource, progress *progressTracker) (*trial.AggregateResult, error) {
	null := cfg.NullHypothesis()
	t := newTally(cfg.NumSimulations)

	for i := 0; i < cfg.NumSimulations; i++ {
		if i%s.pollEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("simulation cancelled after %d runs: %w", i, err)
			}
			progress.report()
		}

		primary, err := runTrial(cfg, z, src)
		if err != nil {
			return nil, fmt.Errorf("primary run %d: %w", i, err)
		}
		t.addPrimary(primary)

		nullRun, err := runTrial(null, z, src)
		if err != nil {
			return nil, fmt.Errorf("null run %d: %w", i, err)
		}
		typeI, err := isTypeIError(nullRun, z)
		if err != nil {
			return nil, fmt.Errorf("null run %d: %w", i, err)
		}
		if typeI {
			t.typeI++
		}
		progress.advance()
	}

	return t.result(cfg.NumSimulations, z)
}

func (t *tally) result(numSimulations int, z float64) (*trial.AggregateResult, error) {
	summary, err := summarizeSampleSizes(t.finalSizes)
	if err != nil {
		return nil, err
	}

	n := float64(numSimulations)
	res := &trial.AggregateResult{
		TypeIErrorRate:         100 * float64(t.typeI) / n,
		TypeIErrorInterval:     WilsonInterval(t.typeI, numSimulations),
		AverageFinalSampleSize: summary.Mean,
		SampleSize:             summary,
		AverageLooks:           float64(t.looks) / n,
		EarlyStopRate:          100 * float64(t.early) / n,
		StopReasons:            t.reasons,
		Warnings:               make([]string, 0),
		NumSimulations:         numSimulations,
		ZCritical:              z,
		EngineVersion:          EngineVersion,
	}
	for _, arm := range trial.TreatmentArms {
		res.Power.Set(arm, 100*float64(t.efficacy[arm])/n)
	}
	res.PowerInterval.Treatment1 = WilsonInterval(t.efficacy[trial.ArmTreatment1], numSimulations)
	res.PowerInterval.Treatment2 = WilsonInterval(t.efficacy[trial.ArmTreatment2], numSimulations)
	return res, nil
}

func summarizeSampleSizes(sizes []float64) (trial.SampleSizeSummary, error) {
	var summary trial.SampleSizeSummary
	if len(sizes) == 0 {
		return summary, nil
	}

	var err error
	if summary.Mean, err = stats.Mean(sizes); err != nil {
		return summary, fmt.Errorf("sample size mean: %w", err)
	}
	if summary.StdDev, err = stats.StandardDeviation(sizes); err != nil {
		return summary, fmt.Errorf("sample size stddev: %w", err)
	}
	if summary.Median, err = stats.Median(sizes); err != nil {
		return summary, fmt.Errorf("sample size median: %w", err)
	}
	if summary.P90, err = stats.Percentile(sizes, 90); err != nil {
		return summary, fmt.Errorf("sample size p90: %w", err)
	}
	minSize, err := stats.Min(sizes)
	if err != nil {
		return summary, fmt.Errorf("sample size min: %w", err)
	}
	maxSize, err := stats.Max(sizes)
	if err != nil {
		return summary, fmt.Errorf("sample size max: %w", err)
	}
	summary.Min, summary.Max = int(minSize), int(maxSize)
	return summary, nil
}
