package simulator

import (
	"trialsim/domain/core"
	"trialsim/domain/trial"
)

// RandomSource yields uniform draws in [0,1). *math/rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// SimulateTrial validates the config and runs one simulated trial
func SimulateTrial(cfg trial.SimulationConfig, src RandomSource) (*trial.TrialRunResult, error) {
	if err := trial.Validate(cfg); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, core.NewComputationError(0, errNilSource)
	}
	return runTrial(cfg, ZCritical(cfg.ConfidenceLevel), src)
}

// runTrial walks NotStarted -> Looking(1..L) -> {StoppedEarly, Completed}.
// A run that reaches the last look after a futility drop ends with the
// most recent drop's reason rather than completed. cfg must already be validated.
func runTrial(cfg trial.SimulationConfig, z float64, src RandomSource) (*trial.TrialRunResult, error) {
	var arms [trial.NumArms]trial.ArmState
	for i := range arms {
		arm := trial.Arm(i)
		arms[i] = trial.NewArmState(arm, cfg.Probability(arm))
	}

	result := &trial.TrialRunResult{}
	increment := cfg.LookIncrement()

	for look := 1; look <= cfg.InterimLooks; look++ {
		result.LooksEvaluated = look

		for i := range arms {
			state := &arms[i]
			if !state.Active {
				continue
			}
			n := increment
			if state.CumulativeSampleSize+n > cfg.SampleSizePerArm {
				n = cfg.SampleSizePerArm - state.CumulativeSampleSize
			}
			state.Accrue(drawSuccesses(src, n, state.Probability), n)
			result.Trajectories[i] = append(result.Trajectories[i], state.PosteriorMean)
		}

		control := arms[trial.ArmControl]
		if control.CumulativeSampleSize <= 0 {
			return nil, core.NewComputationError(look, core.ErrZeroSampleSize)
		}

		for _, arm := range trial.TreatmentArms {
			state := &arms[arm]
			if state.Active && FutilityFires(state.PosteriorMean, control.PosteriorMean, cfg.FutilityThreshold) {
				state.Drop()
				result.Drops = append(result.Drops, trial.ArmDrop{Arm: arm, Look: look})
				result.StopReason = trial.FutilityReason(arm)
			}
		}

		for _, arm := range trial.TreatmentArms {
			state := &arms[arm]
			if !state.Active {
				continue
			}
			fired, err := EfficacyFires(state.PosteriorMean, control.PosteriorMean, control.CumulativeSampleSize, z)
			if err != nil {
				return nil, core.NewComputationError(look, err)
			}
			if fired {
				finish(result, arms, trial.EfficacyReason(arm))
				return result, nil
			}
		}

		if !arms[trial.ArmTreatment1].Active && !arms[trial.ArmTreatment2].Active {
			finish(result, arms, trial.StopAllDropped)
			return result, nil
		}
	}

	reason := trial.StopCompleted
	if len(result.Drops) > 0 {
		reason = result.StopReason
	}
	finish(result, arms, reason)
	return result, nil
}

// drawSuccesses counts n Bernoulli(p) trials, one uniform draw per trial unit
func drawSuccesses(src RandomSource, n int, p float64) int {
	successes := 0
	for i := 0; i < n; i++ {
		if src.Float64() < p {
			successes++
		}
	}
	return successes
}

func finish(result *trial.TrialRunResult, arms [trial.NumArms]trial.ArmState, reason trial.StopReason) {
	result.StopReason = reason
	result.StoppedEarly = reason.IsEarly()
	result.FinalSampleSize = arms[trial.ArmControl].CumulativeSampleSize
	for i, state := range arms {
		result.FinalPosteriors[i] = state.PosteriorMean
		result.ActiveAtEnd[i] = state.Active
	}
}
