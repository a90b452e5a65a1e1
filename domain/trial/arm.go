package trial

// ArmState is the mutable per-arm state of one simulated trial
type ArmState struct {
	Arm                  Arm
	Probability          float64
	Active               bool
	CumulativeSuccesses  int
	CumulativeSampleSize int
	PosteriorMean        float64
}

// NewArmState creates an active arm at its Beta(1,1) prior mean
func NewArmState(arm Arm, probability float64) ArmState {
	return ArmState{
		Arm:           arm,
		Probability:   probability,
		Active:        true,
		PosteriorMean: PosteriorMean(0, 0),
	}
}

// Accrue adds one look's observations and refreshes the posterior mean.
// Inactive arms are left untouched.
func (s *ArmState) Accrue(successes, trials int) {
	if !s.Active {
		return
	}
	s.CumulativeSuccesses += successes
	s.CumulativeSampleSize += trials
	s.PosteriorMean = PosteriorMean(s.CumulativeSuccesses, s.CumulativeSampleSize)
}

// Drop deactivates the arm for the rest of the run
func (s *ArmState) Drop() {
	s.Active = false
}

// PosteriorMean is the Beta(1,1) conjugate posterior mean (s+1)/(n+2)
func PosteriorMean(successes, trials int) float64 {
	return float64(successes+1) / float64(trials+2)
}
