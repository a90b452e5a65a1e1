package trial

// SimulationConfig is the immutable input of one simulation batch.
// ArmsEffects are response rates in percent, ordered control, treatment1, treatment2.
type SimulationConfig struct {
	ArmsEffects       []float64 `json:"arms_effects" yaml:"arms_effects" validate:"len=3,dive,gte=0,lte=50"`
	SampleSizePerArm  int       `json:"sample_size_per_arm" yaml:"sample_size_per_arm" validate:"gte=50,lte=10000"`
	InterimLooks      int       `json:"interim_looks" yaml:"interim_looks" validate:"gte=1,lte=5"`
	FutilityThreshold float64   `json:"futility_threshold" yaml:"futility_threshold" validate:"gte=0,lte=0.5"`
	ConfidenceLevel   float64   `json:"confidence_level" yaml:"confidence_level" validate:"gte=80,lte=99"`
	NumSimulations    int       `json:"num_simulations" yaml:"num_simulations" validate:"gte=100,lte=2000"`
}

// Fixed bounds of the power-curve sweep and the validated ranges.
const (
	MinSampleSizePerArm = 50
	MaxSampleSizePerArm = 10000
	MaxEffectPercent    = 50
	TypeIErrorLimit     = 5.0
)

// DefaultConfig returns the configuration the UI pre-fills
func DefaultConfig() SimulationConfig {
	return SimulationConfig{
		ArmsEffects:       []float64{20, 35, 30},
		SampleSizePerArm:  500,
		InterimLooks:      3,
		FutilityThreshold: 0.05,
		ConfidenceLevel:   95,
		NumSimulations:    1000,
	}
}

// Probability converts an arm's percentage effect into a probability
func (c SimulationConfig) Probability(arm Arm) float64 {
	if int(arm) >= len(c.ArmsEffects) {
		return 0
	}
	return c.ArmsEffects[arm] / 100
}

// LookIncrement is the per-look accrual for every active arm
func (c SimulationConfig) LookIncrement() int {
	if c.InterimLooks <= 0 {
		return 0
	}
	return c.SampleSizePerArm / c.InterimLooks
}

// Clone returns a deep copy so callers never share the effects slice
func (c SimulationConfig) Clone() SimulationConfig {
	out := c
	out.ArmsEffects = append([]float64(nil), c.ArmsEffects...)
	return out
}

// WithSampleSize returns a copy with a different per-arm sample size
func (c SimulationConfig) WithSampleSize(n int) SimulationConfig {
	out := c.Clone()
	out.SampleSizePerArm = n
	return out
}

// WithNumSimulations returns a copy with a different repetition count
func (c SimulationConfig) WithNumSimulations(n int) SimulationConfig {
	out := c.Clone()
	out.NumSimulations = n
	return out
}

// NullHypothesis returns the paired null configuration: both treatment
// effects equal to the control effect.
func (c SimulationConfig) NullHypothesis() SimulationConfig {
	out := c.Clone()
	if len(out.ArmsEffects) == NumArms {
		control := out.ArmsEffects[ArmControl]
		out.ArmsEffects[ArmTreatment1] = control
		out.ArmsEffects[ArmTreatment2] = control
	}
	return out
}
