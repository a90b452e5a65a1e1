package trial

import "fmt"

// Arm identifies one group of the three-arm trial.
type Arm int

const (
	ArmControl Arm = iota
	ArmTreatment1
	ArmTreatment2
)

// NumArms is the fixed arm count: control plus two treatments.
const NumArms = 3

// TreatmentArms lists the non-control arms in evaluation order.
var TreatmentArms = []Arm{ArmTreatment1, ArmTreatment2}

func (a Arm) String() string {
	switch a {
	case ArmControl:
		return "control"
	case ArmTreatment1:
		return "treatment1"
	case ArmTreatment2:
		return "treatment2"
	default:
		return fmt.Sprintf("arm(%d)", int(a))
	}
}

// IsTreatment reports whether the arm is one of the non-control arms
func (a Arm) IsTreatment() bool {
	return a == ArmTreatment1 || a == ArmTreatment2
}

// StopReason is the terminal cause of a simulated trial run
type StopReason string

const (
	StopFutilityTreatment1 StopReason = "futility-treatment1"
	StopFutilityTreatment2 StopReason = "futility-treatment2"
	StopEfficacyTreatment1 StopReason = "efficacy-treatment1"
	StopEfficacyTreatment2 StopReason = "efficacy-treatment2"
	StopAllDropped         StopReason = "all-treatments-dropped"
	StopCompleted          StopReason = "completed"
)

// AllStopReasons lists every reason in reporting order.
var AllStopReasons = []StopReason{
	StopEfficacyTreatment1,
	StopEfficacyTreatment2,
	StopFutilityTreatment1,
	StopFutilityTreatment2,
	StopAllDropped,
	StopCompleted,
}

// EfficacyReason returns the efficacy stop reason for a treatment arm
func EfficacyReason(arm Arm) StopReason {
	if arm == ArmTreatment2 {
		return StopEfficacyTreatment2
	}
	return StopEfficacyTreatment1
}

// FutilityReason returns the futility drop reason for a treatment arm
func FutilityReason(arm Arm) StopReason {
	if arm == ArmTreatment2 {
		return StopFutilityTreatment2
	}
	return StopFutilityTreatment1
}

// EfficacyArm returns the arm an efficacy stop was declared for
func (r StopReason) EfficacyArm() (Arm, bool) {
	switch r {
	case StopEfficacyTreatment1:
		return ArmTreatment1, true
	case StopEfficacyTreatment2:
		return ArmTreatment2, true
	}
	return ArmControl, false
}

// IsEarly reports whether the reason terminates a run before its scheduled
// end. Futility reasons only end runs that reached the last look.
func (r StopReason) IsEarly() bool {
	switch r {
	case StopEfficacyTreatment1, StopEfficacyTreatment2, StopAllDropped:
		return true
	}
	return false
}

// TreatmentPair holds one value per treatment arm
type TreatmentPair struct {
	Treatment1 float64 `json:"treatment1"`
	Treatment2 float64 `json:"treatment2"`
}

// Get returns the value for a treatment arm; control yields zero
func (p TreatmentPair) Get(arm Arm) float64 {
	switch arm {
	case ArmTreatment1:
		return p.Treatment1
	case ArmTreatment2:
		return p.Treatment2
	}
	return 0
}

// Set stores the value for a treatment arm; control is ignored
func (p *TreatmentPair) Set(arm Arm, v float64) {
	switch arm {
	case ArmTreatment1:
		p.Treatment1 = v
	case ArmTreatment2:
		p.Treatment2 = v
	}
}

// Interval is a closed [Lower, Upper] range in percent
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// TreatmentIntervals holds one interval per treatment arm
type TreatmentIntervals struct {
	Treatment1 Interval `json:"treatment1"`
	Treatment2 Interval `json:"treatment2"`
}

// ArmDrop records a futility drop
type ArmDrop struct {
	Arm  Arm `json:"arm"`
	Look int `json:"look"`
}

// TrialRunResult is the outcome of one simulated trial
type TrialRunResult struct {
	// Trajectories holds the per-look posterior means, indexed by Arm.
	// A dropped arm's trajectory stops at the look it was dropped.
	Trajectories    [NumArms][]float64 `json:"trajectories"`
	FinalPosteriors [NumArms]float64   `json:"final_posteriors"`
	ActiveAtEnd     [NumArms]bool      `json:"active_at_end"`
	StoppedEarly    bool               `json:"stopped_early"`
	StopReason      StopReason         `json:"stop_reason"`
	FinalSampleSize int                `json:"final_sample_size"`
	LooksEvaluated  int                `json:"looks_evaluated"`
	Drops           []ArmDrop          `json:"drops,omitempty"`
}

// PowerPoint is one sample of the sample-size-vs-power curve
type PowerPoint struct {
	SampleSize      int     `json:"sample_size"`
	PowerTreatment1 float64 `json:"power_treatment1"`
	PowerTreatment2 float64 `json:"power_treatment2"`
}

// SampleSizeSummary describes the distribution of final per-arm sample sizes
type SampleSizeSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// AggregateResult is the folded outcome of a full simulation batch.
// Percentages are on a 0-100 scale.
type AggregateResult struct {
	Power                  TreatmentPair      `json:"power"`
	PowerInterval          TreatmentIntervals `json:"power_interval"`
	TypeIErrorRate         float64            `json:"type_i_error_rate"`
	TypeIErrorInterval     Interval           `json:"type_i_error_interval"`
	AverageFinalSampleSize float64            `json:"average_final_sample_size"`
	SampleSize             SampleSizeSummary  `json:"sample_size"`
	AverageLooks           float64            `json:"average_looks"`
	EarlyStopRate          float64            `json:"early_stop_rate"`
	StopReasons            map[StopReason]int `json:"stop_reasons"`
	PowerCurve             []PowerPoint       `json:"power_curve"`
	Warnings               []string           `json:"warnings"`
	NumSimulations         int                `json:"num_simulations"`
	ZCritical              float64            `json:"z_critical"`
	EngineVersion          string             `json:"engine_version"`
}

// HasWarnings reports whether any advisory was raised
func (r *AggregateResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}
