package simulator

import (
	"context"
	"errors"
	"testing"

	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepSampleSizes(t *testing.T) {
	assert.Equal(t, []int{50, 2537, 5025, 7512, 10000}, SweepSampleSizes())
}

func TestSimulate_Bounds(t *testing.T) {
	cfg := testkit.SmallConfig()

	res, err := Simulate(context.Background(), cfg, testkit.Seeded(42))
	require.NoError(t, err)

	for _, arm := range trial.TreatmentArms {
		assert.GreaterOrEqual(t, res.Power.Get(arm), 0.0)
		assert.LessOrEqual(t, res.Power.Get(arm), 100.0)
	}
	assert.GreaterOrEqual(t, res.TypeIErrorRate, 0.0)
	assert.LessOrEqual(t, res.TypeIErrorRate, 100.0)
	assert.GreaterOrEqual(t, res.AverageFinalSampleSize, 0.0)
	assert.LessOrEqual(t, res.AverageFinalSampleSize, float64(cfg.SampleSizePerArm))

	assert.LessOrEqual(t, res.PowerInterval.Treatment1.Lower, res.Power.Treatment1)
	assert.GreaterOrEqual(t, res.PowerInterval.Treatment1.Upper, res.Power.Treatment1)
	assert.LessOrEqual(t, res.SampleSize.Min, int(res.SampleSize.Median))
	assert.GreaterOrEqual(t, res.SampleSize.Max, int(res.SampleSize.Median))
	assert.InDelta(t, res.AverageFinalSampleSize, res.SampleSize.Mean, 1e-12)

	total := 0
	for _, n := range res.StopReasons {
		total += n
	}
	assert.Equal(t, cfg.NumSimulations, total)
	early := 0
	for reason, n := range res.StopReasons {
		if reason.IsEarly() {
			early += n
		}
	}
	assert.InDelta(t, 100*float64(early)/float64(cfg.NumSimulations), res.EarlyStopRate, 1e-9)
	assert.GreaterOrEqual(t, res.AverageLooks, 1.0)
	assert.LessOrEqual(t, res.AverageLooks, float64(cfg.InterimLooks))

	require.Len(t, res.PowerCurve, SweepPoints)
	for i, size := range SweepSampleSizes() {
		assert.Equal(t, size, res.PowerCurve[i].SampleSize)
	}
	assert.Equal(t, EngineVersion, res.EngineVersion)
	assert.InDelta(t, 1.959964, res.ZCritical, 2e-5)
}

func TestSimulate_DeterministicWithSeed(t *testing.T) {
	cfg := testkit.SmallConfig()

	a, err := Simulate(context.Background(), cfg, testkit.Seeded(2024))
	require.NoError(t, err)
	b, err := Simulate(context.Background(), cfg, testkit.Seeded(2024))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRunBatch_PowerGrowsWithSampleSize(t *testing.T) {
	const seeds = 20
	meanPower := func(sampleSize int) float64 {
		cfg := testkit.SmallConfig()
		cfg.SampleSizePerArm = sampleSize
		z := ZCritical(cfg.ConfidenceLevel)

		total := 0.0
		for seed := int64(1); seed <= seeds; seed++ {
			res, err := New().runBatch(context.Background(), cfg, z, testkit.Seeded(seed), &progressTracker{})
			require.NoError(t, err)
			total += res.Power.Treatment1 + res.Power.Treatment2
		}
		return total / seeds
	}

	small, large := meanPower(50), meanPower(1000)
	assert.Greater(t, large, small)
	assert.Greater(t, large, 90.0)
}

func TestSimulate_CountsFutilityStops(t *testing.T) {
	cfg := trial.SimulationConfig{
		ArmsEffects:       []float64{30, 0, 45},
		SampleSizePerArm:  300,
		InterimLooks:      3,
		FutilityThreshold: 0.05,
		ConfidenceLevel:   95,
		NumSimulations:    500,
	}

	res, err := Simulate(context.Background(), cfg, testkit.Seeded(1))
	require.NoError(t, err)

	// treatment1 has no responders, so it is dropped at look 1 in every run
	assert.Zero(t, res.StopReasons[trial.StopCompleted])
	assert.Zero(t, res.StopReasons[trial.StopEfficacyTreatment1])
	assert.Positive(t, res.StopReasons[trial.StopFutilityTreatment1])
	assert.Positive(t, res.StopReasons[trial.StopEfficacyTreatment2])
	assert.Equal(t, cfg.NumSimulations,
		res.StopReasons[trial.StopFutilityTreatment1]+
			res.StopReasons[trial.StopEfficacyTreatment2]+
			res.StopReasons[trial.StopAllDropped])
}

func TestSimulate_NullRunUsesControlEffectForEveryArm(t *testing.T) {
	cfg := testkit.SmallConfig()
	cfg.ArmsEffects = []float64{0, 50, 50}

	res, err := Simulate(context.Background(), cfg, testkit.Seeded(11))
	require.NoError(t, err)

	// Under [0,0,0] no arm ever records a success, so nothing can beat control.
	assert.Equal(t, 0.0, res.TypeIErrorRate)
	assert.Greater(t, res.Power.Treatment1, 90.0)
	assert.Empty(t, res.Warnings)
}

func TestSimulate_NullRunsDrawTheirOwnValues(t *testing.T) {
	cfg := testkit.SmallConfig()
	cfg.FutilityThreshold = 0
	// every draw succeeds, so every run completes with all arms active
	src := testkit.NewFuncSource(func(int) float64 { return 0 })

	res, err := Simulate(context.Background(), cfg, src)
	require.NoError(t, err)

	perRun := func(n int) int {
		return trial.NumArms * (n / cfg.InterimLooks) * cfg.InterimLooks
	}
	want := 2 * cfg.NumSimulations * perRun(cfg.SampleSizePerArm)
	for _, size := range SweepSampleSizes() {
		want += SweepRunsPerPoint * perRun(size)
	}

	assert.Equal(t, want, src.Calls())
	assert.Equal(t, 0.0, res.TypeIErrorRate)
	assert.Equal(t, cfg.NumSimulations, res.StopReasons[trial.StopCompleted])
}

func TestRunBatch_PrimaryAndNullRunsUseDisjointDraws(t *testing.T) {
	cfg := testkit.SmallConfig()
	z := ZCritical(cfg.ConfidenceLevel)
	rec := testkit.NewRecordingSource(testkit.Seeded(17))

	res, err := New().runBatch(context.Background(), cfg, z, rec, &progressTracker{})
	require.NoError(t, err)
	draws := rec.Draws()

	// Replaying the recording one run at a time, primary then null, must
	// account for every draw exactly once and rebuild the same tallies.
	offset := 0
	replay := func(c trial.SimulationConfig) *trial.TrialRunResult {
		start := offset
		src := testkit.NewFuncSource(func(i int) float64 { return draws[start+i] })
		run, err := runTrial(c, z, src)
		require.NoError(t, err)
		require.Positive(t, src.Calls())
		offset += src.Calls()
		return run
	}

	null := cfg.NullHypothesis()
	var efficacy [trial.NumArms]int
	typeI := 0
	for i := 0; i < cfg.NumSimulations; i++ {
		primary := replay(cfg)
		if arm, ok := primary.StopReason.EfficacyArm(); ok {
			efficacy[arm]++
		}
		nullRun := replay(null)
		fired, err := isTypeIError(nullRun, z)
		require.NoError(t, err)
		if fired {
			typeI++
		}
	}

	assert.Equal(t, len(draws), offset)
	n := float64(cfg.NumSimulations)
	assert.InDelta(t, 100*float64(efficacy[trial.ArmTreatment1])/n, res.Power.Treatment1, 1e-9)
	assert.InDelta(t, 100*float64(efficacy[trial.ArmTreatment2])/n, res.Power.Treatment2, 1e-9)
	assert.InDelta(t, 100*float64(typeI)/n, res.TypeIErrorRate, 1e-9)
}

func TestSimulate_WarnsOnInflatedTypeIError(t *testing.T) {
	cfg := trial.SimulationConfig{
		ArmsEffects:       []float64{30, 30, 30},
		SampleSizePerArm:  500,
		InterimLooks:      5,
		FutilityThreshold: 0,
		ConfidenceLevel:   80,
		NumSimulations:    200,
	}

	res, err := Simulate(context.Background(), cfg, testkit.Seeded(5))
	require.NoError(t, err)

	assert.Greater(t, res.TypeIErrorRate, trial.TypeIErrorLimit)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Type I error rate")
}

func TestSimulate_ValidationFailsBeforeAnyRun(t *testing.T) {
	cfg := testkit.SmallConfig()
	cfg.InterimLooks = 6
	src := testkit.NewFuncSource(func(int) float64 { return 0.5 })
	calls := 0

	res, err := New(WithProgress(func(int, int) { calls++ })).Simulate(context.Background(), cfg, src)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))

	var verr *trial.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "interim_looks", verr.Field)
	assert.Zero(t, src.Calls())
	assert.Zero(t, calls)
}

func TestSimulate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Simulate(ctx, testkit.SmallConfig(), testkit.Seeded(1))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSimulate_CancelledMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := New(WithProgress(func(done, total int) {
		if done >= DefaultPollInterval {
			cancel()
		}
	}))

	res, err := sim.Simulate(ctx, testkit.SmallConfig(), testkit.Seeded(1))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSimulate_ReportsProgress(t *testing.T) {
	cfg := testkit.SmallConfig()
	var last, total int

	sim := New(WithPollInterval(25), WithProgress(func(done, all int) {
		assert.GreaterOrEqual(t, done, last)
		last, total = done, all
	}))

	_, err := sim.Simulate(context.Background(), cfg, testkit.Seeded(9))
	require.NoError(t, err)

	assert.Equal(t, cfg.NumSimulations+SweepPoints*SweepRunsPerPoint, total)
	assert.Equal(t, total, last)
}

func TestRunBatch_AbortsOnComputationError(t *testing.T) {
	cfg := testkit.SmallConfig()
	cfg.SampleSizePerArm = 0
	cfg.InterimLooks = 1

	progress := &progressTracker{total: cfg.NumSimulations}
	res, err := New().runBatch(context.Background(), cfg, 1.96, testkit.Seeded(1), progress)
	assert.Nil(t, res)
	assert.True(t, core.IsComputationError(err))
}
