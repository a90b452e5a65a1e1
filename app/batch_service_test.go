package app

import (
	"context"
	"testing"

	"trialsim/adapters/rng"
	apperrors "trialsim/internal/errors"
	"trialsim/internal/scenario"
	"trialsim/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarios() []scenario.Scenario {
	bad := testkit.SmallConfig()
	bad.SampleSizePerArm = 10
	return []scenario.Scenario{
		{Name: "baseline", Config: testkit.SmallConfig()},
		{Name: "too-small", Config: bad},
		{Name: "pinned", Config: testkit.SmallConfig(), Seed: seedPtr(1234)},
	}
}

func TestBatch_RecordsFailuresPerScenario(t *testing.T) {
	f := newFixture()
	batch := NewBatchService(f.svc, rng.NewAdapter(), 2, nil)

	res, err := batch.Run(context.Background(), BatchRequest{Scenarios: scenarios(), BaseSeed: 42})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)

	assert.Equal(t, "baseline", res.Outcomes[0].Name)
	assert.NotNil(t, res.Outcomes[0].Record)
	assert.Equal(t, "baseline", res.Outcomes[0].Record.Label)

	assert.True(t, res.Outcomes[1].Failed())
	assert.Equal(t, apperrors.CodeValidationError, res.Outcomes[1].Code)
	assert.Nil(t, res.Outcomes[1].Record)

	assert.Equal(t, int64(1234), res.Outcomes[2].Seed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Error(t, res.FirstFailure())
	assert.Equal(t, 2, f.runLog.Len())
}

func TestBatch_SeedsIndependentOfConcurrency(t *testing.T) {
	ctx := context.Background()
	req := BatchRequest{Scenarios: scenarios(), BaseSeed: 42}

	serial, err := NewBatchService(newFixture().svc, rng.NewAdapter(), 1, nil).Run(ctx, req)
	require.NoError(t, err)
	parallel, err := NewBatchService(newFixture().svc, rng.NewAdapter(), 3, nil).Run(ctx, req)
	require.NoError(t, err)

	for i := range serial.Outcomes {
		assert.Equal(t, serial.Outcomes[i].Seed, parallel.Outcomes[i].Seed)
		if serial.Outcomes[i].Record != nil {
			assert.Equal(t, serial.Outcomes[i].Record.Result, parallel.Outcomes[i].Record.Result)
		}
	}
	assert.NotEqual(t, serial.Outcomes[0].Seed, int64(42))
}

func TestBatch_InvalidScenarioSet(t *testing.T) {
	batch := NewBatchService(newFixture().svc, rng.NewAdapter(), 1, nil)

	_, err := batch.Run(context.Background(), BatchRequest{})
	assert.Equal(t, apperrors.CodeValidationError, apperrors.GetCode(err))

	dup := []scenario.Scenario{{Name: "a", Config: testkit.SmallConfig()}, {Name: "a", Config: testkit.SmallConfig()}}
	_, err = batch.Run(context.Background(), BatchRequest{Scenarios: dup})
	assert.Equal(t, apperrors.CodeValidationError, apperrors.GetCode(err))
}

func TestBatch_CancelledAbortsWholeBatch(t *testing.T) {
	f := newFixture()
	batch := NewBatchService(f.svc, rng.NewAdapter(), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := batch.Run(ctx, BatchRequest{Scenarios: scenarios(), BaseSeed: 1})
	assert.Nil(t, res)
	assert.Equal(t, apperrors.CodeCancelled, apperrors.GetCode(err))
	assert.Equal(t, 0, f.runLog.Len())
}

func TestBatch_ReportsProgressPerScenario(t *testing.T) {
	batch := NewBatchService(newFixture().svc, rng.NewAdapter(), 2, nil)
	seen := map[string]int{}

	_, err := batch.Run(context.Background(), BatchRequest{
		Scenarios: scenarios()[:1],
		Progress: func(name string, completed, total int) {
			seen[name] = completed
		},
	})
	require.NoError(t, err)
	assert.Equal(t, testkit.SmallConfig().NumSimulations+500, seen["baseline"])
}
