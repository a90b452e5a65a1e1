package rng

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draws(t *testing.T, runID, name string, seed int64) []float64 {
	stream, err := NewAdapter().Stream(context.Background(), runID, name, seed)
	require.NoError(t, err)
	out := make([]float64, 5)
	for i := range out {
		out[i] = stream.Float64()
	}
	return out
}

func TestStream_Deterministic(t *testing.T) {
	assert.Equal(t, draws(t, "run-1", "scenario-a", 42), draws(t, "run-1", "scenario-a", 42))
}

func TestStream_NamesSeparateStreams(t *testing.T) {
	assert.NotEqual(t, draws(t, "run-1", "scenario-a", 42), draws(t, "run-1", "scenario-b", 42))
	assert.NotEqual(t, draws(t, "run-1", "scenario-a", 42), draws(t, "run-2", "scenario-a", 42))
}

func TestDeriveSeed(t *testing.T) {
	assert.Equal(t, int64(7), DeriveSeed("", "", 7))
	assert.Equal(t, int64(hashString("run-1")), DeriveSeed("run-1", "", 0))
	assert.NotEqual(t, DeriveSeed("a", "", 7), DeriveSeed("", "a", 8))
}

func TestSeededStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAdapter().SeededStream(ctx, "x", 1)
	assert.Error(t, err)
}
