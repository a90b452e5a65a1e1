package container

import (
	"context"
	"testing"
	"time"

	"trialsim/app"
	"trialsim/internal/config"
	"trialsim/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Cache:  config.CacheConfig{InMemory: true},
		Simulation: config.SimulationConfig{
			JobWorkers:       1,
			BatchConcurrency: 2,
			MaxQueuedJobs:    2,
			JobTimeout:       time.Minute,
		},
		Logging: config.LoggingConfig{Level: "ERROR"},
	}
}

func TestNew_WithoutDatabase(t *testing.T) {
	c, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer func() { assert.NoError(t, c.Close(context.Background())) }()

	assert.Nil(t, c.DB)
	assert.Nil(t, c.UserRepo)
	assert.NotNil(t, c.CacheDB)
	assert.IsType(t, &testkit.InMemoryRunLog{}, c.RunLog)
	assert.Equal(t, "badger (in-memory)", c.cacheKind())

	seed := int64(3)
	out, err := c.Simulations.Run(context.Background(), app.SimulationRequest{Config: testkit.SmallConfig(), Seed: &seed})
	require.NoError(t, err)

	last, err := c.Simulations.LastResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, out.Record.ID, last.ID)
}

func TestNew_CacheFallsBackToMemory(t *testing.T) {
	cfg := memoryConfig()
	cfg.Cache = config.CacheConfig{}

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.Nil(t, c.CacheDB)
	assert.IsType(t, &testkit.InMemoryCache{}, c.Cache)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}
