package app

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"trialsim/adapters/export"
	"trialsim/adapters/rng"
	"trialsim/domain/core"
	apperrors "trialsim/internal/errors"
	"trialsim/internal/metrics"
	"trialsim/internal/testkit"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc     *SimulationService
	runLog  *testkit.InMemoryRunLog
	cache   *testkit.InMemoryCache
	metrics *metrics.Metrics
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		runLog:  testkit.NewInMemoryRunLog(),
		cache:   testkit.NewInMemoryCache(),
		metrics: metrics.New(),
	}
	f.svc = NewSimulationService(SimulationServiceDeps{
		RNG:     rng.NewAdapter(),
		RunLog:  f.runLog,
		Cache:   f.cache,
		Metrics: f.metrics,
		OwnerID: testkit.DefaultOwnerID,
		NewSeed: func() int64 { return 99 },
	})
	return f
}

func seedPtr(v int64) *int64 { return &v }

func TestRun_StoresAndCaches(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(7), Label: "baseline"})
	require.NoError(t, err)
	require.NotNil(t, out.Record)
	assert.Empty(t, out.PersistenceWarnings)

	rec := out.Record
	assert.Equal(t, int64(7), rec.Seed)
	assert.Equal(t, "baseline", rec.Label)
	assert.Equal(t, testkit.DefaultOwnerID, rec.OwnerID)
	assert.NoError(t, rec.VerifyFingerprint())
	assert.Equal(t, 1, f.runLog.Len())

	last, err := f.svc.LastResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, last.ID)

	stored, err := f.svc.GetRun(ctx, rec.ID.String())
	require.NoError(t, err)
	assert.Equal(t, rec.Result.Power, stored.Result.Power)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SimulationCounter.WithLabelValues("success")))
}

func TestRun_SameSeedSameResult(t *testing.T) {
	ctx := context.Background()
	cfg := testkit.SmallConfig()

	a, err := newFixture().svc.Run(ctx, SimulationRequest{Config: cfg, Seed: seedPtr(11)})
	require.NoError(t, err)
	b, err := newFixture().svc.Run(ctx, SimulationRequest{Config: cfg, Seed: seedPtr(11)})
	require.NoError(t, err)

	assert.Equal(t, a.Record.Fingerprint, b.Record.Fingerprint)
	assert.Equal(t, a.Record.Result, b.Record.Result)
	assert.NotEqual(t, a.Record.ID, b.Record.ID)
}

func TestRun_SeedFallbacks(t *testing.T) {
	f := newFixture()
	out, err := f.svc.Run(context.Background(), SimulationRequest{Config: testkit.SmallConfig()})
	require.NoError(t, err)
	assert.Equal(t, int64(99), out.Record.Seed)

	f.svc.defaultSeed = 5
	out, err = f.svc.Run(context.Background(), SimulationRequest{Config: testkit.SmallConfig()})
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.Record.Seed)
}

func TestRun_InvalidConfig(t *testing.T) {
	f := newFixture()
	cfg := testkit.SmallConfig()
	cfg.InterimLooks = 0

	out, err := f.svc.Run(context.Background(), SimulationRequest{Config: cfg})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, apperrors.CodeValidationError, apperrors.GetCode(err))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Equal(t, 0, f.runLog.Len())

	_, err = f.svc.LastResult(context.Background())
	assert.ErrorIs(t, err, core.ErrCacheMiss)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SimulationCounter.WithLabelValues("invalid")))
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(1)})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCancelled, apperrors.GetCode(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.runLog.Len())
}

func TestRun_PersistenceFailuresAreWarnings(t *testing.T) {
	f := newFixture()
	f.runLog.FailSavesWith(errors.New("connection refused"))
	f.cache.FailStoresWith(errors.New("disk full"))

	out, err := f.svc.Run(context.Background(), SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(3)})
	require.NoError(t, err)
	require.Len(t, out.PersistenceWarnings, 2)
	assert.Contains(t, out.PersistenceWarnings[0], "disk full")
	assert.Contains(t, out.PersistenceWarnings[1], "connection refused")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PersistenceFailures.WithLabelValues("runlog")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PersistenceFailures.WithLabelValues("cache")))
}

func TestRun_ProgressReachesTotal(t *testing.T) {
	f := newFixture()
	cfg := testkit.SmallConfig()

	var last, total int
	_, err := f.svc.Run(context.Background(), SimulationRequest{
		Config: cfg,
		Seed:   seedPtr(2),
		Progress: func(completed, t int) {
			last, total = completed, t
		},
	})
	require.NoError(t, err)
	assert.Equal(t, total, last)
	assert.Equal(t, cfg.NumSimulations+500, total)
}

func TestGetRun_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetRun(context.Background(), "missing")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))

	_, err = f.svc.GetRun(context.Background(), "last")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))
	assert.True(t, IsCacheMiss(err))
}

func TestHistory_NewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(1)})
	require.NoError(t, err)
	second, err := f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(2)})
	require.NoError(t, err)

	runs, err := f.svc.History(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []core.RunID{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []core.RunID{first.Record.ID, second.Record.ID}, ids)

	limited, err := f.svc.History(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	empty, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalRuns)
	assert.Nil(t, empty.LatestRun)

	_, err = f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(8)})
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.NotNil(t, stats.LatestRun)
}

func TestHistory_WithoutRunLog(t *testing.T) {
	svc := NewSimulationService(SimulationServiceDeps{RNG: rng.NewAdapter()})
	runs, err := svc.History(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReplay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(21)})
	require.NoError(t, err)

	replayed, err := f.svc.Replay(ctx, out.Record.ID.String())
	require.NoError(t, err)
	assert.Equal(t, out.Record.Fingerprint, replayed.Fingerprint)
	assert.Equal(t, out.Record.Result, replayed.Result)
}

func TestReplay_DetectsAlteredResult(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(21)})
	require.NoError(t, err)

	altered := *out.Record
	altered.ID = core.NewRunID()
	altered.Result.TypeIErrorRate += 1
	require.NoError(t, f.runLog.Save(ctx, &altered, testkit.DefaultOwnerID, core.Now()))

	_, err = f.svc.Replay(ctx, altered.ID.String())
	assert.ErrorIs(t, err, core.ErrNonDeterministic)
	assert.Equal(t, apperrors.CodeReplayMismatch, apperrors.GetCode(err))

	tampered := *out.Record
	tampered.ID = core.NewRunID()
	tampered.Seed++
	require.NoError(t, f.runLog.Save(ctx, &tampered, testkit.DefaultOwnerID, core.Now()))

	_, err = f.svc.Replay(ctx, tampered.ID.String())
	assert.ErrorIs(t, err, core.ErrHashMismatch)
	assert.Equal(t, apperrors.CodeReplayMismatch, apperrors.GetCode(err))
}

func TestExport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Run(ctx, SimulationRequest{Config: testkit.SmallConfig(), Seed: seedPtr(4)})
	require.NoError(t, err)

	var buf bytes.Buffer
	rec, err := f.svc.Export(ctx, "last", export.FormatCSV, &buf)
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Contains(t, buf.String(), "Type I error rate (%)")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExportCounter.WithLabelValues("csv", "success")))

	_, err = f.svc.Export(ctx, "nope", export.FormatCSV, &buf)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))
}

