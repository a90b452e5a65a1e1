package container

import (
	"context"
	"fmt"
	"time"

	badgercache "trialsim/adapters/badger"
	"trialsim/adapters/postgres"
	"trialsim/adapters/rng"
	"trialsim/app"
	"trialsim/domain/core"
	"trialsim/internal"
	"trialsim/internal/api"
	"trialsim/internal/config"
	"trialsim/internal/jobs"
	"trialsim/internal/metrics"
	"trialsim/internal/migration"
	"trialsim/internal/testkit"
	"trialsim/ports"

	"github.com/dgraph-io/badger/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// jobRetention is how long finished jobs stay pollable
const jobRetention = time.Hour

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config  *config.Config
	Logger  *internal.Logger
	Metrics *metrics.Metrics

	// Infrastructure; DB is nil when no DATABASE_URL is configured
	DB      *sqlx.DB
	CacheDB *badger.DB

	// Repositories (data access layer)
	UserRepo ports.UserRepository
	RunLog   ports.RunLog
	Cache    ports.ResultCache
	RNG      ports.RNGPort

	// Services
	Simulations *app.SimulationService
	Batches     *app.BatchService
	Jobs        *jobs.Manager
	SSEHub      *api.SSEHub
	API         *api.Service
}

// New creates a new dependency injection container. Postgres is used when
// configured, otherwise the run log lives in memory for the process lifetime.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := internal.NewLogger(internal.ParseLogLevel(cfg.Logging.Level))
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		RNG:     rng.NewAdapter(),
	}

	if err := c.initRunLog(ctx); err != nil {
		return nil, err
	}
	c.initCache()
	c.initServices()

	c.Logger.Info("container initialized (postgres: %t, cache: %s)", c.DB != nil, c.cacheKind())
	return c, nil
}

// initRunLog connects and migrates Postgres, or falls back to memory
func (c *Container) initRunLog(ctx context.Context) error {
	if !c.Config.Database.Enabled() {
		c.Logger.Warn("DATABASE_URL not set, run history is kept in memory only")
		c.RunLog = testkit.NewInMemoryRunLog()
		return nil
	}

	db, err := Connect(ctx, c.Config.Database)
	if err != nil {
		return err
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	c.DB = db
	c.UserRepo = postgres.NewUserRepository(db)
	c.RunLog = postgres.NewRunRepository(db)
	return nil
}

// Connect opens and pings a Postgres pool
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	return db, nil
}

// initCache opens the badger cache; a failure degrades to an in-memory cache
func (c *Container) initCache() {
	owner := postgres.DefaultUserID
	db, err := badgercache.Open(badgercache.Config{
		Path:     c.Config.Cache.Dir,
		InMemory: c.Config.Cache.InMemory,
		Logger:   c.Logger,
	})
	if err != nil {
		c.Logger.Warn("last-result cache unavailable, using memory: %v", err)
		c.Cache = testkit.NewInMemoryCache()
		return
	}
	c.CacheDB = db
	c.Cache = badgercache.NewCache(db, owner)
}

func (c *Container) initServices() {
	sim := c.Config.Simulation

	c.Simulations = app.NewSimulationService(app.SimulationServiceDeps{
		RNG:         c.RNG,
		RunLog:      c.RunLog,
		Cache:       c.Cache,
		Metrics:     c.Metrics,
		Logger:      c.Logger,
		OwnerID:     postgres.DefaultUserID,
		DefaultSeed: sim.DefaultSeed,
		NewSeed:     rng.NewSeed,
	})
	c.Batches = app.NewBatchService(c.Simulations, c.RNG, sim.BatchConcurrency, c.Logger)

	c.SSEHub = api.NewSSEHub(c.Logger)
	c.Jobs = jobs.NewManager(c.Simulations, jobs.Options{
		Workers:   sim.JobWorkers,
		QueueSize: sim.MaxQueuedJobs,
		Timeout:   sim.JobTimeout,
		Retention: jobRetention,
		Logger:    c.Logger,
		Metrics:   c.Metrics,
		Publisher: c.SSEHub,
	})
	c.SSEHub.SetLookup(func(id string) (*jobs.Job, error) {
		return c.Jobs.Get(core.JobID(id))
	})
	c.API = api.NewService(c.Simulations, c.Batches, c.Jobs, c.Logger)
}

func (c *Container) cacheKind() string {
	switch {
	case c.CacheDB == nil:
		return "memory"
	case c.Config.Cache.InMemory:
		return "badger (in-memory)"
	default:
		return "badger " + c.Config.Cache.Dir
	}
}

// Start launches background workers
func (c *Container) Start() {
	c.Jobs.Start()
}

// Close stops workers and releases storage, reporting the first failure
func (c *Container) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.Jobs != nil {
		keep(c.Jobs.Stop(ctx))
	}
	if c.SSEHub != nil {
		c.SSEHub.Close()
	}
	if c.CacheDB != nil {
		keep(c.CacheDB.Close())
	}
	if c.DB != nil {
		keep(c.DB.Close())
	}
	return firstErr
}
