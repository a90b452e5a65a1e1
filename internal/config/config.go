package config

import (
	"os"
	"strconv"
	"time"

	"trialsim/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Cache      CacheConfig
	Simulation SimulationConfig
	Logging    LoggingConfig
	Profiling  ProfilingConfig
}

// DatabaseConfig holds database connection settings.
// An empty URL disables Postgres persistence.
type DatabaseConfig struct {
	URL            string
	MaxOpenConns   int
	ConnectTimeout time.Duration
}

// Enabled reports whether a database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port            string
	GinMode         string
	APIPort         string
	ShutdownTimeout time.Duration
}

// CacheConfig holds the last-result cache location
type CacheConfig struct {
	Dir      string
	InMemory bool
}

// SimulationConfig holds job and batch execution settings
type SimulationConfig struct {
	// DefaultSeed seeds runs that arrive without one; 0 means derive a fresh seed per run.
	DefaultSeed      int64
	JobWorkers       int
	BatchConcurrency int
	MaxQueuedJobs    int
	JobTimeout       time.Duration
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level string
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database:   *loadDatabaseConfig(),
		Server:     *loadServerConfig(),
		Cache:      *loadCacheConfig(),
		Simulation: *loadSimulationConfig(),
		Logging:    LoggingConfig{Level: getEnvOrDefault("LOG_LEVEL", "INFO")},
		Profiling:  *loadProfilingConfig(),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URL:            os.Getenv("DATABASE_URL"),
		MaxOpenConns:   getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		ConnectTimeout: getEnvDurationOrDefault("DB_CONNECT_TIMEOUT", 10*time.Second),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            getEnvOrDefault("PORT", "8080"),
		GinMode:         getEnvOrDefault("GIN_MODE", "debug"),
		APIPort:         getEnvOrDefault("API_PORT", "8081"),
		ShutdownTimeout: getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func loadCacheConfig() *CacheConfig {
	return &CacheConfig{
		Dir:      getEnvOrDefault("CACHE_DIR", "./data/cache"),
		InMemory: getEnvBoolOrDefault("CACHE_IN_MEMORY", false),
	}
}

func loadSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		DefaultSeed:      getEnvInt64OrDefault("DEFAULT_SEED", 0),
		JobWorkers:       getEnvIntOrDefault("JOB_WORKERS", 2),
		BatchConcurrency: getEnvIntOrDefault("BATCH_CONCURRENCY", 4),
		MaxQueuedJobs:    getEnvIntOrDefault("MAX_QUEUED_JOBS", 16),
		JobTimeout:       getEnvDurationOrDefault("JOB_TIMEOUT", 10*time.Minute),
	}
}

func loadProfilingConfig() *ProfilingConfig {
	return &ProfilingConfig{
		Port:    getEnvOrDefault("PPROF_PORT", "6060"),
		Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
	}
}

func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return errors.ConfigInvalid("PORT is required")
	}
	if !config.Cache.InMemory && config.Cache.Dir == "" {
		return errors.ConfigInvalid("CACHE_DIR is required unless CACHE_IN_MEMORY is set")
	}
	if config.Simulation.JobWorkers < 1 {
		return errors.ConfigInvalid("JOB_WORKERS must be at least 1")
	}
	if config.Simulation.BatchConcurrency < 1 {
		return errors.ConfigInvalid("BATCH_CONCURRENCY must be at least 1")
	}
	if config.Simulation.MaxQueuedJobs < 1 {
		return errors.ConfigInvalid("MAX_QUEUED_JOBS must be at least 1")
	}
	if config.Simulation.JobTimeout <= 0 {
		return errors.ConfigInvalid("JOB_TIMEOUT must be positive")
	}
	if config.Database.Enabled() && config.Database.MaxOpenConns < 1 {
		return errors.ConfigInvalid("DB_MAX_OPEN_CONNS must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
