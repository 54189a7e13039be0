package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
)

// Config holds the configuration for the order execution service
type Config struct {
	Port               string
	MetricsPort        string
	MetricsAPIKey      string
	CORSAllowedOrigins []string
	Storage            StorageConfig
	Scheduler          SchedulerConfig
	Venues             VenueConfig
	CircuitBreaker     CircuitBreakerConfig
	LoggerConfig       LoggerConfig
}

// StorageConfig holds order and job persistence settings
type StorageConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	// QueuePath is the badger directory for durable jobs, empty keeps jobs in memory
	QueuePath string
}

// SchedulerConfig holds the execution scheduler limits
type SchedulerConfig struct {
	MaxConcurrent   int
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxAttempts     int
	BackoffDelay    time.Duration
	History         HistoryConfig
}

// HistoryConfig bounds how many finished jobs are kept and for how long
type HistoryConfig struct {
	CompletedCount int
	CompletedAge   time.Duration
	FailedCount    int
	FailedAge      time.Duration
}

// VenueConfig holds the simulated venue latencies
type VenueConfig struct {
	QuoteLatency        time.Duration
	ExecutionMinLatency time.Duration
	ExecutionJitter     time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
	Format   string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	port, err := GetEnvPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	storage, err := GetEnvStorage()
	if err != nil {
		return nil, err
	}

	maxConcurrent, err := GetEnvMaxConcurrentOrders()
	if err != nil {
		return nil, err
	}

	rateLimitMax, err := GetEnvRateLimitMax()
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := GetEnvRateLimitWindow()
	if err != nil {
		return nil, err
	}

	maxAttempts, err := GetEnvMaxAttempts()
	if err != nil {
		return nil, err
	}

	backoffDelay, err := GetEnvBackoffDelay()
	if err != nil {
		return nil, err
	}

	history, err := GetEnvHistory()
	if err != nil {
		return nil, err
	}

	venues, err := GetEnvVenueLatency()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	logFormat, err := GetEnvLogFormat()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               port,
		MetricsPort:        metricsPort,
		MetricsAPIKey:      os.Getenv("METRICS_API_KEY"),
		CORSAllowedOrigins: GetEnvCORSAllowedOrigins(),
		Storage: StorageConfig{
			Driver:      storage,
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SQLitePath:  GetEnvSQLitePath(),
			QueuePath:   GetEnvQueuePath(),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:   maxConcurrent,
			RateLimitMax:    rateLimitMax,
			RateLimitWindow: rateLimitWindow,
			MaxAttempts:     maxAttempts,
			BackoffDelay:    backoffDelay,
			History:         history,
		},
		Venues: venues,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
			Format:   logFormat,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Port == cfg.MetricsPort {
		return fmt.Errorf("PORT and METRICS_PORT must differ, both are %s", cfg.Port)
	}
	if cfg.Scheduler.RateLimitMax < cfg.Scheduler.MaxConcurrent {
		log.Printf("Warning: RATE_LIMIT_MAX (%d) is below MAX_CONCURRENT_ORDERS (%d), the rate limit will cap throughput",
			cfg.Scheduler.RateLimitMax, cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Storage.Driver == StorageSQL && cfg.Storage.DatabaseURL == "" && cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when DATABASE_URL is not set")
	}
	return nil
}
