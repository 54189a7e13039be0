package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/logger"
)

const (
	// DefaultPort defines the default port for the order API
	DefaultPort = "3000"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// StorageSQL persists orders through gorm
	StorageSQL = "sql"
	// StorageMemory keeps orders in process memory
	StorageMemory = "memory"

	// DefaultStorage defines the default order storage backend
	DefaultStorage = StorageSQL

	// DefaultSQLitePath defines the sqlite database file used when DATABASE_URL is empty
	DefaultSQLitePath = "data/orders.db"

	// DefaultQueuePath defines the badger directory for durable jobs
	DefaultQueuePath = "data/queue"

	// DefaultMaxConcurrentOrders defines how many orders may execute at once
	DefaultMaxConcurrentOrders = 10

	// DefaultRateLimitMax defines the number of dispatches allowed per rate window
	DefaultRateLimitMax = 100

	// DefaultRateLimitWindow defines the sliding window for dispatch rate limiting
	DefaultRateLimitWindow = 60 * time.Second

	// DefaultMaxAttempts defines the total attempts per order, first run included
	DefaultMaxAttempts = 3

	// DefaultBackoffDelay defines the delay before the first retry, doubled for each further retry
	DefaultBackoffDelay = 1000 * time.Millisecond

	// History retention for finished jobs
	DefaultCompletedHistoryCount = 100
	DefaultCompletedHistoryAge   = 24 * time.Hour
	DefaultFailedHistoryCount    = 200
	DefaultFailedHistoryAge      = 7 * 24 * time.Hour

	// Simulated venue latencies
	DefaultQuoteLatency        = 200 * time.Millisecond
	DefaultExecutionMinLatency = 2 * time.Second
	DefaultExecutionJitter     = 1 * time.Second

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultLogFormat defines the default log output format
	DefaultLogFormat = "text"

	// DefaultCORSAllowedOrigins defines the default allowed origins for the order API
	DefaultCORSAllowedOrigins = "*"
)

func getEnvPort(name, def string) (string, error) {
	port := os.Getenv(name)
	if port == "" {
		return def, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid integer", name, port)
	}
	return port, nil
}

func getEnvPositiveInt(name string, def int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func getEnvDuration(name string, def time.Duration, allowZero bool) (time.Duration, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, value)
	}
	if parsed < 0 || (parsed == 0 && !allowZero) {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func getEnvBool(name string, def bool) (bool, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	switch strings.ToLower(value) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, value)
}

// GetEnvPort returns the order API port from environment variables
func GetEnvPort() (string, error) {
	return getEnvPort("PORT", DefaultPort)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	return getEnvPort("METRICS_PORT", DefaultMetricsPort)
}

// GetEnvStorage returns the order storage backend from environment variables
func GetEnvStorage() (string, error) {
	storage := os.Getenv("STORAGE")
	if storage == "" {
		return DefaultStorage, nil
	}
	if storage != StorageSQL && storage != StorageMemory {
		return "", fmt.Errorf("invalid STORAGE value: %s, must be '%s' or '%s'", storage, StorageSQL, StorageMemory)
	}
	return storage, nil
}

// GetEnvSQLitePath returns the sqlite file path from environment variables
func GetEnvSQLitePath() string {
	path := os.Getenv("SQLITE_PATH")
	if path == "" {
		return DefaultSQLitePath
	}
	return path
}

// GetEnvQueuePath returns the badger directory for the job store.
// QUEUE_PATH set to "memory" keeps jobs in memory only.
func GetEnvQueuePath() string {
	path, ok := os.LookupEnv("QUEUE_PATH")
	if !ok || path == "" {
		return DefaultQueuePath
	}
	if path == StorageMemory {
		return ""
	}
	return path
}

// GetEnvMaxConcurrentOrders returns the worker pool size from environment variables
func GetEnvMaxConcurrentOrders() (int, error) {
	return getEnvPositiveInt("MAX_CONCURRENT_ORDERS", DefaultMaxConcurrentOrders)
}

// GetEnvRateLimitMax returns the dispatches allowed per window from environment variables
func GetEnvRateLimitMax() (int, error) {
	return getEnvPositiveInt("RATE_LIMIT_MAX", DefaultRateLimitMax)
}

// GetEnvRateLimitWindow returns the rate limit window from environment variables
func GetEnvRateLimitWindow() (time.Duration, error) {
	return getEnvDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow, false)
}

// GetEnvMaxAttempts returns the total attempts per order from environment variables
func GetEnvMaxAttempts() (int, error) {
	return getEnvPositiveInt("MAX_ATTEMPTS", DefaultMaxAttempts)
}

// GetEnvBackoffDelay returns the base retry delay from environment variables
func GetEnvBackoffDelay() (time.Duration, error) {
	return getEnvDuration("BACKOFF_DELAY", DefaultBackoffDelay, true)
}

// GetEnvHistory returns the retention limits for finished jobs from environment variables
func GetEnvHistory() (HistoryConfig, error) {
	var (
		h   HistoryConfig
		err error
	)
	if h.CompletedCount, err = getEnvPositiveInt("COMPLETED_HISTORY_COUNT", DefaultCompletedHistoryCount); err != nil {
		return h, err
	}
	if h.CompletedAge, err = getEnvDuration("COMPLETED_HISTORY_AGE", DefaultCompletedHistoryAge, false); err != nil {
		return h, err
	}
	if h.FailedCount, err = getEnvPositiveInt("FAILED_HISTORY_COUNT", DefaultFailedHistoryCount); err != nil {
		return h, err
	}
	if h.FailedAge, err = getEnvDuration("FAILED_HISTORY_AGE", DefaultFailedHistoryAge, false); err != nil {
		return h, err
	}
	return h, nil
}

// GetEnvVenueLatency returns the simulated venue latencies from environment variables
func GetEnvVenueLatency() (VenueConfig, error) {
	var (
		v   VenueConfig
		err error
	)
	if v.QuoteLatency, err = getEnvDuration("QUOTE_LATENCY", DefaultQuoteLatency, true); err != nil {
		return v, err
	}
	if v.ExecutionMinLatency, err = getEnvDuration("EXECUTION_MIN_LATENCY", DefaultExecutionMinLatency, true); err != nil {
		return v, err
	}
	if v.ExecutionJitter, err = getEnvDuration("EXECUTION_JITTER", DefaultExecutionJitter, true); err != nil {
		return v, err
	}
	return v, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow*time.Second, false)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset*time.Second, false)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", level)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", false)
}

// GetEnvLogFormat returns the log format from environment variables
func GetEnvLogFormat() (string, error) {
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		return DefaultLogFormat, nil
	}
	if format != "text" && format != "json" {
		return "", fmt.Errorf("invalid LOG_FORMAT value: %s, must be 'text' or 'json'", format)
	}
	return format, nil
}

// GetEnvCORSAllowedOrigins returns the allowed origins for the order API
func GetEnvCORSAllowedOrigins() []string {
	origins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if origins == "" {
		origins = DefaultCORSAllowedOrigins
	}
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
