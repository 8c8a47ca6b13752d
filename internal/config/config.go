// Package config provides configuration management for Evermind.
// It loads settings from environment variables with the EVERMIND_ prefix and
// provides sensible defaults for all options. The numeric scoring, decay, and
// degradation constants are policy, not architecture: they live in Policy and
// can be overridden from a YAML file (EVERMIND_POLICY_PATH).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Evermind memory subsystem.
type Config struct {
	Graph       GraphConfig
	Embedding   EmbeddingConfig
	Resilience  ResilienceConfig
	Maintenance MaintenanceConfig
	Policy      Policy
}

// GraphConfig contains graph store connection settings.
type GraphConfig struct {
	URI      string // Bolt URI (default: bolt://localhost:7687)
	Username string // Auth user (default: neo4j)
	Password string // Auth password
	Database string // Database name (default: neo4j)
}

// EmbeddingConfig contains embedding provider settings.
type EmbeddingConfig struct {
	BaseURL           string        // Embedding API URL (default: http://localhost:11434)
	Model             string        // Embedding model name (default: nomic-embed-text)
	Dimensions        int           // Expected vector dimensionality (default: 768)
	RequestTimeout    time.Duration // Per-request timeout (default: 10s)
	CacheSize         int           // LRU cache entries (default: 2048)
	RequestsPerSecond float64       // Rate limit (default: 20)
	Burst             int           // Rate limiter burst (default: 5)
}

// ResilienceConfig contains error handler and degradation settings.
type ResilienceConfig struct {
	MaxErrorLog        int           // Bounded error log size (default: 1000)
	CriticalThreshold  int           // Criticals before degradation (default: 5)
	CategoryRateMax    int           // Per-category errors per window (default: 10)
	CategoryRateWindow time.Duration // Rolling window (default: 10m)
	DegradationTimeout time.Duration // Auto-deactivation timeout (default: 30m)
	RetryAttempts      int           // Default retry budget (default: 2)
	RetryBackoff       time.Duration // Initial backoff (default: 100ms)
	CallTimeout        time.Duration // Per-call timeout for external calls (default: 15s)
}

// MaintenanceConfig controls the periodic maintenance sweep.
type MaintenanceConfig struct {
	Enabled  bool          // Run the sweep from cmd/evermindd (default: true)
	Interval time.Duration // Sweep interval (default: 1h)
}

// LoadConfig loads configuration from environment variables with defaults.
// When EVERMIND_POLICY_PATH is set, the YAML file overrides policy defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Graph: GraphConfig{
			URI:      getEnv("EVERMIND_GRAPH_URI", "bolt://localhost:7687"),
			Username: getEnv("EVERMIND_GRAPH_USER", "neo4j"),
			Password: getEnv("EVERMIND_GRAPH_PASSWORD", ""),
			Database: getEnv("EVERMIND_GRAPH_DATABASE", "neo4j"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:           getEnv("EVERMIND_EMBEDDING_URL", "http://localhost:11434"),
			Model:             getEnv("EVERMIND_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimensions:        getEnvInt("EVERMIND_EMBEDDING_DIMENSIONS", 768),
			RequestTimeout:    getEnvDuration("EVERMIND_EMBEDDING_TIMEOUT", 10*time.Second),
			CacheSize:         getEnvInt("EVERMIND_EMBEDDING_CACHE_SIZE", 2048),
			RequestsPerSecond: getEnvFloat("EVERMIND_EMBEDDING_RPS", 20),
			Burst:             getEnvInt("EVERMIND_EMBEDDING_BURST", 5),
		},
		Resilience: ResilienceConfig{
			MaxErrorLog:        getEnvInt("EVERMIND_MAX_ERROR_LOG", 1000),
			CriticalThreshold:  getEnvInt("EVERMIND_CRITICAL_THRESHOLD", 5),
			CategoryRateMax:    getEnvInt("EVERMIND_CATEGORY_RATE_MAX", 10),
			CategoryRateWindow: getEnvDuration("EVERMIND_CATEGORY_RATE_WINDOW", 10*time.Minute),
			DegradationTimeout: getEnvDuration("EVERMIND_DEGRADATION_TIMEOUT", 30*time.Minute),
			RetryAttempts:      getEnvInt("EVERMIND_RETRY_ATTEMPTS", 2),
			RetryBackoff:       getEnvDuration("EVERMIND_RETRY_BACKOFF", 100*time.Millisecond),
			CallTimeout:        getEnvDuration("EVERMIND_CALL_TIMEOUT", 15*time.Second),
		},
		Maintenance: MaintenanceConfig{
			Enabled:  getEnvBool("EVERMIND_MAINTENANCE_ENABLED", true),
			Interval: getEnvDuration("EVERMIND_MAINTENANCE_INTERVAL", time.Hour),
		},
		Policy: DefaultPolicy(),
	}

	if path := os.Getenv("EVERMIND_POLICY_PATH"); path != "" {
		policy, err := LoadPolicy(path)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	return cfg, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax,
// e.g. "30m") or returns a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
