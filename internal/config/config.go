package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP      HTTPConfig
	Graph     GraphConfig
	Detection DetectionConfig
	Batch     BatchConfig
	Logging   LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	AllowedOriginsCSV string
}

// GraphConfig describes connectivity to the Neo4j graph database.
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// DetectionConfig tunes the community detection and proximity algorithms.
type DetectionConfig struct {
	Resolution        float64
	Tolerance         float64
	MaxPasses         int
	MaxLevels         int
	Parallelism       int
	ProximityMaxDepth int
	RealTimeDiversity bool
}

// BatchConfig governs the periodic feature recomputation.
type BatchConfig struct {
	Interval   time.Duration
	RunOnStart bool
	Timeout    time.Duration
	PageSize   int
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	Colored       bool
	IncludeCaller bool
}

const (
	defaultHost              = "0.0.0.0"
	defaultPort              = 8080
	defaultReadTimeout       = 10 * time.Second
	defaultWriteTimeout      = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultLoggingLevel      = "info"
	defaultLoggingFormat     = "text"
	defaultGraphMaxSessions  = 10
	defaultResolution        = 1.0
	defaultTolerance         = 1e-6
	defaultMaxPasses         = 10
	defaultMaxLevels         = 10
	defaultProximityMaxDepth = 10
	defaultBatchInterval     = time.Hour
	defaultBatchTimeout      = 15 * time.Minute
	defaultBatchPageSize     = 5000
)

// Load reads configuration from environment variables, applying defaults.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTP: HTTPConfig{
			Host: valueOrDefault("SERVER_HOST", defaultHost),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			Colored:       parseBoolWithDefault("LOG_COLOR", false),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Graph: GraphConfig{
			URI:            os.Getenv("NEO4J_URI"),
			Database:       valueOrDefault("NEO4J_DATABASE", ""),
			Username:       os.Getenv("NEO4J_USER"),
			Password:       os.Getenv("NEO4J_PASSWORD"),
			MaxConnections: parseIntWithDefault("NEO4J_MAX_CONNECTIONS", defaultGraphMaxSessions),
		},
		Detection: DetectionConfig{
			Resolution:        parseFloatWithDefault("DETECTION_RESOLUTION", defaultResolution),
			Tolerance:         parseFloatWithDefault("DETECTION_TOLERANCE", defaultTolerance),
			MaxPasses:         parseIntWithDefault("DETECTION_MAX_PASSES", defaultMaxPasses),
			MaxLevels:         parseIntWithDefault("DETECTION_MAX_LEVELS", defaultMaxLevels),
			Parallelism:       parseIntWithDefault("DETECTION_PARALLELISM", 0),
			ProximityMaxDepth: parseIntWithDefault("PROXIMITY_MAX_DEPTH", defaultProximityMaxDepth),
			RealTimeDiversity: parseBoolWithDefault("EVALUATE_REALTIME_DIVERSITY", true),
		},
		Batch: BatchConfig{
			RunOnStart: parseBoolWithDefault("BATCH_RUN_ON_START", true),
			PageSize:   parseIntWithDefault("BATCH_PAGE_SIZE", defaultBatchPageSize),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	if cfg.HTTP.ReadTimeout, err = parseDurationWithDefault("SERVER_READ_TIMEOUT", defaultReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.WriteTimeout, err = parseDurationWithDefault("SERVER_WRITE_TIMEOUT", defaultWriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.IdleTimeout, err = parseDurationWithDefault("SERVER_IDLE_TIMEOUT", defaultIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.ShutdownTimeout, err = parseDurationWithDefault("SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Batch.Interval, err = parseDurationWithDefault("BATCH_INTERVAL", defaultBatchInterval); err != nil {
		return Config{}, err
	}
	if cfg.Batch.Timeout, err = parseDurationWithDefault("BATCH_TIMEOUT", defaultBatchTimeout); err != nil {
		return Config{}, err
	}

	cfg.HTTP.MetricsEnabled = parseBoolWithDefault("SERVER_METRICS_ENABLED", true)
	cfg.HTTP.AllowedOriginsCSV = os.Getenv("SERVER_ALLOWED_ORIGINS")

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
