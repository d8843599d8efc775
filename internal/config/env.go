package config

import (
	"fmt"
	"os"
)

// EnvConfig holds the process-wide settings sourced from the environment
// recognized by both binaries: storage targets, the pub/sub broker, the
// deployment environment tag, and the error-reporting endpoint.
type EnvConfig struct {
	DatabaseURL       string
	NATSURL           string
	Environment       string // "production" | "staging" | "dev"
	ElevationDataPath string
	FlightStatePath   string
	MetricsPort       string
	SentryDSN         string
	SentryRelease     string
}

// LoadEnvConfig reads the recognized environment variables and validates
// the ones with a closed set of legal values. DATABASE_URL is the only
// variable required to be present; everything else degrades gracefully
// (NATS/Sentry/metrics are each optional integrations).
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		NATSURL:           os.Getenv("NATS_URL"),
		Environment:       envOrDefault("SOAR_ENV", "dev"),
		ElevationDataPath: os.Getenv("ELEVATION_DATA_PATH"),
		FlightStatePath:   os.Getenv("FLIGHT_STATE_PATH"),
		MetricsPort:       envOrDefault("METRICS_PORT", "9090"),
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		SentryRelease:     os.Getenv("SENTRY_RELEASE"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	switch cfg.Environment {
	case "production", "staging", "dev":
	default:
		return nil, fmt.Errorf("config: SOAR_ENV must be one of production|staging|dev, got %q", cfg.Environment)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
