// Package config loads the server configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	// HTTPAddr is the listen address, e.g. ":8080".
	HTTPAddr string

	// DatabaseDriver selects the store: "postgres" or "sqlite".
	DatabaseDriver string
	// DatabaseDSN is the connection string (postgres URL or sqlite path).
	DatabaseDSN string

	// KafkaBrokers enables event publishing when non-empty.
	KafkaBrokers []string

	// MatcherWeightsFile optionally points at a YAML file overriding the
	// built-in match-scoring weights.
	MatcherWeightsFile string

	LogLevel string
}

// Load reads the environment, first merging in a .env file when one is
// present. An explicit path can be passed for tests.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DatabaseDriver:     getEnv("DB_DRIVER", "sqlite"),
		DatabaseDSN:        getEnv("DB_DSN", "ledger.db"),
		MatcherWeightsFile: os.Getenv("MATCHER_WEIGHTS_FILE"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DatabaseDriver)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
