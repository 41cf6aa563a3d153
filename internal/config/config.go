// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings.
	DatabaseURL string

	// PII hashing. Required: national ids are only ever logged hashed.
	PIIHashSalt string

	// API key protecting the allocation endpoint, stored as an Argon2id
	// hash (see internal/auth). Empty disables authentication (dev only).
	APIKeyHash string

	// Per-client rate limit on the allocation endpoint. Zero RPS disables
	// limiting.
	RateLimitRPS   int
	RateLimitBurst int

	// Academic year settings. YearCode pins the year explicitly; when empty
	// the Gregorian cut-over provider is used.
	YearCode     string
	CutoverMonth int
	CutoverDay   int
	Timezone     string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	Environment string // dev, stage or prod
	LogLevel    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	dbURL := envStr("DATABASE_URL", "")
	if dbURL == "" {
		dbURL = envStr("COUNTER_DATABASE_URL", "")
	}

	cfg := Config{
		Port:           envInt("COUNTER_PORT", 8080),
		ReadTimeout:    envDuration("COUNTER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   envDuration("COUNTER_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:    dbURL,
		PIIHashSalt:    envStr("PII_HASH_SALT", ""),
		APIKeyHash:     envStr("COUNTER_API_KEY_HASH", ""),
		RateLimitRPS:   envInt("COUNTER_RATE_LIMIT_RPS", 0),
		RateLimitBurst: envInt("COUNTER_RATE_LIMIT_BURST", 20),
		YearCode:       envStr("COUNTER_YEAR_CODE", ""),
		CutoverMonth:   envInt("COUNTER_CUTOVER_MONTH", 9),
		CutoverDay:     envInt("COUNTER_CUTOVER_DAY", 23),
		Timezone:       envStr("COUNTER_TIMEZONE", "Asia/Tehran"),
		OTELEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:    envStr("OTEL_SERVICE_NAME", "counterd"),
		Environment:    envStr("COUNTER_ENV", "dev"),
		LogLevel:       envStr("COUNTER_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL or COUNTER_DATABASE_URL is required")
	}
	if c.PIIHashSalt == "" {
		return fmt.Errorf("config: PII_HASH_SALT is required")
	}
	switch c.Environment {
	case "dev", "stage", "prod":
	default:
		return fmt.Errorf("config: COUNTER_ENV must be one of dev/stage/prod, got %q", c.Environment)
	}
	if c.CutoverMonth < 1 || c.CutoverMonth > 12 {
		return fmt.Errorf("config: COUNTER_CUTOVER_MONTH must be 1..12")
	}
	if c.CutoverDay < 1 || c.CutoverDay > 31 {
		return fmt.Errorf("config: COUNTER_CUTOVER_DAY must be 1..31")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("config: COUNTER_RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("config: COUNTER_RATE_LIMIT_BURST must be at least 1")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
