package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabtedu/counterd/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/counterd")
	t.Setenv("PII_HASH_SALT", "salt")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "", cfg.YearCode)
	assert.Equal(t, 9, cfg.CutoverMonth)
	assert.Equal(t, 23, cfg.CutoverDay)
	assert.Equal(t, "Asia/Tehran", cfg.Timezone)
	assert.Equal(t, 0, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, "counterd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("COUNTER_PORT", "9090")
	t.Setenv("COUNTER_READ_TIMEOUT", "5s")
	t.Setenv("COUNTER_YEAR_CODE", "54")
	t.Setenv("COUNTER_ENV", "prod")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "54", cfg.YearCode)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "collector:4318", cfg.OTELEndpoint)
	assert.True(t, cfg.OTELInsecure)
}

func TestLoadDatabaseURLFallback(t *testing.T) {
	t.Setenv("COUNTER_DATABASE_URL", "postgres://fallback:5432/counterd")
	t.Setenv("PII_HASH_SALT", "salt")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://fallback:5432/counterd", cfg.DatabaseURL)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			DatabaseURL:  "postgres://localhost:5432/counterd",
			PIIHashSalt:  "salt",
			Environment:  "dev",
			CutoverMonth: 9,
			CutoverDay:   23,
		}
	}

	assert.NoError(t, base().Validate())

	missing := base()
	missing.DatabaseURL = ""
	assert.Error(t, missing.Validate())

	noSalt := base()
	noSalt.PIIHashSalt = ""
	assert.Error(t, noSalt.Validate())

	badEnv := base()
	badEnv.Environment = "production"
	assert.Error(t, badEnv.Validate())

	badMonth := base()
	badMonth.CutoverMonth = 13
	assert.Error(t, badMonth.Validate())

	badDay := base()
	badDay.CutoverDay = 0
	assert.Error(t, badDay.Validate())

	negativeRPS := base()
	negativeRPS.RateLimitRPS = -1
	assert.Error(t, negativeRPS.Validate())

	zeroBurst := base()
	zeroBurst.RateLimitRPS = 10
	zeroBurst.RateLimitBurst = 0
	assert.Error(t, zeroBurst.Validate())
}

func TestLoadIgnoresMalformedOptionalValues(t *testing.T) {
	setRequired(t)
	t.Setenv("COUNTER_PORT", "not-a-number")
	t.Setenv("COUNTER_READ_TIMEOUT", "soon")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}
