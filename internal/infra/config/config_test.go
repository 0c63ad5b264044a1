package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "time/tzdata"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("DATABASE_URL", "postgres://localhost/vest")
	t.Setenv("ADMIN_TELEGRAM_ID", "42")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{
		"STORAGE_DRIVER", "LOG_LEVEL", "ENVIRONMENT", "DEFAULT_MINIMUM_GAP_DAYS",
		"DEFAULT_TIMEZONE", "DEFAULT_LATITUDE", "DEFAULT_LONGITUDE",
		"CRON_SPEC_FORECAST_SWEEP", "SWEEP_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, int64(42), cfg.AdminTelegramID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 5, cfg.DefaultMinimumGapDays)
	assert.Equal(t, "Asia/Jerusalem", cfg.DefaultLocation.TimezoneID)
	assert.Equal(t, "*/15 * * * *", cfg.CronSpecForecastSweep)
	assert.Equal(t, 4, cfg.SweepConcurrency)
}

func TestLoad_MemoryDriverNeedsNoDatabase(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORAGE_DRIVER", "Memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing token", "TELEGRAM_TOKEN", ""},
		{"missing database", "DATABASE_URL", ""},
		{"bad admin id", "ADMIN_TELEGRAM_ID", "admin"},
		{"unknown driver", "STORAGE_DRIVER", "sqlite"},
		{"bad gap", "DEFAULT_MINIMUM_GAP_DAYS", "five"},
		{"zero gap", "DEFAULT_MINIMUM_GAP_DAYS", "0"},
		{"bad latitude", "DEFAULT_LATITUDE", "north"},
		{"latitude out of range", "DEFAULT_LATITUDE", "95"},
		{"unknown zone", "DEFAULT_TIMEZONE", "Mars/Olympus"},
		{"bad concurrency", "SWEEP_CONCURRENCY", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
