package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization

	"github.com/joho/godotenv"

	"vest_tracker/internal/domain/onah"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken         string
	DatabaseURL           string
	StorageDriver         string
	AdminTelegramID       int64
	LogLevel              string
	Environment           string
	DefaultMinimumGapDays int
	DefaultLocation       onah.Location // used by /register without arguments
	CronSpecForecastSweep string
	SweepConcurrency      int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.StorageDriver = strings.ToLower(os.Getenv("STORAGE_DRIVER"))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageDriverPostgres
	}
	if cfg.StorageDriver != StorageDriverPostgres && cfg.StorageDriver != StorageDriverMemory {
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q: want %s or %s", cfg.StorageDriver, StorageDriverPostgres, StorageDriverMemory)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StorageDriver == StorageDriverPostgres {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	if cfg.DefaultMinimumGapDays, err = intEnv("DEFAULT_MINIMUM_GAP_DAYS", 5); err != nil {
		return nil, err
	}
	if cfg.DefaultMinimumGapDays < 1 {
		return nil, fmt.Errorf("invalid DEFAULT_MINIMUM_GAP_DAYS: must be positive")
	}

	cfg.DefaultLocation.TimezoneID = os.Getenv("DEFAULT_TIMEZONE")
	if cfg.DefaultLocation.TimezoneID == "" {
		cfg.DefaultLocation.TimezoneID = "Asia/Jerusalem"
	}
	if cfg.DefaultLocation.Latitude, err = floatEnv("DEFAULT_LATITUDE", 31.778); err != nil {
		return nil, err
	}
	if cfg.DefaultLocation.Longitude, err = floatEnv("DEFAULT_LONGITUDE", 35.235); err != nil {
		return nil, err
	}
	if err := cfg.DefaultLocation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default location: %w", err)
	}

	cfg.CronSpecForecastSweep = os.Getenv("CRON_SPEC_FORECAST_SWEEP")
	if cfg.CronSpecForecastSweep == "" {
		cfg.CronSpecForecastSweep = "*/15 * * * *" // Default: every 15 minutes
	}

	if cfg.SweepConcurrency, err = intEnv("SWEEP_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency < 1 {
		cfg.SweepConcurrency = 1
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
