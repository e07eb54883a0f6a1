// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/oiltrading/riskengine/internal/domain"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Risk    RiskConfig
	Archive ArchiveConfig
}

// RiskConfig holds the tunables of the risk calculation engine
type RiskConfig struct {
	MinObservations       int     // Minimum return observations for any VaR method
	GarchMinObservations  int     // Minimum observations for a full GARCH fit (EWMA below this)
	DefaultHistoricalDays int     // Default price-history lookback per calculation
	Simulations           int     // Default Monte Carlo simulation count
	MaxSimulations        int     // Upper bound on requested simulations
	PartitionSize         int     // Simulations per Monte Carlo partition (fixed for reproducibility)
	Seed                  int64   // Default Monte Carlo seed
	Workers               int     // Worker pool size (0 = number of CPUs)
	EWMALambda            float64 // RiskMetrics decay factor for the EWMA fallback
	CalculationTimeoutSec int     // Hard timeout applied by callers around a calculation
	SnapshotTTLMinutes    int     // How long a cached snapshot stays servable
	SnapshotIntervalMin   int     // Scheduled snapshot cadence
}

// ArchiveConfig holds S3-compatible storage settings for snapshot archives.
// Archiving is disabled when Bucket is empty.
type ArchiveConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetentionDays   int
}

// Enabled reports whether archive uploads are configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != "" && a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISK_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("RISK_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Risk: RiskConfig{
			MinObservations:       getEnvAsInt("RISK_MIN_OBSERVATIONS", 30),
			GarchMinObservations:  getEnvAsInt("RISK_GARCH_MIN_OBSERVATIONS", 100),
			DefaultHistoricalDays: getEnvAsInt("RISK_HISTORICAL_DAYS", 252),
			Simulations:           getEnvAsInt("RISK_MC_SIMULATIONS", 100_000),
			MaxSimulations:        getEnvAsInt("RISK_MC_MAX_SIMULATIONS", 1_000_000),
			PartitionSize:         getEnvAsInt("RISK_MC_PARTITION_SIZE", 5_000),
			Seed:                  int64(getEnvAsInt("RISK_MC_SEED", 42)),
			Workers:               getEnvAsInt("RISK_WORKERS", 0),
			EWMALambda:            getEnvAsFloat("RISK_EWMA_LAMBDA", 0.94),
			CalculationTimeoutSec: getEnvAsInt("RISK_CALCULATION_TIMEOUT_SEC", 60),
			SnapshotTTLMinutes:    getEnvAsInt("RISK_SNAPSHOT_TTL_MINUTES", 5),
			SnapshotIntervalMin:   getEnvAsInt("RISK_SNAPSHOT_INTERVAL_MINUTES", 15),
		},
		Archive: ArchiveConfig{
			AccountID:       getEnv("ARCHIVE_S3_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			RetentionDays:   getEnvAsInt("ARCHIVE_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configured values can actually drive a calculation.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &domain.ConfigurationError{Field: "RISK_PORT", Reason: "must be a valid TCP port"}
	}
	if c.Risk.MinObservations < 2 {
		return &domain.ConfigurationError{Field: "RISK_MIN_OBSERVATIONS", Reason: "must be at least 2"}
	}
	if c.Risk.GarchMinObservations < c.Risk.MinObservations {
		return &domain.ConfigurationError{Field: "RISK_GARCH_MIN_OBSERVATIONS", Reason: "must not be below RISK_MIN_OBSERVATIONS"}
	}
	if c.Risk.Simulations <= 0 {
		return &domain.ConfigurationError{Field: "RISK_MC_SIMULATIONS", Reason: "must be positive"}
	}
	if c.Risk.MaxSimulations < c.Risk.Simulations {
		return &domain.ConfigurationError{Field: "RISK_MC_MAX_SIMULATIONS", Reason: "must not be below RISK_MC_SIMULATIONS"}
	}
	if c.Risk.PartitionSize <= 0 {
		return &domain.ConfigurationError{Field: "RISK_MC_PARTITION_SIZE", Reason: "must be positive"}
	}
	if c.Risk.EWMALambda <= 0 || c.Risk.EWMALambda >= 1 {
		return &domain.ConfigurationError{Field: "RISK_EWMA_LAMBDA", Reason: "must be in (0, 1)"}
	}
	if c.Risk.CalculationTimeoutSec <= 0 {
		return &domain.ConfigurationError{Field: "RISK_CALCULATION_TIMEOUT_SEC", Reason: "must be positive"}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
