// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Directory holding the run journal (always absolute)
	LogLevel string
	Port     int
	DevMode  bool
	Solver   SolverConfig
	Archive  ArchiveConfig

	MaintenanceSchedule  string // cron expression with a seconds field; empty disables maintenance
	JournalRetentionDays int    // 0 keeps every run
	JournalKeepRuns      int    // newest runs kept regardless of age
}

// SolverConfig bounds each strategy solve.
type SolverConfig struct {
	TimeLimit   time.Duration
	NodeLimit   int
	UseMIP      bool // false solves the LP relaxation with structural trade directions
	MaxParallel int  // strategies solved concurrently; 0 means one per CPU
}

// ArchiveConfig holds the S3-compatible bucket run bundles are copied to.
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string // empty uses the AWS default for Region
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	RetentionDays   int // 0 keeps every archive
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := &Config{
		DataDir:  dataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Solver: SolverConfig{
			TimeLimit:   time.Duration(getEnvAsInt("SOLVER_TIME_LIMIT_SECONDS", 30)) * time.Second,
			NodeLimit:   getEnvAsInt("SOLVER_NODE_LIMIT", 5000),
			UseMIP:      getEnvAsBool("SOLVER_USE_MIP", true),
			MaxParallel: getEnvAsInt("SOLVER_MAX_PARALLEL", 0),
		},
		Archive: ArchiveConfig{
			Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "runs/"),
			RetentionDays:   getEnvAsInt("ARCHIVE_RETENTION_DAYS", 365),
		},
		MaintenanceSchedule:  getEnv("MAINTENANCE_SCHEDULE", "0 0 3 * * *"),
		JournalRetentionDays: getEnvAsInt("JOURNAL_RETENTION_DAYS", 90),
		JournalKeepRuns:      getEnvAsInt("JOURNAL_KEEP_RUNS", 100),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Solver.TimeLimit <= 0 {
		return fmt.Errorf("SOLVER_TIME_LIMIT_SECONDS must be positive")
	}
	if c.Solver.NodeLimit <= 0 {
		return fmt.Errorf("SOLVER_NODE_LIMIT must be positive, got %d", c.Solver.NodeLimit)
	}
	if c.Solver.MaxParallel < 0 {
		return fmt.Errorf("SOLVER_MAX_PARALLEL must not be negative, got %d", c.Solver.MaxParallel)
	}
	if c.JournalRetentionDays < 0 {
		return fmt.Errorf("JOURNAL_RETENTION_DAYS must not be negative, got %d", c.JournalRetentionDays)
	}
	if c.JournalKeepRuns < 0 {
		return fmt.Errorf("JOURNAL_KEEP_RUNS must not be negative, got %d", c.JournalKeepRuns)
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("ARCHIVE_BUCKET is required when ARCHIVE_ENABLED is set")
		}
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" {
			return fmt.Errorf("archive credentials required when ARCHIVE_ENABLED is set")
		}
	}
	return nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// MIPOptions converts the solver limits into backend options.
func (s SolverConfig) MIPOptions() mip.Options {
	opts := mip.DefaultOptions()
	opts.TimeLimit = s.TimeLimit
	opts.NodeLimit = s.NodeLimit
	return opts
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
