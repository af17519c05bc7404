package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("PORT", "")
	t.Setenv("SOLVER_USE_MIP", "")
	t.Setenv("ARCHIVE_ENABLED", "")
	t.Setenv("MAINTENANCE_SCHEDULE", "")
	t.Setenv("JOURNAL_RETENTION_DAYS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.True(t, cfg.Solver.UseMIP)
	assert.Equal(t, 30*time.Second, cfg.Solver.TimeLimit)
	assert.Equal(t, 5000, cfg.Solver.NodeLimit)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "0 0 3 * * *", cfg.MaintenanceSchedule)
	assert.Equal(t, 90, cfg.JournalRetentionDays)
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("SOLVER_TIME_LIMIT_SECONDS", "5")
	t.Setenv("SOLVER_NODE_LIMIT", "250")
	t.Setenv("SOLVER_USE_MIP", "false")
	t.Setenv("SOLVER_MAX_PARALLEL", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.False(t, cfg.Solver.UseMIP)
	assert.Equal(t, 3, cfg.Solver.MaxParallel)

	opts := cfg.Solver.MIPOptions()
	assert.Equal(t, 5*time.Second, opts.TimeLimit)
	assert.Equal(t, 250, opts.NodeLimit)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("SOLVER_USE_MIP", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.Solver.UseMIP)
}

func TestValidate(t *testing.T) {
	valid := Config{Port: 8080, Solver: SolverConfig{TimeLimit: time.Second, NodeLimit: 10}}
	require.NoError(t, valid.Validate())

	badPort := valid
	badPort.Port = 70000
	assert.Error(t, badPort.Validate())

	noNodes := valid
	noNodes.Solver.NodeLimit = 0
	assert.Error(t, noNodes.Validate())

	negativeRetention := valid
	negativeRetention.JournalRetentionDays = -1
	assert.Error(t, negativeRetention.Validate())

	archive := valid
	archive.Archive = ArchiveConfig{Enabled: true, Bucket: "runs"}
	assert.Error(t, archive.Validate(), "credentials are required")

	archive.Archive.AccessKeyID = "key"
	archive.Archive.SecretAccessKey = "secret"
	assert.NoError(t, archive.Validate())
}

func TestEnsureDataDir(t *testing.T) {
	cfg := Config{DataDir: filepath.Join(t.TempDir(), "nested", "data")}
	require.NoError(t, cfg.EnsureDataDir())
	assert.DirExists(t, cfg.DataDir)
}
