package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepatrol/patrol/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ".patrol", cfg.StateDir)
	assert.Equal(t, 30, cfg.Batch.BatchSize)
	assert.Equal(t, "command", cfg.Worker.Type)
}

func TestLoadOverridesOntoDefaults(t *testing.T) {
	dir := writeConfig(t, `
batch:
  batch_size: 12
worker:
  type: claude
  requests_per_minute: 30
risk:
  - pattern: "internal/auth/**"
    tier: critical
repair:
  fix_command: ["./fix"]
  gate_command: ["make", "test"]
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Batch.BatchSize)
	// Unset fields keep their defaults.
	assert.Equal(t, 5, cfg.Batch.NeverAuditedFloor)
	assert.Equal(t, "claude", cfg.Worker.Type)
	require.Len(t, cfg.Risk, 1)
	assert.Equal(t, types.TierCritical, cfg.Risk[0].Tier)
	assert.Equal(t, []string{"make", "test"}, cfg.Repair.GateCommand)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := writeConfig(t, `
batch:
  batch_sizes: 12
`)
	_, err := Load(dir)
	assert.Error(t, err, "misspelled keys must fail validation, not be ignored")
}

func TestLoadRejectsWrongTypes(t *testing.T) {
	dir := writeConfig(t, `
batch:
  batch_size: "many"
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsBadTier(t *testing.T) {
	dir := writeConfig(t, `
risk:
  - pattern: "a/**"
    tier: enormous
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangeFractions(t *testing.T) {
	dir := writeConfig(t, `
batch:
  never_audited_fraction: 1.5
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownWorkerType(t *testing.T) {
	dir := writeConfig(t, `
worker:
  type: carrier-pigeon
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSchedulerSettingsConvertsSeconds(t *testing.T) {
	dir := writeConfig(t, `
scheduler:
  poll_interval_seconds: 3
  total_timeout_seconds: 120
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	sc := cfg.SchedulerSettings()
	assert.Equal(t, "3s", sc.PollInterval.String())
	assert.Equal(t, "2m0s", sc.TotalTimeout.String())
	// Defaults survive partial override.
	assert.Equal(t, 4, sc.MaxConcurrent)
}

func TestLoadEmptyFile(t *testing.T) {
	dir := writeConfig(t, "")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Batch.BatchSize)
}
