// Package config loads and validates the project configuration file
// (.patrol.yaml at the project root).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codepatrol/patrol/internal/aggregate"
	"github.com/codepatrol/patrol/internal/batch"
	"github.com/codepatrol/patrol/internal/converge"
	"github.com/codepatrol/patrol/internal/scheduler"
	"github.com/codepatrol/patrol/internal/scoring"
	"github.com/codepatrol/patrol/internal/types"
)

// DefaultFileName is the config file looked up at the project root.
const DefaultFileName = ".patrol.yaml"

// Config is the full project configuration.
type Config struct {
	// StateDir overrides the state directory. Empty means ".patrol".
	StateDir string `yaml:"state_dir"`

	// Excludes are repo-relative path prefixes excluded from inventory.
	Excludes []string `yaml:"excludes"`

	// Declared lists non-file work items (workflows, endpoints).
	Declared []DeclaredItem `yaml:"declared"`

	Weights   scoring.Weights  `yaml:"weights"`
	Batch     batch.Config     `yaml:"batch"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Aggregate aggregate.Config `yaml:"aggregate"`
	Converge  converge.Config  `yaml:"converge"`

	// Risk maps path patterns to externally-assessed risk tiers.
	Risk []RiskOverride `yaml:"risk"`

	Worker WorkerConfig `yaml:"worker"`
	Repair RepairConfig `yaml:"repair"`

	// HistoryRetention is how many run records to keep. Zero keeps all.
	HistoryRetention int `yaml:"history_retention"`
}

// RepairConfig parameterizes the converge loop's fix and validation
// commands. Both are required before `patrol converge` will start.
type RepairConfig struct {
	// FixCommand is the repair tool. It is invoked as
	// `<cmd> fix` (findings on stdin, change ids on stdout) and as
	// `<cmd> apply <id>` / `<cmd> revert <id>` during bisection.
	FixCommand []string `yaml:"fix_command"`
	// GateCommand is the validation check; exit zero passes.
	GateCommand []string `yaml:"gate_command"`
}

// DeclaredItem mirrors manifest.DeclaredItem in config form.
type DeclaredItem struct {
	ID   string         `yaml:"id"`
	Kind types.ItemKind `yaml:"kind"`
	Path string         `yaml:"path"`
}

// RiskOverride assigns a tier to items matching a glob pattern.
type RiskOverride struct {
	Pattern string         `yaml:"pattern"`
	Tier    types.RiskTier `yaml:"tier"`
}

// SchedulerConfig is the YAML form of scheduler.Config; durations are
// expressed in seconds.
type SchedulerConfig struct {
	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`
	StaleThresholdSeconds int `yaml:"stale_threshold_seconds"`
	TotalTimeoutSeconds   int `yaml:"total_timeout_seconds"`
	MaxConcurrent         int `yaml:"max_concurrent"`
	MaxRequeues           int `yaml:"max_requeues"`
}

// WorkerConfig selects and parameterizes the worker implementation.
type WorkerConfig struct {
	// Type is "command" or "claude".
	Type string `yaml:"type"`
	// Command is the analyzer executable for the command worker. The
	// item path is appended as the final argument.
	Command []string `yaml:"command"`
	// Model overrides the Claude model.
	Model string `yaml:"model"`
	// RequestsPerMinute rate-limits Claude API calls.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		StateDir:         ".patrol",
		Weights:          scoring.DefaultWeights(),
		Batch:            *batch.DefaultConfig(),
		Aggregate:        *aggregate.DefaultConfig(),
		Converge:         *converge.DefaultConfig(),
		Worker:           WorkerConfig{Type: "command"},
		HistoryRetention: 500,
		Scheduler: SchedulerConfig{
			PollIntervalSeconds:   2,
			StaleThresholdSeconds: 600,
			TotalTimeoutSeconds:   2700,
			MaxConcurrent:         4,
			MaxRequeues:           1,
		},
	}
}

// Load reads the config file under root, falling back to defaults when no
// file exists. The file is validated against the embedded schema before any
// field is trusted.
func Load(root string) (*Config, error) {
	path := filepath.Join(root, DefaultFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// check enforces constraints the schema cannot express.
func (c *Config) check() error {
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("batch.batch_size must be positive (got %d)", c.Batch.BatchSize)
	}
	if c.Batch.NeverAuditedFraction < 0 || c.Batch.NeverAuditedFraction > 1 {
		return fmt.Errorf("batch.never_audited_fraction must be in [0,1]")
	}
	if c.Batch.GapFraction < 0 || c.Batch.GapFraction > 1 {
		return fmt.Errorf("batch.gap_fraction must be in [0,1]")
	}
	for _, r := range c.Risk {
		if r.Pattern == "" {
			return fmt.Errorf("risk override with empty pattern")
		}
	}
	switch c.Worker.Type {
	case "command", "claude":
	default:
		return fmt.Errorf("worker.type must be \"command\" or \"claude\" (got %q)", c.Worker.Type)
	}
	return nil
}

// SchedulerConfig converts the YAML form to the scheduler's config.
func (c *Config) SchedulerSettings() *scheduler.Config {
	return &scheduler.Config{
		PollInterval:   time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second,
		StaleThreshold: time.Duration(c.Scheduler.StaleThresholdSeconds) * time.Second,
		TotalTimeout:   time.Duration(c.Scheduler.TotalTimeoutSeconds) * time.Second,
		MaxConcurrent:  c.Scheduler.MaxConcurrent,
		MaxRequeues:    c.Scheduler.MaxRequeues,
	}
}
