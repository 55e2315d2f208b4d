// Package run orchestrates a full audit run: lease acquisition, inventory,
// scoring, batch selection, dispatch, aggregation, persistence, and the run
// report. The state store is the only shared mutable resource and every
// phase goes through it.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codepatrol/patrol/internal/aggregate"
	"github.com/codepatrol/patrol/internal/config"
	"github.com/codepatrol/patrol/internal/history"
	"github.com/codepatrol/patrol/internal/manifest"
	"github.com/codepatrol/patrol/internal/scheduler"
	"github.com/codepatrol/patrol/internal/scoring"
	"github.com/codepatrol/patrol/internal/state"
	"github.com/codepatrol/patrol/internal/worker"
)

// lockRetries and lockBackoff shape the transient-contention retry loop.
const (
	lockRetries = 3
	lockBackoff = 2 * time.Second

	leaseRenewInterval = 30 * time.Second
)

// Runner wires the engine's components for one project root.
type Runner struct {
	root    string
	cfg     *config.Config
	store   *state.Store
	hist    *history.Store
	builder *manifest.Builder
	scorer  *scoring.Scorer
	sched   *scheduler.Scheduler
	agg     *aggregate.Aggregator
	wave    waveTagger
}

// waveTagger is implemented by workers that stamp findings with the current
// wave number.
type waveTagger interface {
	SetWave(wave int)
}

// NewRunner builds a runner from project configuration.
func NewRunner(ctx context.Context, root string, cfg *config.Config) (*Runner, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = ".patrol"
	}
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(root, stateDir)
	}

	store, err := state.Open(stateDir)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	hist, err := history.Open(filepath.Join(stateDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	declared := make([]manifest.DeclaredItem, len(cfg.Declared))
	for i, d := range cfg.Declared {
		declared[i] = manifest.DeclaredItem{ID: d.ID, Kind: d.Kind, Path: d.Path}
	}
	builder := manifest.NewBuilder(ctx, root, manifest.Options{
		Excludes: cfg.Excludes,
		Declared: declared,
	})

	w, err := buildWorker(root, cfg)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(w, cfg.SchedulerSettings())
	if err != nil {
		return nil, err
	}

	r := &Runner{
		root:    root,
		cfg:     cfg,
		store:   store,
		hist:    hist,
		builder: builder,
		scorer:  scoring.NewScorer(cfg.Weights, NewRiskProvider(cfg.Risk)),
		sched:   sched,
		agg:     aggregate.New(&cfg.Aggregate),
	}
	if tagger, ok := w.(waveTagger); ok {
		r.wave = tagger
	}
	return r, nil
}

// Close releases the runner's resources.
func (r *Runner) Close() error {
	return r.hist.Close()
}

// Store exposes the state store for CLI status reporting.
func (r *Runner) Store() *state.Store {
	return r.store
}

// History exposes the history store for CLI status reporting.
func (r *Runner) History() *history.Store {
	return r.hist
}

func buildWorker(root string, cfg *config.Config) (scheduler.Worker, error) {
	switch cfg.Worker.Type {
	case "claude":
		return worker.NewClaudeWorker(root, cfg.Worker.Model, cfg.Worker.RequestsPerMinute)
	case "command", "":
		if len(cfg.Worker.Command) == 0 {
			return nil, fmt.Errorf("worker.command is required for the command worker")
		}
		return worker.NewCommandWorker(cfg.Worker.Command, root)
	}
	return nil, fmt.Errorf("unknown worker type %q", cfg.Worker.Type)
}

// acquireLease claims the store lock, retrying with backoff on transient
// contention. A lock held by a live owner is never broken.
func (r *Runner) acquireLease(ctx context.Context) (*state.Lease, error) {
	var lastErr error
	for attempt := 0; attempt < lockRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(lockBackoff * time.Duration(attempt)):
			}
		}
		lease, err := r.store.AcquireLock()
		if err == nil {
			return lease, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// renewLease heartbeats the lease until stop is closed.
func renewLease(lease *state.Lease, stop <-chan struct{}) {
	ticker := time.NewTicker(leaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lease.Renew(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: lease renewal failed: %v\n", err)
			}
		}
	}
}

// loadOrRebuildState loads the state document, rebuilding from run history
// when the primary file is corrupt. A missing file is a fresh start.
func (r *Runner) loadOrRebuildState() (*state.State, error) {
	st, err := r.store.LoadState()
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, state.ErrNotFound):
		return state.NewState(), nil
	case errors.Is(err, state.ErrCorruptState):
		return state.RebuildFromHistory(r.hist)
	}
	return nil, err
}
