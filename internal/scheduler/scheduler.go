// Package scheduler dispatches a batch of work items to a bounded pool of
// stateless workers and monitors them to completion. Workers run to
// completion or timeout; all suspension happens in the monitor's polling
// loop, never inside a worker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/codepatrol/patrol/internal/types"
)

// Worker is the collaborator boundary for analysis execution. Workers are
// stateless and side-effect-free with respect to the state store: they talk
// to the controller only through their returned result.
type Worker interface {
	// ID identifies the worker implementation in findings and logs.
	ID() string

	// Run analyzes one item and returns its findings. Run must respect
	// context cancellation.
	Run(ctx context.Context, item *types.WorkItem) ([]types.Finding, error)

	// Idempotent reports whether a run can simply be redone by another
	// invocation. Only idempotent work is auto-released back to the pool
	// when a worker goes stale; non-fungible work is flagged but left
	// with its original worker.
	Idempotent() bool
}

// Config controls dispatch and monitoring behavior.
type Config struct {
	// PollInterval is the monitor's fixed polling cadence.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// StaleThreshold is the advisory per-item ceiling. Exceeding it flags
	// the worker and, for idempotent work only, re-releases the item.
	StaleThreshold time.Duration `yaml:"stale_threshold" json:"stale_threshold"`

	// TotalTimeout is the hard ceiling for the whole batch. On expiry the
	// monitor sweeps final results and returns whatever completed.
	TotalTimeout time.Duration `yaml:"total_timeout" json:"total_timeout"`

	// MaxConcurrent bounds in-flight workers.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// MaxRequeues bounds how many times one item may be re-released.
	MaxRequeues int `yaml:"max_requeues" json:"max_requeues"`
}

// DefaultConfig returns the stock scheduling parameters.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   2 * time.Second,
		StaleThreshold: 10 * time.Minute,
		TotalTimeout:   45 * time.Minute,
		MaxConcurrent:  4,
		MaxRequeues:    1,
	}
}

// ItemResult is the outcome of one item's dispatch.
type ItemResult struct {
	ItemID   string
	WorkerID string
	Findings []types.Finding
	Err      error
	Duration time.Duration
	Requeues int
}

// Results is the outcome of a whole batch dispatch. Partial success is
// always distinguishable from total failure: Completed holds everything
// that finished, Incomplete marks a timed-out sweep.
type Results struct {
	Completed    map[string]*ItemResult
	Incomplete   bool
	TimedOut     bool
	StaleFlagged []string
}

// Scheduler drives one batch at a time through a worker.
type Scheduler struct {
	cfg    *Config
	worker Worker
}

// New creates a scheduler for the given worker implementation.
func New(worker Worker, cfg *Config) (*Scheduler, error) {
	if worker == nil {
		return nil, fmt.Errorf("worker is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Scheduler{cfg: cfg, worker: worker}, nil
}

// inflightEntry tracks one running item for the monitor.
type inflightEntry struct {
	item      *types.WorkItem
	startedAt time.Time
	cancel    context.CancelFunc
	flagged   bool
}

// Dispatch hands every batch item to the worker pool and polls until all
// complete, the context is canceled, or the total timeout expires. The
// onComplete callback (may be nil) fires once per finished item, in
// completion order; callers use it for checkpoint updates.
func (s *Scheduler) Dispatch(ctx context.Context, items []*types.WorkItem, onComplete func(*ItemResult)) (*Results, error) {
	results := &Results{Completed: make(map[string]*ItemResult, len(items))}
	if len(items) == 0 {
		return results, nil
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	sem := semaphore.NewWeighted(int64(s.cfg.MaxConcurrent))
	taskCh := make(chan *types.WorkItem, len(items)*(s.cfg.MaxRequeues+1))
	resultCh := make(chan *ItemResult, len(items))

	var mu sync.Mutex
	inflight := make(map[string]*inflightEntry)
	requeues := make(map[string]int)

	for _, item := range items {
		taskCh <- item
	}

	// Dispatcher: pulls tasks, caps concurrency, launches workers.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case item, ok := <-taskCh:
				if !ok {
					return
				}
				if err := sem.Acquire(runCtx, 1); err != nil {
					return
				}

				itemCtx, cancelItem := context.WithCancel(runCtx)
				mu.Lock()
				inflight[item.ID] = &inflightEntry{
					item:      item,
					startedAt: time.Now(),
					cancel:    cancelItem,
				}
				mu.Unlock()

				wg.Add(1)
				go func(item *types.WorkItem, itemCtx context.Context) {
					defer wg.Done()
					defer sem.Release(1)

					start := time.Now()
					findings, err := s.worker.Run(itemCtx, item)

					mu.Lock()
					delete(inflight, item.ID)
					n := requeues[item.ID]
					mu.Unlock()

					// A requeued item's canceled first run must not
					// count as its result. Likewise a run-level
					// cancellation (timeout, interrupt) is not an item
					// failure: only work that genuinely finished, with
					// findings or with its own error, produces a result.
					if itemCtx.Err() != nil {
						if runCtx.Err() == nil {
							return
						}
						if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
							return
						}
					}

					resultCh <- &ItemResult{
						ItemID:   item.ID,
						WorkerID: s.worker.ID(),
						Findings: findings,
						Err:      err,
						Duration: time.Since(start),
						Requeues: n,
					}
				}(item, itemCtx)
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.cfg.TotalTimeout > 0 {
		timer := time.NewTimer(s.cfg.TotalTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for len(results.Completed) < len(items) {
		select {
		case res := <-resultCh:
			results.Completed[res.ItemID] = res
			if onComplete != nil {
				onComplete(res)
			}

		case <-ticker.C:
			s.checkStale(&mu, inflight, requeues, taskCh, results)

		case <-deadline:
			// Hard ceiling: stop dispatching, sweep what finished.
			cancelRun()
			results.TimedOut = true
			results.Incomplete = true
			s.finalSweep(resultCh, results, onComplete)
			return results, nil

		case <-ctx.Done():
			cancelRun()
			results.Incomplete = true
			s.finalSweep(resultCh, results, onComplete)
			return results, ctx.Err()
		}
	}

	close(taskCh)
	cancelRun()
	wg.Wait()
	return results, nil
}

// checkStale flags items past the stale threshold. Idempotent work is
// re-released to the pool (bounded by MaxRequeues); non-fungible work is
// reported but never silently reassigned.
func (s *Scheduler) checkStale(mu *sync.Mutex, inflight map[string]*inflightEntry, requeues map[string]int, taskCh chan *types.WorkItem, results *Results) {
	if s.cfg.StaleThreshold <= 0 {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	for id, entry := range inflight {
		if entry.flagged || now.Sub(entry.startedAt) < s.cfg.StaleThreshold {
			continue
		}
		entry.flagged = true
		results.StaleFlagged = append(results.StaleFlagged, id)
		fmt.Fprintf(os.Stderr, "warning: worker stale on %s (%.0fs elapsed)\n",
			id, now.Sub(entry.startedAt).Seconds())

		if s.worker.Idempotent() && requeues[id] < s.cfg.MaxRequeues {
			requeues[id]++
			entry.cancel()
			delete(inflight, id)
			select {
			case taskCh <- entry.item:
			default:
				// Queue full cannot happen with the sized buffer, but
				// never block the monitor loop.
			}
		}
	}
}

// finalSweep drains results that completed concurrently with the timeout so
// finished work is never dropped.
func (s *Scheduler) finalSweep(resultCh chan *ItemResult, results *Results, onComplete func(*ItemResult)) {
	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	for {
		select {
		case res := <-resultCh:
			if _, seen := results.Completed[res.ItemID]; seen {
				continue
			}
			results.Completed[res.ItemID] = res
			if onComplete != nil {
				onComplete(res)
			}
		case <-grace.C:
			return
		}
	}
}
