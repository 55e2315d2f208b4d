package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/codepatrol/patrol/internal/batch"
	"github.com/codepatrol/patrol/internal/scheduler"
	"github.com/codepatrol/patrol/internal/state"
	"github.com/codepatrol/patrol/internal/types"
)

// Report is the user-visible outcome of a run. Partial success is always
// distinguishable from total failure: attempted vs completed counts, the
// items left in error state, and whether the halt was a timeout or a hard
// error are all explicit.
type Report struct {
	RunID          string        `json:"run_id"`
	Attempted      int           `json:"attempted"`
	Completed      int           `json:"completed"`
	Errored        []string      `json:"errored,omitempty"`
	StaleFlagged   []string      `json:"stale_flagged,omitempty"`
	TimedOut       bool          `json:"timed_out"`
	Incomplete     bool          `json:"incomplete"`
	Truncated      bool          `json:"truncated"`
	EstimatedCost  int           `json:"estimated_tokens"`
	CoverageBefore float64       `json:"coverage_before"`
	CoverageAfter  float64       `json:"coverage_after"`
	Findings       int           `json:"findings"`
	// BySeverity counts the deduplicated findings of this run, matching the
	// per-item audit summaries.
	BySeverity map[types.Severity]int `json:"by_severity,omitempty"`
	Duration   time.Duration          `json:"duration"`
	Resumed    bool                   `json:"resumed"`
}

// Run executes one full audit pass. If an interrupted run left an active
// checkpoint owned by a dead process of this installation, its remaining
// items are dispatched first instead of selecting a new batch.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()

	lease, err := r.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go renewLease(lease, stop)

	// Fatal storage problems must surface before any write.
	if err := r.store.Preflight(); err != nil {
		return nil, err
	}

	st, err := r.loadOrRebuildState()
	if err != nil {
		return nil, err
	}
	coverageBefore := st.Stats.CoveragePercent

	prevManifest, err := r.store.LoadManifest()
	if err != nil && !isNotFound(err) {
		fmt.Fprintf(os.Stderr, "warning: previous manifest unreadable, treating run as cold: %v\n", err)
		prevManifest = nil
	}

	m, err := r.builder.Build(ctx, prevManifest)
	if err != nil {
		return nil, fmt.Errorf("building manifest: %w", err)
	}
	diff := r.builder.Diff(ctx, m, prevManifest)
	reconcile(st, m, diff)

	runID := uuid.NewString()

	// Resume takes precedence over fresh selection.
	var items []*types.WorkItem
	var selection *batch.Batch
	resumed := false
	if cp := r.resumableCheckpoint(); cp != nil {
		for _, id := range cp.Remaining() {
			if item, ok := st.Items[id]; ok && item.Status.Auditable() {
				items = append(items, item)
			}
		}
		cp.RunID = runID
		cp.Owner = r.store.Identity()
		if err := r.store.SaveCheckpoint(cp); err != nil {
			return nil, fmt.Errorf("adopting checkpoint: %w", err)
		}
		resumed = true
		fmt.Printf("Resuming interrupted batch: %d of %d items remaining\n",
			len(items), len(cp.Items))
	}

	if !resumed {
		scored := make([]batch.ScoredItem, 0, len(st.Items))
		for _, item := range st.Items {
			scored = append(scored, batch.ScoredItem{Item: item, Score: r.scorer.Score(item)})
		}
		selection = batch.Select(scored, &r.cfg.Batch)
		for _, si := range selection.Items {
			items = append(items, si.Item)
		}

		// Coverage-gap accounting: selected items close their gap,
		// skipped auditable items deepen it.
		for _, si := range selection.Items {
			si.Item.GapStreak = 0
		}
		for _, id := range selection.Skipped {
			if item, ok := st.Items[id]; ok {
				item.GapStreak++
			}
		}

		// The skip-one-cycle escalation step burns down here, after
		// selection, so a cooldown of one sits out exactly one batch.
		for _, item := range st.Items {
			if item.ErrorCooldown > 0 {
				item.ErrorCooldown--
			}
		}

		cp := &types.Checkpoint{
			ID:        uuid.NewString(),
			RunID:     runID,
			Items:     selection.IDs(),
			Owner:     r.store.Identity(),
			Status:    types.CheckpointActive,
			CreatedAt: time.Now(),
		}
		if err := r.store.SaveCheckpoint(cp); err != nil {
			return nil, fmt.Errorf("writing checkpoint: %w", err)
		}
	}

	// Persist reconciliation and selection effects before dispatch so a
	// crash mid-batch resumes from a consistent view.
	st.RecomputeStats()
	if err := r.store.SaveState(st); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	if err := r.store.SaveManifest(m); err != nil {
		return nil, fmt.Errorf("saving manifest: %w", err)
	}

	if r.wave != nil {
		r.wave.SetWave(1)
	}

	results, dispatchErr := r.dispatch(ctx, items)
	if dispatchErr != nil && len(results.Completed) == 0 {
		return nil, dispatchErr
	}

	report := r.absorb(st, results, items, runID)
	report.RunID = runID
	report.Resumed = resumed
	report.CoverageBefore = coverageBefore
	if selection != nil {
		report.Truncated = selection.Truncated
		report.EstimatedCost = selection.EstimatedTokens
	}

	st.Stats.LastRunID = runID
	st.RecomputeStats()
	report.CoverageAfter = st.Stats.CoveragePercent

	if err := r.store.SaveState(st); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}

	rec := &types.RunRecord{
		RunID:          runID,
		StartedAt:      started,
		FinishedAt:     time.Now(),
		Completed:      completedIDs(results),
		Errored:        report.Errored,
		CoverageBefore: coverageBefore,
		CoverageAfter:  report.CoverageAfter,
		TimedOut:       report.TimedOut,
		BySeverity:     report.BySeverity,
	}
	for _, item := range items {
		rec.Batch = append(rec.Batch, item.ID)
	}
	if report.TimedOut {
		rec.HaltReason = "total batch timeout"
	}
	if err := r.hist.Append(rec, m); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to append run history: %v\n", err)
	}
	if r.cfg.HistoryRetention > 0 {
		if _, err := r.hist.Prune(r.cfg.HistoryRetention); err != nil {
			fmt.Fprintf(os.Stderr, "warning: history pruning failed: %v\n", err)
		}
	}

	if err := r.store.ClearCheckpoint(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	report.Duration = time.Since(started)
	return report, dispatchErr
}

// dispatch runs the batch through the scheduler, updating the checkpoint as
// items complete.
func (r *Runner) dispatch(ctx context.Context, items []*types.WorkItem) (*scheduler.Results, error) {
	cp, cpErr := r.store.LoadCheckpoint()
	onComplete := func(res *scheduler.ItemResult) {
		if cpErr != nil || cp == nil {
			return
		}
		cp.Completed = append(cp.Completed, res.ItemID)
		if rem := cp.Remaining(); len(rem) > 0 {
			cp.Current = rem[0]
		} else {
			cp.Current = ""
			cp.Status = types.CheckpointCompleted
		}
		if err := r.store.SaveCheckpoint(cp); err != nil {
			fmt.Fprintf(os.Stderr, "warning: checkpoint update failed: %v\n", err)
		}
	}
	return r.sched.Dispatch(ctx, items, onComplete)
}

// absorb folds dispatch results into item state: status transitions, audit
// summaries from the deduplicated finding set, and per-item error
// escalation.
func (r *Runner) absorb(st *state.State, results *scheduler.Results, items []*types.WorkItem, runID string) *Report {
	report := &Report{
		Attempted:    len(items),
		TimedOut:     results.TimedOut,
		Incomplete:   results.Incomplete,
		StaleFlagged: results.StaleFlagged,
		BySeverity:   make(map[types.Severity]int),
	}

	now := time.Now()
	for _, item := range items {
		res, ok := results.Completed[item.ID]
		if !ok {
			// Never started or swept away by the timeout: the item
			// simply stays eligible for the next batch.
			continue
		}

		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", item.ID, res.Err)
			escalate(item)
			report.Errored = append(report.Errored, item.ID)
			continue
		}

		deduped := r.agg.Aggregate([][]types.Finding{res.Findings})
		bySeverity := make(map[types.Severity]int)
		for _, f := range deduped {
			bySeverity[f.Severity]++
			report.BySeverity[f.Severity]++
		}

		item.Status = types.StatusAudited
		item.AuditCount++
		item.ConsecutiveErrors = 0
		item.ErrorCooldown = 0
		item.LastAudit = &types.AuditSummary{
			RunID:      runID,
			AuditedAt:  now,
			BySeverity: bySeverity,
		}
		report.Completed++
		report.Findings += len(deduped)
	}

	return report
}

// escalate applies the per-item error ladder: first failure re-queues, the
// second sits out one batch cycle, the third is permanent until manual
// reset.
func escalate(item *types.WorkItem) {
	item.ConsecutiveErrors++
	switch {
	case item.ConsecutiveErrors >= types.MaxConsecutiveErrors:
		item.Status = types.StatusErrorPermanent
		fmt.Fprintf(os.Stderr,
			"warning: %s failed %d consecutive times, excluded until manual reset\n",
			item.ID, item.ConsecutiveErrors)
	case item.ConsecutiveErrors == 2:
		item.Status = types.StatusError
		item.ErrorCooldown = 1
	default:
		item.Status = types.StatusError
	}
}

// resumableCheckpoint returns an active checkpoint this process may adopt:
// same installation, owner process dead, work remaining.
func (r *Runner) resumableCheckpoint() *types.Checkpoint {
	cp, err := r.store.LoadCheckpoint()
	if err != nil || cp == nil || cp.Status != types.CheckpointActive {
		return nil
	}
	if len(cp.Remaining()) == 0 {
		return nil
	}
	self := r.store.Identity()
	if !self.SameInstall(cp.Owner) {
		return nil
	}
	if cp.Owner.SessionID == self.SessionID {
		return nil
	}
	return cp
}

func completedIDs(results *scheduler.Results) []string {
	var ids []string
	for id, res := range results.Completed {
		if res.Err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func isNotFound(err error) bool {
	return errors.Is(err, state.ErrNotFound)
}
