package run

import (
	"context"
	"fmt"

	"github.com/codepatrol/patrol/internal/batch"
	"github.com/codepatrol/patrol/internal/config"
	"github.com/codepatrol/patrol/internal/converge"
	"github.com/codepatrol/patrol/internal/types"
	"github.com/codepatrol/patrol/internal/worker"
)

// Converge runs the iterative repair loop over a scope of items: review
// them, apply fixes through the configured repair tool, validate, repeat
// until the convergence score clears the bar or the tier's cycle cap hits.
// An empty ids slice scopes the loop to the current priority selection.
func (r *Runner) Converge(ctx context.Context, ids []string) (*converge.Result, error) {
	if len(r.cfg.Repair.FixCommand) == 0 || len(r.cfg.Repair.GateCommand) == 0 {
		return nil, fmt.Errorf("converge requires repair.fix_command and repair.gate_command in %s", config.DefaultFileName)
	}

	lease, err := r.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	st, err := r.loadOrRebuildState()
	if err != nil {
		return nil, err
	}

	items, err := r.convergeScope(st.Items, ids)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no auditable items in scope")
	}

	fixer, err := worker.NewCommandFixer(r.cfg.Repair.FixCommand, r.root)
	if err != nil {
		return nil, err
	}
	gate, err := worker.NewCommandGate(r.cfg.Repair.GateCommand, r.root)
	if err != nil {
		return nil, err
	}

	reviewer := &batchReviewer{runner: r, items: items}
	ctrl, err := converge.New(reviewer, fixer, gate, &r.cfg.Converge)
	if err != nil {
		return nil, err
	}
	return ctrl.Run(ctx)
}

// convergeScope resolves the item set under repair. Explicit ids are
// validated against tracked state; with none given, scope falls back to the
// same selection a run would make.
func (r *Runner) convergeScope(tracked map[string]*types.WorkItem, ids []string) ([]*types.WorkItem, error) {
	if len(ids) > 0 {
		items := make([]*types.WorkItem, 0, len(ids))
		for _, id := range ids {
			item, ok := tracked[id]
			if !ok {
				return nil, fmt.Errorf("unknown item %q", id)
			}
			items = append(items, item)
		}
		return items, nil
	}

	scored := make([]batch.ScoredItem, 0, len(tracked))
	for _, item := range tracked {
		scored = append(scored, batch.ScoredItem{Item: item, Score: r.scorer.Score(item)})
	}
	selection := batch.Select(scored, &r.cfg.Batch)
	items := make([]*types.WorkItem, 0, len(selection.Items))
	for _, si := range selection.Items {
		items = append(items, si.Item)
	}
	return items, nil
}

// batchReviewer reviews a fixed item scope by dispatching it through the
// scheduler once per cycle, tagging each cycle as its own wave so later
// cycles supersede earlier ones during deduplication.
type batchReviewer struct {
	runner *Runner
	items  []*types.WorkItem
}

// Review implements converge.Reviewer.
func (b *batchReviewer) Review(ctx context.Context, cycle int) ([]types.Finding, error) {
	if b.runner.wave != nil {
		b.runner.wave.SetWave(cycle)
	}
	results, err := b.runner.sched.Dispatch(ctx, b.items, nil)
	if err != nil && (results == nil || len(results.Completed) == 0) {
		return nil, err
	}

	var perWorker [][]types.Finding
	for _, res := range results.Completed {
		if res.Err != nil {
			return nil, fmt.Errorf("review of %s failed: %w", res.ItemID, res.Err)
		}
		perWorker = append(perWorker, res.Findings)
	}
	return b.runner.agg.Aggregate(perWorker), nil
}
