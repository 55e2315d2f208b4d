package run

import (
	"context"
	"fmt"

	"github.com/codepatrol/patrol/internal/types"
)

// Reset clears error escalation on the given items so they re-enter the
// scoring pool. This is the only path out of permanent exclusion. An empty
// ids slice resets every errored item.
func (r *Runner) Reset(ctx context.Context, ids []string) (int, error) {
	lease, err := r.acquireLease(ctx)
	if err != nil {
		return 0, err
	}
	defer lease.Release()

	st, err := r.loadOrRebuildState()
	if err != nil {
		return 0, err
	}

	targets := ids
	if len(targets) == 0 {
		for id, item := range st.Items {
			if item.Status == types.StatusError || item.Status == types.StatusErrorPermanent {
				targets = append(targets, id)
			}
		}
	}

	reset := 0
	for _, id := range targets {
		item, ok := st.Items[id]
		if !ok {
			return 0, fmt.Errorf("unknown item %q", id)
		}
		if item.Status != types.StatusError && item.Status != types.StatusErrorPermanent {
			continue
		}
		if item.AuditCount > 0 {
			item.Status = types.StatusStale
		} else {
			item.Status = types.StatusNeverAudited
		}
		item.ConsecutiveErrors = 0
		item.ErrorCooldown = 0
		reset++
	}

	if reset > 0 {
		st.RecomputeStats()
		if err := r.store.SaveState(st); err != nil {
			return 0, fmt.Errorf("saving state: %w", err)
		}
	}
	return reset, nil
}
