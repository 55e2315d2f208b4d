package state

import (
	"fmt"
	"os"

	"github.com/codepatrol/patrol/internal/types"
)

// HistorySource supplies the ordered run records and the most recent
// manifest snapshot needed to rebuild state after corruption. Implemented by
// the history store.
type HistorySource interface {
	Records() ([]*types.RunRecord, error)
	LatestManifest() (*types.Manifest, error)
}

// RebuildFromHistory reconstructs a best-effort state document by replaying
// ordered run records over the latest manifest snapshot. Statuses and audit
// counts replay exactly; derived counters that only ever lived in the
// primary file (gap streaks, consecutive-error runs, per-item severity
// summaries) cannot be reconstructed and reset to safe defaults.
func RebuildFromHistory(src HistorySource) (*State, error) {
	manifest, err := src.LatestManifest()
	if err != nil {
		return nil, fmt.Errorf("rebuild: loading latest manifest snapshot: %w", err)
	}

	st := NewState()
	if manifest != nil {
		for id, entry := range manifest.Items {
			st.Items[id] = &types.WorkItem{
				ID:            id,
				Kind:          entry.Kind,
				Lines:         entry.Lines,
				Language:      entry.Language,
				CreatedAt:     entry.CreatedAt,
				ModifiedAt:    entry.ModifiedAt,
				ContentHash:   entry.ContentHash,
				Contributors:  entry.Contributors,
				RecentCommits: entry.RecentCommits,
				Status:        types.StatusNeverAudited,
			}
		}
	}

	records, err := src.Records()
	if err != nil {
		return nil, fmt.Errorf("rebuild: loading run history: %w", err)
	}

	for _, rec := range records {
		for _, id := range rec.Completed {
			item, ok := st.Items[id]
			if !ok {
				// Item has since left the inventory; keep the record
				// so coverage accounting stays honest.
				item = &types.WorkItem{ID: id, Kind: types.KindFile, Status: types.StatusDeleted}
				st.Items[id] = item
			}
			item.AuditCount++
			item.ConsecutiveErrors = 0
			if item.Status != types.StatusDeleted {
				item.Status = types.StatusAudited
			}
			item.LastAudit = &types.AuditSummary{
				RunID:     rec.RunID,
				AuditedAt: rec.FinishedAt,
			}
		}
		for _, id := range rec.Errored {
			if item, ok := st.Items[id]; ok && item.Status != types.StatusDeleted {
				item.Status = types.StatusError
			}
		}
		st.Stats.LastRunID = rec.RunID
	}

	st.RecomputeStats()
	fmt.Fprintf(os.Stderr,
		"warning: state rebuilt from %d historical runs; gap streaks and error counters reset\n",
		len(records))
	return st, nil
}
