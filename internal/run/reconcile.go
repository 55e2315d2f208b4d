package run

import (
	"github.com/codepatrol/patrol/internal/state"
	"github.com/codepatrol/patrol/internal/types"
)

// reconcile folds a manifest diff into tracked state. Renames carry the full
// audit record from the old id to the new one; a rename alone never makes an
// item stale. Deleted items are tombstoned rather than dropped so history
// replay stays coherent.
func reconcile(st *state.State, m *types.Manifest, diff *types.DiffResult) {
	for oldID, newID := range diff.Renamed {
		item, ok := st.Items[oldID]
		if !ok {
			continue
		}
		delete(st.Items, oldID)
		item.ID = newID
		st.Items[newID] = item
	}

	for _, id := range diff.Added {
		entry := m.Items[id]
		st.Items[id] = itemFromEntry(entry)
	}

	for _, id := range diff.Modified {
		item, ok := st.Items[id]
		if !ok {
			st.Items[id] = itemFromEntry(m.Items[id])
			continue
		}
		if item.Status == types.StatusAudited {
			item.Status = types.StatusStale
		}
	}

	for _, id := range diff.Deleted {
		if item, ok := st.Items[id]; ok {
			item.Status = types.StatusDeleted
		}
	}

	// Refresh static metadata on every surviving item so scoring sees the
	// current inventory, not the one from the run that first saw the item.
	for id, entry := range m.Items {
		item, ok := st.Items[id]
		if !ok {
			// Warm reruns skip the diff but the manifest is still
			// authoritative for membership.
			st.Items[id] = itemFromEntry(entry)
			continue
		}
		item.Kind = entry.Kind
		item.Lines = entry.Lines
		item.Language = entry.Language
		item.CreatedAt = entry.CreatedAt
		item.ModifiedAt = entry.ModifiedAt
		item.ContentHash = entry.ContentHash
		item.Contributors = entry.Contributors
		item.RecentCommits = entry.RecentCommits
	}
}

func itemFromEntry(entry types.ManifestEntry) *types.WorkItem {
	return &types.WorkItem{
		ID:            entry.ID,
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
