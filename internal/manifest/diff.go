package manifest

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/codepatrol/patrol/internal/types"
)

// renameSimilarityFloor is the minimum path similarity for the degraded
// rename heuristic to pair a deleted item with an added one.
const renameSimilarityFloor = 0.6

// Diff compares a current snapshot against the previous one. Rename
// detection runs only over the delta (item ids present in deleted and
// added), never the full inventory:
//
//  1. identical content hash pairs a delete with an add directly
//  2. with a repository, git move tracking decides the rest of the delta
//  3. without one, path similarity pairs near-identical paths
func (b *Builder) Diff(ctx context.Context, current, previous *types.Manifest) *types.DiffResult {
	diff := &types.DiffResult{Renamed: make(map[string]string)}
	if previous == nil {
		for id := range current.Items {
			diff.Added = append(diff.Added, id)
		}
		sort.Strings(diff.Added)
		return diff
	}

	for id, entry := range current.Items {
		prev, ok := previous.Items[id]
		if !ok {
			diff.Added = append(diff.Added, id)
			continue
		}
		if prev.ContentHash != entry.ContentHash {
			diff.Modified = append(diff.Modified, id)
		}
	}
	for id := range previous.Items {
		if _, ok := current.Items[id]; !ok {
			diff.Deleted = append(diff.Deleted, id)
		}
	}

	b.detectRenames(ctx, current, previous, diff)

	sort.Strings(diff.Added)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Deleted)
	return diff
}

func (b *Builder) detectRenames(ctx context.Context, current, previous *types.Manifest, diff *types.DiffResult) {
	if len(diff.Added) == 0 || len(diff.Deleted) == 0 {
		return
	}

	// Tier 1: exact content match.
	addedByHash := make(map[string][]string)
	for _, id := range diff.Added {
		h := current.Items[id].ContentHash
		addedByHash[h] = append(addedByHash[h], id)
	}
	for _, ids := range addedByHash {
		sort.Strings(ids)
	}

	claimed := make(map[string]bool)
	var remainingDeleted []string
	for _, oldID := range diff.Deleted {
		h := previous.Items[oldID].ContentHash
		matched := false
		for _, newID := range addedByHash[h] {
			if !claimed[newID] {
				diff.Renamed[oldID] = newID
				claimed[newID] = true
				matched = true
				break
			}
		}
		if !matched {
			remainingDeleted = append(remainingDeleted, oldID)
		}
	}

	// Tier 2: git move tracking over the delta.
	if b.git != nil && len(remainingDeleted) > 0 {
		gitRenames, err := b.git.Renames(ctx, previous.Revision, current.Revision)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: git rename detection failed: %v\n", err)
		} else {
			var still []string
			for _, oldID := range remainingDeleted {
				newID, ok := gitRenames[oldID]
				if ok && !claimed[newID] {
					if _, inCurrent := current.Items[newID]; inCurrent {
						diff.Renamed[oldID] = newID
						claimed[newID] = true
						continue
					}
				}
				still = append(still, oldID)
			}
			remainingDeleted = still
		}
	}

	// Tier 3: path similarity, degraded mode only. Bounded by the delta
	// size; both slices are already small relative to the inventory.
	if b.git == nil && len(remainingDeleted) > 0 {
		dmp := diffmatchpatch.New()
		for _, oldID := range remainingDeleted {
			bestID, bestScore := "", 0.0
			for _, newID := range diff.Added {
				if claimed[newID] || path.Ext(newID) != path.Ext(oldID) {
					continue
				}
				score := pathSimilarity(dmp, oldID, newID)
				if score > bestScore {
					bestID, bestScore = newID, score
				}
			}
			if bestScore >= renameSimilarityFloor {
				diff.Renamed[oldID] = bestID
				claimed[bestID] = true
			}
		}
	}

	// Remove matched pairs from added/deleted.
	if len(diff.Renamed) > 0 {
		diff.Added = without(diff.Added, claimed)
		oldClaimed := make(map[string]bool, len(diff.Renamed))
		for oldID := range diff.Renamed {
			oldClaimed[oldID] = true
		}
		diff.Deleted = without(diff.Deleted, oldClaimed)
	}
}

// pathSimilarity scores two paths in [0,1] using edit distance.
func pathSimilarity(dmp *diffmatchpatch.DiffMatchPatch, a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)
	return 1 - float64(distance)/float64(longest)
}

func without(ids []string, drop map[string]bool) []string {
	kept := ids[:0]
	for _, id := range ids {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	return kept
}
