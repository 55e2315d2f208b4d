// Package aggregate merges findings from multiple workers into one
// deduplicated result set per item. Aggregation is deterministic: the same
// findings and the same hierarchy always produce the same winners.
package aggregate

import (
	"sort"

	"github.com/codepatrol/patrol/internal/types"
)

// Config controls dedup behavior.
type Config struct {
	// Hierarchy orders categories by dedup precedence, highest first.
	// When two findings land within the proximity window, the finding
	// whose category appears earlier wins.
	Hierarchy []types.FindingCategory `yaml:"hierarchy" json:"hierarchy"`

	// ProximityWindow is how many lines apart two findings may be and
	// still count as the same location.
	ProximityWindow int `yaml:"proximity_window" json:"proximity_window"`
}

// DefaultConfig returns the stock hierarchy: security outranks correctness,
// then performance, maintainability, style, docs.
func DefaultConfig() *Config {
	return &Config{
		Hierarchy: []types.FindingCategory{
			types.CategorySecurity,
			types.CategoryCorrectness,
			types.CategoryPerformance,
			types.CategoryMaintainability,
			types.CategoryStyle,
			types.CategoryDocs,
		},
		ProximityWindow: 5,
	}
}

// Aggregator deduplicates findings by category hierarchy and positional
// proximity.
type Aggregator struct {
	cfg  *Config
	rank map[types.FindingCategory]int
}

// New creates an aggregator. Categories missing from the hierarchy rank
// below every listed one.
func New(cfg *Config) *Aggregator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	rank := make(map[types.FindingCategory]int, len(cfg.Hierarchy))
	for i, cat := range cfg.Hierarchy {
		rank[cat] = i
	}
	return &Aggregator{cfg: cfg, rank: rank}
}

// Aggregate merges the per-worker finding lists into one deduplicated set.
// Two rules apply in order:
//
//  1. Same-wave proximity dedup: within one wave, when two findings target
//     the same location the higher-priority category wins and the loser is
//     preserved as a cross-reference on the winner.
//  2. Wave supersession: a later wave's finding on a location replaces any
//     earlier wave's finding there. Deeper analysis is trusted over earlier
//     analysis. This runs after rule 1, never instead of it.
func (a *Aggregator) Aggregate(findingsPerWorker [][]types.Finding) []types.Finding {
	var all []types.Finding
	for _, fs := range findingsPerWorker {
		all = append(all, fs...)
	}
	if len(all) == 0 {
		return nil
	}

	// Canonical order makes every later pairwise decision deterministic.
	sortFindings(all)

	byItemWave := make(map[string]map[int][]types.Finding)
	waves := make(map[int]bool)
	for _, f := range all {
		if byItemWave[f.ItemID] == nil {
			byItemWave[f.ItemID] = make(map[int][]types.Finding)
		}
		byItemWave[f.ItemID][f.Wave] = append(byItemWave[f.ItemID][f.Wave], f)
		waves[f.Wave] = true
	}

	waveOrder := make([]int, 0, len(waves))
	for w := range waves {
		waveOrder = append(waveOrder, w)
	}
	sort.Ints(waveOrder)

	itemIDs := make([]string, 0, len(byItemWave))
	for id := range byItemWave {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	var out []types.Finding
	for _, itemID := range itemIDs {
		var kept []types.Finding
		for _, wave := range waveOrder {
			deduped := a.dedupWave(byItemWave[itemID][wave])
			kept = a.supersede(kept, deduped)
		}
		out = append(out, kept...)
	}

	sortFindings(out)
	return out
}

// dedupWave applies the proximity rule within a single wave.
func (a *Aggregator) dedupWave(findings []types.Finding) []types.Finding {
	var kept []types.Finding
	for _, cand := range findings {
		merged := false
		for i := range kept {
			if !a.sameLocation(&kept[i], &cand) {
				continue
			}
			if a.outranks(cand.Category, kept[i].Category) {
				cand.CrossRefs = append(cand.CrossRefs, asCrossRef(&kept[i]))
				cand.CrossRefs = append(cand.CrossRefs, kept[i].CrossRefs...)
				kept[i] = cand
			} else {
				kept[i].CrossRefs = append(kept[i].CrossRefs, asCrossRef(&cand))
			}
			merged = true
			break
		}
		if !merged {
			kept = append(kept, cand)
		}
	}
	return kept
}

// supersede applies the wave rule: later findings replace earlier ones on
// the same location.
func (a *Aggregator) supersede(earlier, later []types.Finding) []types.Finding {
	if len(earlier) == 0 {
		return later
	}
	var kept []types.Finding
	for _, old := range earlier {
		replaced := false
		for _, newer := range later {
			if a.sameLocation(&old, &newer) {
				replaced = true
				break
			}
		}
		if !replaced {
			kept = append(kept, old)
		}
	}
	return append(kept, later...)
}

func (a *Aggregator) sameLocation(x, y *types.Finding) bool {
	if x.ItemID != y.ItemID {
		return false
	}
	delta := x.Line - y.Line
	if delta < 0 {
		delta = -delta
	}
	return delta <= a.cfg.ProximityWindow
}

// outranks reports whether category x has strictly higher dedup precedence
// than y under the configured hierarchy.
func (a *Aggregator) outranks(x, y types.FindingCategory) bool {
	ri, iOK := a.rank[x]
	rj, jOK := a.rank[y]
	if iOK != jOK {
		return iOK
	}
	if !iOK {
		return false
	}
	return ri < rj
}

func asCrossRef(f *types.Finding) types.CrossRef {
	return types.CrossRef{
		Category:   f.Category,
		WorkerID:   f.WorkerID,
		Confidence: f.Confidence,
		Message:    f.Message,
	}
}

// sortFindings orders findings canonically: item, line, severity, category,
// worker, message.
func sortFindings(fs []types.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.WorkerID != b.WorkerID {
			return a.WorkerID < b.WorkerID
		}
		return a.Message < b.Message
	})
}
