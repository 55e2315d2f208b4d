// Package batch converts scored work items into a bounded execution batch.
package batch

import (
	"math"
	"path"
	"sort"

	"github.com/codepatrol/patrol/internal/types"
)

// Config controls batch composition.
type Config struct {
	// BatchSize is the target number of items per batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// NeverAuditedFraction of the batch is guaranteed to never-audited
	// items even when their scores are not top-ranked, so new items
	// cannot starve indefinitely.
	NeverAuditedFraction float64 `yaml:"never_audited_fraction" json:"never_audited_fraction"`

	// NeverAuditedFloor is the absolute minimum of never-audited items
	// per batch (when that many exist).
	NeverAuditedFloor int `yaml:"never_audited_floor" json:"never_audited_floor"`

	// GapFraction of the batch is reserved for items with a coverage-gap
	// history (previously skipped due to budget).
	GapFraction float64 `yaml:"gap_fraction" json:"gap_fraction"`

	// AlwaysInclude items (glob patterns over item ids) are force-included.
	// They count against BatchSize but are never displaced by the
	// reservation rules or the token-budget truncation.
	AlwaysInclude []string `yaml:"always_include" json:"always_include"`

	// TokenBudget caps the estimated cost of the batch. Zero disables
	// the cap. The budget always wins over the target batch size.
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// TokensPerLine is the cost estimate per item line.
	TokensPerLine float64 `yaml:"tokens_per_line" json:"tokens_per_line"`
}

// DefaultConfig returns sensible selection defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:            30,
		NeverAuditedFraction: 0.25,
		NeverAuditedFloor:    5,
		GapFraction:          0.10,
		TokensPerLine:        8,
	}
}

// ScoredItem pairs an item with its composite priority score.
type ScoredItem struct {
	Item  *types.WorkItem
	Score float64
}

// Batch is the selection result, ordered highest priority first.
type Batch struct {
	Items           []ScoredItem
	EstimatedTokens int
	// Truncated is set when the token budget forced the batch below the
	// target size.
	Truncated bool
	// Skipped counts auditable items that were eligible but did not fit;
	// their gap streaks should be incremented by the caller.
	Skipped []string
}

// IDs returns the batch item ids in order.
func (b *Batch) IDs() []string {
	ids := make([]string, len(b.Items))
	for i, si := range b.Items {
		ids[i] = si.Item.ID
	}
	return ids
}

// Select applies the composition rules in strict priority order: forced
// always-include items, the never-audited guarantee, the coverage-gap
// reservation, then descending score. The token budget is enforced last by
// truncating from the lowest-priority end.
func Select(scored []ScoredItem, cfg *Config) *Batch {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	eligible := make([]ScoredItem, 0, len(scored))
	for _, si := range scored {
		if !si.Item.Status.Auditable() {
			continue
		}
		if si.Item.ConsecutiveErrors >= types.MaxConsecutiveErrors {
			continue
		}
		if si.Item.ErrorCooldown > 0 {
			continue
		}
		eligible = append(eligible, si)
	}

	// Deterministic priority order: score, then gap-streak length, then
	// byte-wise id ordering (locale-independent).
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Item.GapStreak != b.Item.GapStreak {
			return a.Item.GapStreak > b.Item.GapStreak
		}
		return a.Item.ID < b.Item.ID
	})

	included := make(map[string]bool)
	var selected []ScoredItem
	capacity := cfg.BatchSize

	// Rule 1: forced inclusions. They consume capacity like any other
	// selection but can never be displaced by the later rules.
	for _, si := range eligible {
		if matchesAny(cfg.AlwaysInclude, si.Item.ID) {
			selected = append(selected, si)
			included[si.Item.ID] = true
			if capacity > 0 {
				capacity--
			}
		}
	}

	take := func(pred func(ScoredItem) bool, quota int) {
		for _, si := range eligible {
			if quota <= 0 || capacity <= 0 {
				return
			}
			if included[si.Item.ID] || !pred(si) {
				continue
			}
			selected = append(selected, si)
			included[si.Item.ID] = true
			capacity--
			quota--
		}
	}

	// Rule 2: never-audited guarantee.
	neverNeed := int(math.Round(cfg.NeverAuditedFraction * float64(cfg.BatchSize)))
	if neverNeed < cfg.NeverAuditedFloor {
		neverNeed = cfg.NeverAuditedFloor
	}
	for _, si := range selected {
		if si.Item.Status == types.StatusNeverAudited {
			neverNeed--
		}
	}
	take(func(si ScoredItem) bool {
		return si.Item.Status == types.StatusNeverAudited
	}, neverNeed)

	// Rule 3: coverage-gap reservation.
	gapNeed := int(math.Round(cfg.GapFraction * float64(cfg.BatchSize)))
	take(func(si ScoredItem) bool {
		return si.Item.GapStreak > 0
	}, gapNeed)

	// Rule 4: fill by descending score.
	take(func(ScoredItem) bool { return true }, capacity)

	// Re-sort the non-forced tail into priority order so truncation drops
	// the genuinely lowest-priority items.
	b := &Batch{Items: selected}
	sort.SliceStable(b.Items, func(i, j int) bool {
		ai, aj := b.Items[i], b.Items[j]
		forcedI := matchesAny(cfg.AlwaysInclude, ai.Item.ID)
		forcedJ := matchesAny(cfg.AlwaysInclude, aj.Item.ID)
		if forcedI != forcedJ {
			return forcedI
		}
		if ai.Score != aj.Score {
			return ai.Score > aj.Score
		}
		if ai.Item.GapStreak != aj.Item.GapStreak {
			return ai.Item.GapStreak > aj.Item.GapStreak
		}
		return ai.Item.ID < aj.Item.ID
	})

	// Rule 5: the budget ceiling wins over the target size, but forced
	// items (sorted to the front) survive even an exhausted budget.
	if cfg.TokenBudget > 0 {
		for len(b.Items) > 0 && estimateTokens(b.Items, cfg.TokensPerLine) > cfg.TokenBudget {
			if matchesAny(cfg.AlwaysInclude, b.Items[len(b.Items)-1].Item.ID) {
				break
			}
			b.Items = b.Items[:len(b.Items)-1]
			b.Truncated = true
		}
	}
	b.EstimatedTokens = estimateTokens(b.Items, cfg.TokensPerLine)

	final := make(map[string]bool, len(b.Items))
	for _, si := range b.Items {
		final[si.Item.ID] = true
	}
	for _, si := range eligible {
		if !final[si.Item.ID] {
			b.Skipped = append(b.Skipped, si.Item.ID)
		}
	}

	return b
}

func estimateTokens(items []ScoredItem, perLine float64) int {
	total := 0.0
	for _, si := range items {
		total += float64(si.Item.Lines) * perLine
	}
	return int(total)
}

func matchesAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if p == id {
			return true
		}
		if ok, err := path.Match(p, id); err == nil && ok {
			return true
		}
	}
	return false
}
