// Package scoring computes the composite audit priority of work items. All
// scoring rules are pure functions over explicit inputs; there is no hidden
// interpretation step.
package scoring

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/codepatrol/patrol/internal/types"
)

const (
	// weightTolerance is how far a weight set may stray from summing to
	// 1.0 before normalization kicks in.
	weightTolerance = 1e-3

	// errorPenaltyPerFailure is subtracted from the composite score per
	// consecutive failure, sinking chronically-failing items without
	// excluding them outright.
	errorPenaltyPerFailure = 2.0

	// stalenessCeiling keeps "very stale" strictly below the
	// never-audited score of 10 so the two remain distinguishable.
	stalenessCeiling = 9.5

	stalenessFloorDays = 7
	stalenessPerDay    = 0.15

	// recencyHalfLifeDays shapes the exponential decay of the recency
	// sub-score; ~0.1 remains by day 90.
	recencyDecayDays = 20
)

// Weights is a configuration-supplied weight set over the six sub-scores.
type Weights struct {
	Staleness  float64 `yaml:"staleness" json:"staleness"`
	Recency    float64 `yaml:"recency" json:"recency"`
	Risk       float64 `yaml:"risk" json:"risk"`
	Complexity float64 `yaml:"complexity" json:"complexity"`
	Novelty    float64 `yaml:"novelty" json:"novelty"`
	Role       float64 `yaml:"role" json:"role"`
}

// DefaultWeights returns the stock weight set.
func DefaultWeights() Weights {
	return Weights{
		Staleness:  0.25,
		Recency:    0.20,
		Risk:       0.25,
		Complexity: 0.10,
		Novelty:    0.10,
		Role:       0.10,
	}
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.Staleness + w.Recency + w.Risk + w.Complexity + w.Novelty + w.Role
}

// Normalize scales the weights to sum to 1.0. The second return reports
// whether an adjustment was necessary (outside tolerance).
func (w Weights) Normalize() (Weights, bool) {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeights(), true
	}
	if math.Abs(sum-1.0) <= weightTolerance {
		return w, false
	}
	return Weights{
		Staleness:  w.Staleness / sum,
		Recency:    w.Recency / sum,
		Risk:       w.Risk / sum,
		Complexity: w.Complexity / sum,
		Novelty:    w.Novelty / sum,
		Role:       w.Role / sum,
	}, true
}

// RiskProvider supplies an externally-determined risk tier for an item.
// Implementations return ok=false when they have no signal; the scorer then
// defaults to TierMedium.
type RiskProvider interface {
	RiskOf(itemID string) (types.RiskTier, bool)
}

// Scorer computes composite priority scores in [0,10].
type Scorer struct {
	weights Weights
	risk    RiskProvider
	now     func() time.Time
}

// NewScorer builds a scorer, normalizing the weight set if needed.
func NewScorer(weights Weights, risk RiskProvider) *Scorer {
	normalized, adjusted := weights.Normalize()
	if adjusted {
		fmt.Fprintf(os.Stderr,
			"warning: priority weights sum to %.4f, normalized to 1.0\n", weights.Sum())
	}
	return &Scorer{
		weights: normalized,
		risk:    risk,
		now:     time.Now,
	}
}

// Weights returns the normalized weight set in use.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score computes the composite priority of an item. Items whose status is
// not auditable score 0: ErrorPermanent and Excluded items never reach a
// batch until manually reset.
func (s *Scorer) Score(item *types.WorkItem) float64 {
	if !item.Status.Auditable() {
		return 0
	}

	now := s.now()

	tier := types.TierMedium
	if s.risk != nil {
		if t, ok := s.risk.RiskOf(item.ID); ok {
			tier = t
		}
	}

	composite := s.weights.Staleness*StalenessScore(item, now) +
		s.weights.Recency*RecencyScore(item.ModifiedAt, now) +
		s.weights.Risk*tier.Score() +
		s.weights.Complexity*ComplexityScore(item.Lines) +
		s.weights.Novelty*NoveltyScore(item.CreatedAt, now) +
		s.weights.Role*RoleScore(item.ID, item.Kind)

	composite -= float64(item.ConsecutiveErrors) * errorPenaltyPerFailure

	return clamp(composite, 0, 10)
}

// StalenessScore captures how long since an item was last audited. A
// never-audited item always scores 10, strictly above the 9.5 ceiling any
// audited item can reach.
func StalenessScore(item *types.WorkItem, now time.Time) float64 {
	if item.LastAudit == nil || item.AuditCount == 0 {
		return 10
	}
	days := now.Sub(item.LastAudit.AuditedAt).Hours() / 24
	if days <= stalenessFloorDays {
		return 0
	}
	return clamp((days-stalenessFloorDays)*stalenessPerDay, 0, stalenessCeiling)
}

// RecencyScore decays exponentially with days since the last change: 10 at
// day zero, roughly nothing by day 90. Negative deltas from clock skew
// clamp to day zero.
func RecencyScore(modified, now time.Time) float64 {
	if modified.IsZero() {
		return 0
	}
	days := now.Sub(modified).Hours() / 24
	if days < 0 {
		days = 0
	}
	return clamp(10*math.Exp(-days/recencyDecayDays), 0, 10)
}

// ComplexityScore is linear in the size metric, one point per hundred
// lines, capped at 10.
func ComplexityScore(lines int) float64 {
	if lines <= 0 {
		return 0
	}
	return clamp(float64(lines)/100, 0, 10)
}

// NoveltyScore is a step function of days since creation: brand-new items
// deserve a look regardless of other signals.
func NoveltyScore(created, now time.Time) float64 {
	if created.IsZero() {
		return 0
	}
	days := now.Sub(created).Hours() / 24
	if days < 0 {
		days = 0
	}
	switch {
	case days <= 7:
		return 10
	case days <= 30:
		return 5
	case days <= 90:
		return 2
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
