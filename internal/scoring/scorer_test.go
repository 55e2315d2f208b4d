package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/codepatrol/patrol/internal/types"
)

func testItem(status types.ItemStatus) *types.WorkItem {
	now := time.Now()
	return &types.WorkItem{
		ID:         "internal/server/server.go",
		Kind:       types.KindFile,
		Lines:      300,
		Status:     status,
		CreatedAt:  now.AddDate(0, -6, 0),
		ModifiedAt: now.AddDate(0, 0, -10),
	}
}

func TestNormalizeWithinTolerance(t *testing.T) {
	w := DefaultWeights()
	normalized, adjusted := w.Normalize()
	if adjusted {
		t.Errorf("default weights should not need normalization, got %+v", normalized)
	}
}

func TestNormalizeScalesToOne(t *testing.T) {
	w := Weights{Staleness: 2, Recency: 2, Risk: 2, Complexity: 2, Novelty: 1, Role: 1}
	normalized, adjusted := w.Normalize()
	if !adjusted {
		t.Fatal("expected normalization for weights summing to 10")
	}
	if math.Abs(normalized.Sum()-1.0) > 1e-9 {
		t.Errorf("normalized sum = %v, want 1.0", normalized.Sum())
	}
	if math.Abs(normalized.Staleness-0.2) > 1e-9 {
		t.Errorf("Staleness = %v, want 0.2", normalized.Staleness)
	}
}

func TestNormalizeZeroSumFallsBackToDefaults(t *testing.T) {
	normalized, adjusted := Weights{}.Normalize()
	if !adjusted {
		t.Fatal("zero weights must be adjusted")
	}
	if normalized != DefaultWeights() {
		t.Errorf("got %+v, want defaults", normalized)
	}
}

func TestScoreRange(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), nil)

	// Extremes on every input should still land in [0,10].
	items := []*types.WorkItem{
		testItem(types.StatusNeverAudited),
		{ID: "x", Status: types.StatusStale, Lines: 1 << 20},
		{ID: "y", Status: types.StatusError, ConsecutiveErrors: 2},
	}
	for _, item := range items {
		got := scorer.Score(item)
		if got < 0 || got > 10 {
			t.Errorf("Score(%s) = %v, out of [0,10]", item.ID, got)
		}
	}
}

func TestSubScoresBounded(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		got  float64
	}{
		{"staleness ancient", StalenessScore(&types.WorkItem{
			AuditCount: 1,
			LastAudit:  &types.AuditSummary{AuditedAt: now.AddDate(-30, 0, 0)},
		}, now)},
		{"recency now", RecencyScore(now, now)},
		{"recency future", RecencyScore(now.Add(time.Hour), now)},
		{"complexity huge", ComplexityScore(10_000_000)},
		{"novelty new", NoveltyScore(now, now)},
	}
	for _, tc := range cases {
		if tc.got < 0 || tc.got > 10 {
			t.Errorf("%s = %v, out of [0,10]", tc.name, tc.got)
		}
	}
}

func TestNeverAuditedOutranksAnyStaleness(t *testing.T) {
	now := time.Now()
	never := StalenessScore(&types.WorkItem{Status: types.StatusNeverAudited}, now)
	if never != 10 {
		t.Fatalf("never-audited staleness = %v, want 10", never)
	}

	// Even decades of staleness must stay strictly below.
	ancient := StalenessScore(&types.WorkItem{
		AuditCount: 5,
		LastAudit:  &types.AuditSummary{AuditedAt: now.AddDate(-50, 0, 0)},
	}, now)
	if ancient >= never {
		t.Errorf("audited staleness %v not strictly below never-audited %v", ancient, never)
	}
}

func TestStalenessGraceWindow(t *testing.T) {
	now := time.Now()
	item := &types.WorkItem{
		AuditCount: 1,
		LastAudit:  &types.AuditSummary{AuditedAt: now.AddDate(0, 0, -3)},
	}
	if got := StalenessScore(item, now); got != 0 {
		t.Errorf("staleness within grace window = %v, want 0", got)
	}
}

func TestErrorPenaltySinksScore(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), nil)

	clean := testItem(types.StatusStale)
	failing := testItem(types.StatusError)
	failing.ConsecutiveErrors = 2

	if scorer.Score(failing) >= scorer.Score(clean) {
		t.Errorf("failing item %v should score below identical clean item %v",
			scorer.Score(failing), scorer.Score(clean))
	}
}

func TestNonAuditableScoresZero(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), nil)
	for _, status := range []types.ItemStatus{
		types.StatusErrorPermanent, types.StatusExcluded, types.StatusDeleted,
	} {
		item := testItem(status)
		if got := scorer.Score(item); got != 0 {
			t.Errorf("Score(status=%s) = %v, want 0", status, got)
		}
	}
}

type fixedRisk struct {
	tier types.RiskTier
}

func (f fixedRisk) RiskOf(string) (types.RiskTier, bool) { return f.tier, true }

func TestRiskTierOrdering(t *testing.T) {
	critical := NewScorer(DefaultWeights(), fixedRisk{types.TierCritical})
	low := NewScorer(DefaultWeights(), fixedRisk{types.TierLow})

	item := testItem(types.StatusStale)
	if critical.Score(item) <= low.Score(item) {
		t.Errorf("critical-tier score %v should exceed low-tier %v",
			critical.Score(item), low.Score(item))
	}
}
