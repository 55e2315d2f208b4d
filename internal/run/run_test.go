package run

import (
	"testing"
	"time"

	"github.com/codepatrol/patrol/internal/aggregate"
	"github.com/codepatrol/patrol/internal/config"
	"github.com/codepatrol/patrol/internal/scheduler"
	"github.com/codepatrol/patrol/internal/state"
	"github.com/codepatrol/patrol/internal/types"
)

func manifestWith(entries ...types.ManifestEntry) *types.Manifest {
	m := &types.Manifest{
		SchemaVersion: types.ManifestSchemaVersion,
		GeneratedAt:   time.Now(),
		Items:         make(map[string]types.ManifestEntry, len(entries)),
	}
	for _, e := range entries {
		m.Items[e.ID] = e
	}
	return m
}

func entry(id string, lines int) types.ManifestEntry {
	return types.ManifestEntry{
		ID:          id,
		Kind:        types.KindFile,
		Lines:       lines,
		ContentHash: "hash-" + id,
		ModifiedAt:  time.Now(),
	}
}

func TestReconcileAdded(t *testing.T) {
	st := state.NewState()
	m := manifestWith(entry("a.go", 100))
	reconcile(st, m, &types.DiffResult{Added: []string{"a.go"}})

	item, ok := st.Items["a.go"]
	if !ok {
		t.Fatal("added item not tracked")
	}
	if item.Status != types.StatusNeverAudited {
		t.Errorf("Status = %s, want never_audited", item.Status)
	}
	if item.Lines != 100 || item.ContentHash != "hash-a.go" {
		t.Errorf("metadata not carried from manifest: %+v", item)
	}
}

func TestReconcileModifiedGoesStale(t *testing.T) {
	st := state.NewState()
	st.Items["a.go"] = &types.WorkItem{
		ID: "a.go", Status: types.StatusAudited, AuditCount: 3,
	}
	st.Items["b.go"] = &types.WorkItem{
		ID: "b.go", Status: types.StatusError, ConsecutiveErrors: 1,
	}
	m := manifestWith(entry("a.go", 50), entry("b.go", 60))
	reconcile(st, m, &types.DiffResult{Modified: []string{"a.go", "b.go"}})

	if st.Items["a.go"].Status != types.StatusStale {
		t.Errorf("audited+modified should be stale, got %s", st.Items["a.go"].Status)
	}
	if st.Items["a.go"].AuditCount != 3 {
		t.Error("modification must not erase the audit record")
	}
	// An errored item stays errored; the edit does not clear the ladder.
	if st.Items["b.go"].Status != types.StatusError {
		t.Errorf("errored+modified should stay error, got %s", st.Items["b.go"].Status)
	}
}

func TestReconcileDeletedTombstones(t *testing.T) {
	st := state.NewState()
	st.Items["gone.go"] = &types.WorkItem{ID: "gone.go", Status: types.StatusAudited}
	reconcile(st, manifestWith(), &types.DiffResult{Deleted: []string{"gone.go"}})

	item, ok := st.Items["gone.go"]
	if !ok {
		t.Fatal("deleted item must remain as a tombstone")
	}
	if item.Status != types.StatusDeleted {
		t.Errorf("Status = %s, want deleted", item.Status)
	}
}

func TestReconcileRenameCarriesRecord(t *testing.T) {
	st := state.NewState()
	st.Items["old.go"] = &types.WorkItem{
		ID: "old.go", Status: types.StatusAudited, AuditCount: 5, GapStreak: 2,
	}
	m := manifestWith(entry("new.go", 80))
	reconcile(st, m, &types.DiffResult{Renamed: map[string]string{"old.go": "new.go"}})

	if _, ok := st.Items["old.go"]; ok {
		t.Error("old id must not survive a rename")
	}
	item, ok := st.Items["new.go"]
	if !ok {
		t.Fatal("renamed item missing under new id")
	}
	if item.Status != types.StatusAudited || item.AuditCount != 5 || item.GapStreak != 2 {
		t.Errorf("rename dropped the audit record: %+v", item)
	}
	if item.Lines != 80 {
		t.Errorf("Lines = %d, want refreshed metadata from manifest", item.Lines)
	}
}

func TestReconcileAdoptsUntrackedManifestItems(t *testing.T) {
	// Warm rerun path: empty diff, but the manifest carries an item state
	// has never seen.
	st := state.NewState()
	reconcile(st, manifestWith(entry("orphan.go", 10)), &types.DiffResult{})

	if item := st.Items["orphan.go"]; item == nil || item.Status != types.StatusNeverAudited {
		t.Fatalf("untracked manifest item not adopted: %+v", item)
	}
}

func TestEscalateLadder(t *testing.T) {
	item := &types.WorkItem{ID: "a.go", Status: types.StatusAudited}

	escalate(item)
	if item.Status != types.StatusError || item.ConsecutiveErrors != 1 || item.ErrorCooldown != 0 {
		t.Fatalf("after 1st failure: %+v", item)
	}

	escalate(item)
	if item.Status != types.StatusError || item.ErrorCooldown != 1 {
		t.Fatalf("2nd failure should add a one-cycle cooldown: %+v", item)
	}

	escalate(item)
	if item.Status != types.StatusErrorPermanent || item.ConsecutiveErrors != 3 {
		t.Fatalf("3rd failure should be permanent: %+v", item)
	}
}

func TestAbsorbSeverityTotalsMatchDedupedSet(t *testing.T) {
	r := &Runner{agg: aggregate.New(nil)}
	st := state.NewState()
	item := &types.WorkItem{ID: "a.go", Status: types.StatusStale}
	st.Items["a.go"] = item

	// Three raw findings; the style finding sits within the proximity
	// window of the security one and is deduplicated away.
	raw := []types.Finding{
		{ItemID: "a.go", Severity: types.SeverityHigh, Category: types.CategorySecurity,
			Line: 10, Message: "injection", WorkerID: "w1", Wave: 1, Confidence: 0.9},
		{ItemID: "a.go", Severity: types.SeverityLow, Category: types.CategoryStyle,
			Line: 11, Message: "naming", WorkerID: "w1", Wave: 1, Confidence: 0.5},
		{ItemID: "a.go", Severity: types.SeverityMedium, Category: types.CategoryCorrectness,
			Line: 100, Message: "off by one", WorkerID: "w1", Wave: 1, Confidence: 0.5},
	}
	results := &scheduler.Results{
		Completed: map[string]*scheduler.ItemResult{
			"a.go": {ItemID: "a.go", WorkerID: "w1", Findings: raw},
		},
	}

	report := r.absorb(st, results, []*types.WorkItem{item}, "run-1")

	if report.Findings != 2 {
		t.Fatalf("Findings = %d, want 2 after dedup", report.Findings)
	}
	want := map[types.Severity]int{types.SeverityHigh: 1, types.SeverityMedium: 1}
	for sev, n := range want {
		if report.BySeverity[sev] != n {
			t.Errorf("BySeverity[%s] = %d, want %d", sev, report.BySeverity[sev], n)
		}
	}
	if report.BySeverity[types.SeverityLow] != 0 {
		t.Error("deduplicated finding leaked into the run severity totals")
	}
	// The run totals and the item's audit summary count the same set.
	for sev, n := range item.LastAudit.BySeverity {
		if report.BySeverity[sev] != n {
			t.Errorf("run total for %s = %d, item summary has %d", sev, report.BySeverity[sev], n)
		}
	}
}

func TestRiskProviderPatterns(t *testing.T) {
	p := NewRiskProvider([]config.RiskOverride{
		{Pattern: "auth/login.go", Tier: types.TierCritical},
		{Pattern: "internal/payments/**", Tier: types.TierHigh},
		{Pattern: "*.md", Tier: types.TierLow},
	})

	cases := []struct {
		id   string
		tier types.RiskTier
		ok   bool
	}{
		{"auth/login.go", types.TierCritical, true},
		{"internal/payments/charge.go", types.TierHigh, true},
		{"internal/payments/stripe/client.go", types.TierHigh, true},
		{"internal/payments", types.TierHigh, true},
		{"internal/paymentsx/x.go", "", false},
		{"README.md", types.TierLow, true},
		{"docs/guide.md", "", false}, // path.Match * does not cross slashes
		{"main.go", "", false},
	}
	for _, tc := range cases {
		tier, ok := p.RiskOf(tc.id)
		if ok != tc.ok || tier != tc.tier {
			t.Errorf("RiskOf(%q) = %q,%v; want %q,%v", tc.id, tier, ok, tc.tier, tc.ok)
		}
	}
}

func TestRiskProviderFirstMatchWins(t *testing.T) {
	p := NewRiskProvider([]config.RiskOverride{
		{Pattern: "pkg/**", Tier: types.TierLow},
		{Pattern: "pkg/core/**", Tier: types.TierCritical},
	})
	tier, ok := p.RiskOf("pkg/core/engine.go")
	if !ok || tier != types.TierLow {
		t.Errorf("first configured override must win, got %q,%v", tier, ok)
	}
}
