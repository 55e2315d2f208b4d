package state

import (
	"testing"
	"time"

	"github.com/codepatrol/patrol/internal/types"
)

type fakeHistory struct {
	records  []*types.RunRecord
	manifest *types.Manifest
}

func (f *fakeHistory) Records() ([]*types.RunRecord, error)     { return f.records, nil }
func (f *fakeHistory) LatestManifest() (*types.Manifest, error) { return f.manifest, nil }

func TestRebuildFromHistoryReplaysRuns(t *testing.T) {
	now := time.Now()
	src := &fakeHistory{
		manifest: &types.Manifest{
			SchemaVersion: types.ManifestSchemaVersion,
			Items: map[string]types.ManifestEntry{
				"a.go": {ID: "a.go", Kind: types.KindFile, Lines: 40},
				"b.go": {ID: "b.go", Kind: types.KindFile, Lines: 80},
				"c.go": {ID: "c.go", Kind: types.KindFile, Lines: 10},
			},
		},
		records: []*types.RunRecord{
			{
				RunID:      "run-1",
				FinishedAt: now.Add(-2 * time.Hour),
				Completed:  []string{"a.go", "b.go"},
			},
			{
				RunID:      "run-2",
				FinishedAt: now.Add(-time.Hour),
				Completed:  []string{"a.go"},
				Errored:    []string{"b.go"},
			},
		},
	}

	st, err := RebuildFromHistory(src)
	if err != nil {
		t.Fatal(err)
	}

	a := st.Items["a.go"]
	if a.AuditCount != 2 || a.Status != types.StatusAudited {
		t.Errorf("a.go = %+v, want 2 audits, audited", a)
	}
	if a.LastAudit == nil || a.LastAudit.RunID != "run-2" {
		t.Errorf("a.go LastAudit = %+v, want run-2", a.LastAudit)
	}

	// b.go completed in run-1 but errored in run-2.
	b := st.Items["b.go"]
	if b.Status != types.StatusError || b.AuditCount != 1 {
		t.Errorf("b.go = %+v, want 1 audit, error status", b)
	}

	// c.go never ran.
	if st.Items["c.go"].Status != types.StatusNeverAudited {
		t.Errorf("c.go status = %s, want never_audited", st.Items["c.go"].Status)
	}

	// Counters that only lived in the lost primary file come back as zero.
	for id, item := range st.Items {
		if item.GapStreak != 0 || item.ErrorCooldown != 0 {
			t.Errorf("%s: derived counters must reset, got %+v", id, item)
		}
	}

	if st.Stats.LastRunID != "run-2" {
		t.Errorf("LastRunID = %s, want run-2", st.Stats.LastRunID)
	}
}

func TestRebuildKeepsRecordsForVanishedItems(t *testing.T) {
	src := &fakeHistory{
		manifest: &types.Manifest{Items: map[string]types.ManifestEntry{}},
		records: []*types.RunRecord{
			{RunID: "run-1", Completed: []string{"removed.go"}},
		},
	}

	st, err := RebuildFromHistory(src)
	if err != nil {
		t.Fatal(err)
	}
	item := st.Items["removed.go"]
	if item == nil || item.Status != types.StatusDeleted || item.AuditCount != 1 {
		t.Fatalf("vanished item = %+v, want deleted tombstone with audit count", item)
	}
}
