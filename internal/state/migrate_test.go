package state

import (
	"testing"

	"github.com/codepatrol/patrol/internal/types"
)

func TestMigrateV1State(t *testing.T) {
	st := &State{
		SchemaVersion: 1,
		Items: map[string]*types.WorkItem{
			"a.go": {ID: "a.go", Status: types.StatusAudited},
		},
	}
	if err := migrateState(st); err != nil {
		t.Fatal(err)
	}
	if st.SchemaVersion != StateSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", st.SchemaVersion, StateSchemaVersion)
	}
	if st.Stats.TotalItems != 1 || st.Stats.AuditedItems != 1 {
		t.Errorf("v2→v3 migration did not compute stats: %+v", st.Stats)
	}
}

func TestMigrateZeroVersionTreatedAsV1(t *testing.T) {
	st := &State{Items: map[string]*types.WorkItem{}}
	if err := migrateState(st); err != nil {
		t.Fatal(err)
	}
	if st.SchemaVersion != StateSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", st.SchemaVersion, StateSchemaVersion)
	}
}

func TestMigrateRejectsFutureSchema(t *testing.T) {
	st := &State{SchemaVersion: StateSchemaVersion + 1, Items: map[string]*types.WorkItem{}}
	if err := migrateState(st); err == nil {
		t.Fatal("future schema version must be rejected, not guessed at")
	}
}

func TestMigrateRepairsImpossibleValues(t *testing.T) {
	st := &State{
		SchemaVersion: StateSchemaVersion,
		Items: map[string]*types.WorkItem{
			"bad.go": {ID: "bad.go", Status: "no-such-status", ConsecutiveErrors: -4, GapStreak: -1},
		},
	}
	if err := migrateState(st); err != nil {
		t.Fatal(err)
	}
	item := st.Items["bad.go"]
	if item.Status != types.StatusNeverAudited {
		t.Errorf("Status = %s, want repaired to never_audited", item.Status)
	}
	if item.ConsecutiveErrors != 0 || item.GapStreak != 0 {
		t.Errorf("negative counters not repaired: %+v", item)
	}
}

func TestMigrateManifestFillsDefaults(t *testing.T) {
	m := &types.Manifest{}
	migrateManifest(m)
	if m.SchemaVersion != types.ManifestSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", m.SchemaVersion, types.ManifestSchemaVersion)
	}
	if m.Items == nil {
		t.Error("Items map not initialized")
	}
}
