package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codepatrol/patrol/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLoadStateFreshDirectory(t *testing.T) {
	s := openStore(t)
	_, err := s.LoadState()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveLoadStateRoundtrip(t *testing.T) {
	s := openStore(t)

	st := NewState()
	st.Items["a.go"] = &types.WorkItem{
		ID:         "a.go",
		Kind:       types.KindFile,
		Status:     types.StatusAudited,
		AuditCount: 3,
		LastAudit: &types.AuditSummary{
			RunID:      "run-1",
			AuditedAt:  time.Now().Truncate(time.Second),
			BySeverity: map[types.Severity]int{types.SeverityHigh: 2},
		},
	}
	st.RecomputeStats()

	if err := s.SaveState(st); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	item := loaded.Items["a.go"]
	if item == nil || item.AuditCount != 3 || item.Status != types.StatusAudited {
		t.Fatalf("roundtrip lost item state: %+v", item)
	}
	if loaded.Stats.TotalItems != 1 || loaded.Stats.AuditedItems != 1 {
		t.Errorf("stats = %+v", loaded.Stats)
	}
}

func TestLoadStateCorruptFile(t *testing.T) {
	s := openStore(t)
	path := filepath.Join(s.Dir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"schema_version": 3, "items": {trunc`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.LoadState()
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}
}

func TestOpenSweepsTempArtifacts(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, "state.json.tmp-9999")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("temp artifact survived Open")
	}
}

func TestSaveStateNeverLeavesPartialFile(t *testing.T) {
	s := openStore(t)
	st := NewState()
	st.Items["x.go"] = &types.WorkItem{ID: "x.go", Kind: types.KindFile, Status: types.StatusNeverAudited}
	if err := s.SaveState(st); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Errorf("unexpected artifact in state dir: %s", e.Name())
		}
	}
}

func TestCorruptCheckpointCostsOnlyRedoneWork(t *testing.T) {
	s := openStore(t)
	path := filepath.Join(s.Dir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.LoadCheckpoint()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt checkpoint must read as absent, got %v", err)
	}
}

func TestCheckpointRoundtripAndClear(t *testing.T) {
	s := openStore(t)
	cp := &types.Checkpoint{
		ID:        "cp-1",
		RunID:     "run-1",
		Items:     []string{"a.go", "b.go", "c.go"},
		Completed: []string{"a.go"},
		Owner:     s.Identity(),
		Status:    types.CheckpointActive,
		CreatedAt: time.Now(),
	}
	if err := s.SaveCheckpoint(cp); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	rem := loaded.Remaining()
	if len(rem) != 2 || rem[0] != "b.go" || rem[1] != "c.go" {
		t.Errorf("Remaining = %v, want [b.go c.go]", rem)
	}

	if err := s.ClearCheckpoint(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadCheckpoint(); !errors.Is(err, ErrNotFound) {
		t.Errorf("checkpoint survived Clear: %v", err)
	}
	// Clearing twice is fine.
	if err := s.ClearCheckpoint(); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestRecomputeStatsSkipsTombstones(t *testing.T) {
	st := NewState()
	st.Items["live.go"] = &types.WorkItem{ID: "live.go", Status: types.StatusAudited}
	st.Items["gone.go"] = &types.WorkItem{ID: "gone.go", Status: types.StatusDeleted}
	st.Items["out.go"] = &types.WorkItem{ID: "out.go", Status: types.StatusExcluded}
	st.RecomputeStats()

	if st.Stats.TotalItems != 1 {
		t.Errorf("TotalItems = %d, want 1", st.Stats.TotalItems)
	}
	if st.Stats.CoveragePercent != 100 {
		t.Errorf("CoveragePercent = %v, want 100", st.Stats.CoveragePercent)
	}
}
