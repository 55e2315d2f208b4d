package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codepatrol/patrol/internal/types"
)

func snapshot(entries map[string]string) *types.Manifest {
	m := &types.Manifest{
		SchemaVersion: types.ManifestSchemaVersion,
		GeneratedAt:   time.Now(),
		Items:         make(map[string]types.ManifestEntry),
	}
	for id, hash := range entries {
		m.Items[id] = types.ManifestEntry{ID: id, Kind: types.KindFile, ContentHash: hash}
	}
	return m
}

// degradedBuilder returns a builder with no repository, so rename detection
// exercises the hash and path-similarity tiers only.
func degradedBuilder(t *testing.T) *Builder {
	t.Helper()
	return NewBuilder(context.Background(), t.TempDir(), Options{})
}

func TestDiffColdRun(t *testing.T) {
	b := degradedBuilder(t)
	current := snapshot(map[string]string{"a.go": "h1", "b.go": "h2"})

	d := b.Diff(context.Background(), current, nil)
	if len(d.Added) != 2 || len(d.Modified) != 0 || len(d.Deleted) != 0 {
		t.Fatalf("cold diff = %+v, want everything added", d)
	}
}

func TestDiffAddedModifiedDeleted(t *testing.T) {
	b := degradedBuilder(t)
	previous := snapshot(map[string]string{
		"a.go": "h-a1",
		"b.go": "h-b",
		"c.go": "h-c",
	})
	current := snapshot(map[string]string{
		"a.go":   "h-a2", // changed content
		"c.go":   "h-c",  // untouched
		"new.rs": "h-new",
	})

	d := b.Diff(context.Background(), current, previous)

	if len(d.Added) != 1 || d.Added[0] != "new.rs" {
		t.Errorf("Added = %v, want [new.rs]", d.Added)
	}
	if len(d.Modified) != 1 || d.Modified[0] != "a.go" {
		t.Errorf("Modified = %v, want [a.go]", d.Modified)
	}
	if len(d.Deleted) != 1 || d.Deleted[0] != "b.go" {
		t.Errorf("Deleted = %v, want [b.go]", d.Deleted)
	}
}

func TestDiffRenameByContentHash(t *testing.T) {
	b := degradedBuilder(t)
	previous := snapshot(map[string]string{"pkg/old_name.go": "same-hash"})
	current := snapshot(map[string]string{"pkg/new_name.go": "same-hash"})

	d := b.Diff(context.Background(), current, previous)

	if d.Renamed["pkg/old_name.go"] != "pkg/new_name.go" {
		t.Fatalf("Renamed = %v, want old->new pairing", d.Renamed)
	}
	if len(d.Added) != 0 || len(d.Deleted) != 0 {
		t.Errorf("renamed pair leaked into Added=%v Deleted=%v", d.Added, d.Deleted)
	}
}

func TestDiffRenameByPathSimilarity(t *testing.T) {
	b := degradedBuilder(t)
	// Content changed during the move, so the hash tier cannot pair them;
	// the near-identical path can.
	previous := snapshot(map[string]string{"internal/server/handlers.go": "h1"})
	current := snapshot(map[string]string{"internal/server/handler.go": "h2"})

	d := b.Diff(context.Background(), current, previous)

	if d.Renamed["internal/server/handlers.go"] != "internal/server/handler.go" {
		t.Fatalf("Renamed = %v, want path-similarity pairing", d.Renamed)
	}
}

func TestDiffRenameRequiresSameExtension(t *testing.T) {
	b := degradedBuilder(t)
	previous := snapshot(map[string]string{"web/page.js": "h1"})
	current := snapshot(map[string]string{"web/page.ts": "h2"})

	d := b.Diff(context.Background(), current, previous)

	if len(d.Renamed) != 0 {
		t.Errorf("Renamed = %v, cross-extension pairing must not happen", d.Renamed)
	}
}

func TestDiffDissimilarPathsNotRenamed(t *testing.T) {
	b := degradedBuilder(t)
	previous := snapshot(map[string]string{"docs/readme.md": "h1"})
	current := snapshot(map[string]string{"internal/storage/migrations.md": "h2"})

	d := b.Diff(context.Background(), current, previous)
	if len(d.Renamed) != 0 {
		t.Errorf("Renamed = %v, dissimilar paths must stay add+delete", d.Renamed)
	}
}

func TestBuildInventoriesSourceFiles(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("main.go", "package main\n\nfunc main() {}\n")
	write("vendor/dep/dep.go", "package dep\n")
	write(".patrol/state.json", "{}")

	b := NewBuilder(context.Background(), root, Options{})
	m, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if !m.Degraded {
		t.Error("no repository present, expected a degraded snapshot")
	}
	entry, ok := m.Items["main.go"]
	if !ok {
		t.Fatalf("main.go missing from inventory: %v", m.Items)
	}
	if entry.Lines != 3 {
		t.Errorf("Lines = %d, want 3", entry.Lines)
	}
	if entry.Language != "Go" {
		t.Errorf("Language = %q, want Go", entry.Language)
	}
	if entry.ContentHash == "" {
		t.Error("missing content hash")
	}
	if _, ok := m.Items["vendor/dep/dep.go"]; ok {
		t.Error("vendored file must be excluded")
	}
	for id := range m.Items {
		if strings.HasPrefix(id, ".patrol") {
			t.Errorf("state directory leaked into inventory: %s", id)
		}
	}
}

func TestBuildHonorsExcludes(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "gen"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "gen", "x.go"), []byte("package gen\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "keep.go"), []byte("package keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(context.Background(), root, Options{Excludes: []string{"gen"}})
	m, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Items["gen/x.go"]; ok {
		t.Error("excluded prefix leaked into inventory")
	}
	if _, ok := m.Items["keep.go"]; !ok {
		t.Error("keep.go missing")
	}
}
