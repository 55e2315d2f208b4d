package history

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepatrol/patrol/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, started time.Time) *types.RunRecord {
	return &types.RunRecord{
		RunID:      id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Batch:      []string{"a.go", "b.go"},
		Completed:  []string{"a.go"},
		Errored:    []string{"b.go"},
		BySeverity: map[types.Severity]int{types.SeverityHigh: 1},
	}
}

func TestAppendAndRecordsOrderedOldestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)

	// Insert newest first to prove ordering comes from the query.
	require.NoError(t, s.Append(record("run-3", base.Add(30*time.Minute)), nil))
	require.NoError(t, s.Append(record("run-1", base), nil))
	require.NoError(t, s.Append(record("run-2", base.Add(15*time.Minute)), nil))

	records, err := s.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "run-1", records[0].RunID)
	assert.Equal(t, "run-2", records[1].RunID)
	assert.Equal(t, "run-3", records[2].RunID)

	got := records[0]
	assert.Equal(t, []string{"a.go"}, got.Completed)
	assert.Equal(t, []string{"b.go"}, got.Errored)
	assert.Equal(t, 1, got.BySeverity[types.SeverityHigh])
}

func TestAppendRejectsDuplicateRunID(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.Append(record("run-1", now), nil))
	// Append-only: a second record for the same run must fail, not update.
	assert.Error(t, s.Append(record("run-1", now), nil))
}

func TestLatestManifestRoundtrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	m := &types.Manifest{
		SchemaVersion: types.ManifestSchemaVersion,
		GeneratedAt:   now,
		Revision:      "abc123",
		Items: map[string]types.ManifestEntry{
			"a.go": {ID: "a.go", Kind: types.KindFile, Lines: 120, ContentHash: "h1"},
		},
	}
	require.NoError(t, s.Append(record("run-1", now.Add(-time.Hour)), m))

	m2 := &types.Manifest{
		SchemaVersion: types.ManifestSchemaVersion,
		GeneratedAt:   now,
		Revision:      "def456",
		Items: map[string]types.ManifestEntry{
			"b.go": {ID: "b.go", Kind: types.KindFile, Lines: 300, ContentHash: "h2"},
		},
	}
	require.NoError(t, s.Append(record("run-2", now), m2))

	latest, err := s.LatestManifest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "def456", latest.Revision)
	assert.Contains(t, latest.Items, "b.go")
	assert.Equal(t, 300, latest.Items["b.go"].Lines)
}

func TestLatestManifestEmptyHistory(t *testing.T) {
	s := openTestStore(t)
	latest, err := s.LatestManifest()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestLatestManifestCompressesLargeSnapshots(t *testing.T) {
	s := openTestStore(t)

	// Highly repetitive content compresses well; the roundtrip must still
	// be exact.
	m := &types.Manifest{
		SchemaVersion: types.ManifestSchemaVersion,
		Items:         map[string]types.ManifestEntry{},
	}
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("pkg/module/file_%03d.go", i)
		m.Items[id] = types.ManifestEntry{
			ID:          id,
			Kind:        types.KindFile,
			Lines:       100,
			Language:    "Go",
			ContentHash: strings.Repeat("ab", 32),
		}
	}
	require.NoError(t, s.Append(record("run-big", time.Now()), m))

	latest, err := s.LatestManifest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Len(t, latest.Items, 500)
	assert.Equal(t, strings.Repeat("ab", 32), latest.Items["pkg/module/file_000.go"].ContentHash)
}

func TestPruneKeepsMostRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(record(fmt.Sprintf("run-%02d", i), base.Add(time.Duration(i)*time.Minute)), nil))
	}

	removed, err := s.Prune(3)
	require.NoError(t, err)
	assert.Equal(t, 7, removed)

	records, err := s.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "run-07", records[0].RunID)
	assert.Equal(t, "run-09", records[2].RunID)
}

func TestPruneRejectsNonPositiveRetention(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Prune(0)
	assert.Error(t, err)
}
