package types

import "time"

// ManifestSchemaVersion is the current manifest schema. Loaders apply
// additive migrations for older versions; they never rewrite history.
const ManifestSchemaVersion = 2

// ManifestEntry is the static and provenance metadata captured for one work
// item during inventory.
type ManifestEntry struct {
	ID            string    `json:"id"`
	Kind          ItemKind  `json:"kind"`
	Lines         int       `json:"lines"`
	Language      string    `json:"language,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
	ContentHash   string    `json:"content_hash"`
	Contributors  int       `json:"contributors,omitempty"`
	RecentCommits int       `json:"recent_commits,omitempty"`
}

// Manifest is a full-inventory snapshot, rebuilt each run and diffed against
// the previous snapshot.
type Manifest struct {
	SchemaVersion int                      `json:"schema_version"`
	GeneratedAt   time.Time                `json:"generated_at"`
	// Revision is the monotonic marker (e.g. HEAD commit) that enables
	// warm no-op reruns.
	Revision string `json:"revision,omitempty"`
	// Degraded is set when provenance came from filesystem timestamps
	// because no version control was available.
	Degraded bool                     `json:"degraded,omitempty"`
	Items    map[string]ManifestEntry `json:"items"`
}

// DiffResult describes how the inventory changed between two manifests.
// Renamed maps old id to new id; renamed items appear in neither Added nor
// Deleted.
type DiffResult struct {
	Added    []string          `json:"added"`
	Modified []string          `json:"modified"`
	Deleted  []string          `json:"deleted"`
	Renamed  map[string]string `json:"renamed,omitempty"`
}

// Empty reports whether the diff contains no changes.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 &&
		len(d.Deleted) == 0 && len(d.Renamed) == 0
}
