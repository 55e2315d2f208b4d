// Package state implements the persistent store underlying every pipeline
// stage: the item state document, the manifest snapshot, the in-flight batch
// checkpoint, and the lock lease that gates all of them.
//
// Writes use a write-temp / flush / atomic-rename sequence so a reader never
// observes a partially written file. Stale temp artifacts from a crashed
// process are swept unconditionally at open time.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codepatrol/patrol/internal/types"
)

var (
	// ErrNotFound is returned when a requested document does not exist yet.
	ErrNotFound = errors.New("not found")

	// ErrLockBusy is returned when the lock is held by a live owner.
	// Callers should treat it as transient and retry with backoff.
	ErrLockBusy = errors.New("state lock is held by another process")

	// ErrCorruptState is returned when the primary state file cannot be
	// decoded. Callers should rebuild from run history.
	ErrCorruptState = errors.New("state file is corrupt")

	// ErrStorageFatal is returned when no usable storage medium exists
	// (e.g. disk exhausted). Nothing must be written after this.
	ErrStorageFatal = errors.New("storage medium unusable")
)

// StateSchemaVersion is the current state document schema.
const StateSchemaVersion = 3

const (
	stateFile      = "state.json"
	manifestFile   = "manifest.json"
	checkpointFile = "checkpoint.json"
	tmpPattern     = ".tmp-"

	// minFreeBytes is the pre-flight capacity floor. Below this the run
	// aborts before any partial state is written.
	minFreeBytes = 16 << 20
)

// State is the primary persisted document: every known work item plus
// aggregate statistics.
type State struct {
	SchemaVersion int                        `json:"schema_version"`
	UpdatedAt     time.Time                  `json:"updated_at"`
	Items         map[string]*types.WorkItem `json:"items"`
	Stats         AggregateStats             `json:"stats"`
}

// AggregateStats summarizes coverage across the whole inventory.
type AggregateStats struct {
	TotalItems      int                    `json:"total_items"`
	AuditedItems    int                    `json:"audited_items"`
	CoveragePercent float64                `json:"coverage_percent"`
	FindingTotals   map[types.Severity]int `json:"finding_totals,omitempty"`
	LastRunID       string                 `json:"last_run_id,omitempty"`
}

// NewState returns an empty state document at the current schema version.
func NewState() *State {
	return &State{
		SchemaVersion: StateSchemaVersion,
		UpdatedAt:     time.Now(),
		Items:         make(map[string]*types.WorkItem),
	}
}

// RecomputeStats refreshes the aggregate counters from the item map.
func (s *State) RecomputeStats() {
	stats := AggregateStats{LastRunID: s.Stats.LastRunID}
	for _, item := range s.Items {
		if item.Status == types.StatusDeleted || item.Status == types.StatusExcluded {
			continue
		}
		stats.TotalItems++
		if item.Status == types.StatusAudited {
			stats.AuditedItems++
		}
	}
	if stats.TotalItems > 0 {
		stats.CoveragePercent = 100 * float64(stats.AuditedItems) / float64(stats.TotalItems)
	}
	stats.FindingTotals = make(map[types.Severity]int)
	for _, item := range s.Items {
		if item.LastAudit == nil {
			continue
		}
		for sev, n := range item.LastAudit.BySeverity {
			stats.FindingTotals[sev] += n
		}
	}
	s.Stats = stats
}

// Store provides lock-protected persistence rooted at a single directory
// (".patrol" at the project root by convention).
type Store struct {
	dir      string
	identity types.Identity
}

// Open prepares the state directory: creates it if missing, discards temp
// artifacts left by a crashed writer, and establishes the process identity.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating state directory: %v", ErrStorageFatal, err)
	}

	// Crash leftovers are never trusted, not even for recovery.
	sweepTempArtifacts(dir)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	installID, err := loadOrCreateInstallID()
	if err != nil {
		return nil, fmt.Errorf("establishing install id: %w", err)
	}

	return &Store{
		dir: dir,
		identity: types.Identity{
			PID:       os.Getpid(),
			Hostname:  hostname,
			InstallID: installID,
			SessionID: uuid.NewString(),
		},
	}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Identity returns the identity this process uses for leases and checkpoints.
func (s *Store) Identity() types.Identity {
	return s.identity
}

// Preflight verifies the storage medium has enough headroom for a run.
// A failure here is fatal: the run must abort before writing anything.
func (s *Store) Preflight() error {
	free, err := freeBytes(s.dir)
	if err != nil {
		// Capacity probe unsupported on this platform; proceed.
		return nil
	}
	if free < minFreeBytes {
		return fmt.Errorf("%w: only %d bytes free in %s", ErrStorageFatal, free, s.dir)
	}
	return nil
}

// LoadState reads the state document, applying schema migrations.
// Returns ErrNotFound for a fresh directory and ErrCorruptState when the
// file exists but cannot be decoded.
func (s *Store) LoadState() (*State, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if st.Items == nil {
		st.Items = make(map[string]*types.WorkItem)
	}
	if err := migrateState(&st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &st, nil
}

// SaveState persists the state document atomically.
func (s *Store) SaveState(st *State) error {
	st.SchemaVersion = StateSchemaVersion
	st.UpdatedAt = time.Now()
	return s.writeJSON(stateFile, st)
}

// LoadManifest reads the previous run's manifest snapshot.
func (s *Store) LoadManifest() (*types.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptState, err)
	}
	migrateManifest(&m)
	return &m, nil
}

// SaveManifest persists the manifest snapshot atomically.
func (s *Store) SaveManifest(m *types.Manifest) error {
	m.SchemaVersion = types.ManifestSchemaVersion
	return s.writeJSON(manifestFile, m)
}

// LoadCheckpoint reads the in-flight batch checkpoint, if any.
func (s *Store) LoadCheckpoint() (*types.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, checkpointFile))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp types.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupt checkpoint only costs redone work, never data.
		return nil, ErrNotFound
	}
	return &cp, nil
}

// SaveCheckpoint persists the checkpoint atomically.
func (s *Store) SaveCheckpoint(cp *types.Checkpoint) error {
	cp.UpdatedAt = time.Now()
	return s.writeJSON(checkpointFile, cp)
}

// ClearCheckpoint removes the checkpoint file.
func (s *Store) ClearCheckpoint() error {
	err := os.Remove(filepath.Join(s.dir, checkpointFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}

// writeJSON marshals v and writes it with the write-temp / flush / rename
// sequence. The rename is atomic on POSIX filesystems, so concurrent readers
// see either the old or the new version, never a mix.
func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}

	final := filepath.Join(s.dir, name)
	tmp := final + tmpPattern + fmt.Sprintf("%d", os.Getpid())

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flushing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing %s: %w", name, err)
	}
	return nil
}

// sweepTempArtifacts removes leftover temp files from a prior crash.
func sweepTempArtifacts(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+tmpPattern+"*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: failed to remove temp artifact %s: %v\n", m, err)
		}
	}
}

// loadOrCreateInstallID returns a stable per-user-per-machine identifier.
// It lives under the user config dir so two accounts sharing a state
// directory over a network mount are never confused with each other.
func loadOrCreateInstallID() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		// No config dir (rare); fall back to an ephemeral id. Lease
		// reclamation will simply never trigger for this process.
		return uuid.NewString(), nil
	}

	path := filepath.Join(base, "patrol", "install-id")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data), nil
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return id, nil
	}
	if err := os.WriteFile(path, []byte(id), 0644); err != nil {
		return id, nil
	}
	return id, nil
}
