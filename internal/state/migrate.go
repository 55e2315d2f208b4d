package state

import (
	"fmt"

	"github.com/codepatrol/patrol/internal/types"
)

// migrateState upgrades an older state document in place. Migrations are
// additive and backward-compatible: new fields get safe defaults, nothing is
// dropped or rewritten destructively.
//
// Version history:
//
//	1: initial schema (items only, no aggregate stats)
//	2: added per-item gap_streak and error_cooldown counters
//	3: added aggregate stats block
func migrateState(st *State) error {
	if st.SchemaVersion == 0 {
		st.SchemaVersion = 1
	}
	if st.SchemaVersion > StateSchemaVersion {
		return fmt.Errorf("state schema version %d is newer than supported version %d",
			st.SchemaVersion, StateSchemaVersion)
	}

	for v := st.SchemaVersion; v < StateSchemaVersion; v++ {
		switch v {
		case 1:
			// gap_streak and error_cooldown decode to zero for old
			// documents, which is the correct default. Nothing to do
			// beyond bumping the version.
		case 2:
			st.RecomputeStats()
		}
		st.SchemaVersion = v + 1
	}

	// Repair impossible values regardless of version, so a hand-edited
	// file cannot wedge the scorer.
	for _, item := range st.Items {
		if !item.Status.IsValid() {
			item.Status = types.StatusNeverAudited
		}
		if item.ConsecutiveErrors < 0 {
			item.ConsecutiveErrors = 0
		}
		if item.GapStreak < 0 {
			item.GapStreak = 0
		}
	}
	return nil
}

// migrateManifest upgrades an older manifest snapshot in place.
//
// Version history:
//
//	1: initial schema
//	2: added per-entry language and size_bytes fields
func migrateManifest(m *types.Manifest) {
	if m.SchemaVersion == 0 {
		m.SchemaVersion = 1
	}
	if m.Items == nil {
		m.Items = make(map[string]types.ManifestEntry)
	}
	// v1 entries simply lack language/size metadata; both decode to zero
	// values and are refilled on the next cold inventory.
	m.SchemaVersion = types.ManifestSchemaVersion
}
