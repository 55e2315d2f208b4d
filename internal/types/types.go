package types

import (
	"fmt"
	"time"
)

// WorkItem represents a unit of analysis tracked across runs: a source file,
// a cross-file workflow, or an API endpoint. Items are owned by the state
// store; the scheduler mutates status transitions and the aggregator writes
// result summaries. Nothing else mutates them.
type WorkItem struct {
	// ID is the stable identifier, normally the repo-relative path.
	ID       string   `json:"id"`
	Kind     ItemKind `json:"kind"`
	Lines    int      `json:"lines"`
	Language string   `json:"language,omitempty"`

	// Provenance metadata. Sourced from version control when available,
	// otherwise from filesystem timestamps with Contributors/RecentCommits
	// left at zero (never fabricated).
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
	ContentHash   string    `json:"content_hash"`
	Contributors  int       `json:"contributors,omitempty"`
	RecentCommits int       `json:"recent_commits,omitempty"`

	Status ItemStatus `json:"status"`

	// Cumulative counters.
	AuditCount        int `json:"audit_count"`
	ConsecutiveErrors int `json:"consecutive_errors"`
	GapStreak         int `json:"gap_streak"`

	// ErrorCooldown is the number of upcoming batch cycles this item must
	// sit out after its second consecutive failure. Persisted so the
	// skip-one-cycle policy survives restarts.
	ErrorCooldown int `json:"error_cooldown,omitempty"`

	LastAudit *AuditSummary `json:"last_audit,omitempty"`
}

// MaxConsecutiveErrors is the hard failure threshold: at this many
// consecutive failures an item becomes ErrorPermanent and leaves the
// scoring pool until manually reset.
const MaxConsecutiveErrors = 3

// AuditSummary is the persisted outcome of the most recent audit of an item.
type AuditSummary struct {
	RunID      string           `json:"run_id"`
	AuditedAt  time.Time        `json:"audited_at"`
	BySeverity map[Severity]int `json:"by_severity"`
}

// ItemKind categorizes what a work item is.
type ItemKind string

const (
	KindFile     ItemKind = "file"
	KindWorkflow ItemKind = "workflow"
	KindEndpoint ItemKind = "endpoint"
)

// IsValid checks if the item kind is valid
func (k ItemKind) IsValid() bool {
	switch k {
	case KindFile, KindWorkflow, KindEndpoint:
		return true
	}
	return false
}

// ItemStatus represents an item's lifecycle state.
type ItemStatus string

const (
	// StatusNeverAudited means no completed audit exists for the item.
	StatusNeverAudited ItemStatus = "never_audited"
	// StatusStale means the item changed since its last audit.
	StatusStale ItemStatus = "stale"
	// StatusAudited means the last audit is still current.
	StatusAudited ItemStatus = "audited"
	// StatusError means the most recent audit attempt failed.
	StatusError ItemStatus = "error"
	// StatusErrorPermanent means the item hit the hard failure threshold
	// and is excluded from scoring until manually reset.
	StatusErrorPermanent ItemStatus = "error_permanent"
	// StatusExcluded means the item is configured out of auditing.
	StatusExcluded ItemStatus = "excluded"
	// StatusDeleted means the item vanished from the inventory.
	StatusDeleted ItemStatus = "deleted"
)

// IsValid checks if the status value is valid
func (s ItemStatus) IsValid() bool {
	switch s {
	case StatusNeverAudited, StatusStale, StatusAudited, StatusError,
		StatusErrorPermanent, StatusExcluded, StatusDeleted:
		return true
	}
	return false
}

// Auditable reports whether an item in this status may be scored and batched.
func (s ItemStatus) Auditable() bool {
	switch s {
	case StatusNeverAudited, StatusStale, StatusAudited, StatusError:
		return true
	}
	return false
}

// RiskTier is an externally-supplied risk classification consumed by the
// priority scorer. Unknown items default to TierMedium.
type RiskTier string

const (
	TierCritical RiskTier = "critical"
	TierHigh     RiskTier = "high"
	TierMedium   RiskTier = "medium"
	TierLow      RiskTier = "low"
	TierStale    RiskTier = "stale"
)

// Score maps the tier onto the scorer's [0,10] scale.
func (t RiskTier) Score() float64 {
	switch t {
	case TierCritical:
		return 10
	case TierHigh:
		return 7.5
	case TierMedium:
		return 5
	case TierLow:
		return 2.5
	case TierStale:
		return 0
	}
	return 5
}

// Identity identifies an owning process for leases and checkpoints. The
// installation id distinguishes "different machine/account" from "different
// run on the same account": only the latter is eligible for lease reclamation.
type Identity struct {
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname"`
	InstallID string `json:"install_id"`
	SessionID string `json:"session_id"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%d/%s", id.Hostname, id.PID, id.SessionID)
}

// SameInstall reports whether two identities belong to the same installation.
func (id Identity) SameInstall(other Identity) bool {
	return id.InstallID != "" && id.InstallID == other.InstallID
}

// CheckpointStatus is the lifecycle of an in-flight batch descriptor.
type CheckpointStatus string

const (
	CheckpointActive    CheckpointStatus = "active"
	CheckpointCompleted CheckpointStatus = "completed"
)

// Checkpoint records an in-flight batch so an interrupted run can resume
// without re-doing completed work. Written at batch-selection time, updated
// as items complete, consulted on startup.
type Checkpoint struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	Items     []string         `json:"items"`
	Completed []string         `json:"completed"`
	Current   string           `json:"current,omitempty"`
	Owner     Identity         `json:"owner"`
	Status    CheckpointStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Remaining returns the checkpoint items that have not completed yet,
// preserving batch order.
func (c *Checkpoint) Remaining() []string {
	done := make(map[string]bool, len(c.Completed))
	for _, id := range c.Completed {
		done[id] = true
	}
	remaining := make([]string, 0, len(c.Items)-len(c.Completed))
	for _, id := range c.Items {
		if !done[id] {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

// RunRecord is one immutable history entry per completed (or halted) run.
// Records are append-only and are the replay source when the primary state
// file is corrupt.
type RunRecord struct {
	RunID          string           `json:"run_id"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Batch          []string         `json:"batch"`
	Completed      []string         `json:"completed"`
	Errored        []string         `json:"errored,omitempty"`
	BySeverity     map[Severity]int `json:"by_severity,omitempty"`
	CoverageBefore float64          `json:"coverage_before"`
	CoverageAfter  float64          `json:"coverage_after"`
	TimedOut       bool             `json:"timed_out,omitempty"`
	HaltReason     string           `json:"halt_reason,omitempty"`
}
