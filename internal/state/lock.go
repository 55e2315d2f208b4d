package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/codepatrol/patrol/internal/types"
)

const lockFile = "lock.json"

// Lease is the mutual-exclusion record over the state store. At most one
// live holder exists; a dead holder from the same installation is
// reclaimable after a failed liveness check.
type Lease struct {
	Owner       types.Identity `json:"owner"`
	AcquiredAt  time.Time      `json:"acquired_at"`
	HeartbeatAt time.Time      `json:"heartbeat_at"`

	path string
}

// AcquireLock claims the store's exclusive lock using an atomic
// create-if-absent primitive (O_EXCL). On contention it checks the holder's
// liveness via the OS process table; only a dead holder from the same
// installation is reclaimed. Returns ErrLockBusy otherwise.
func (s *Store) AcquireLock() (*Lease, error) {
	path := filepath.Join(s.dir, lockFile)

	lease, err := s.tryCreateLock(path)
	if err == nil {
		return lease, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("creating lock: %w", err)
	}

	// Lock file exists; decide whether the holder is reclaimable.
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			// Holder released between our attempts; try once more.
			if lease, err := s.tryCreateLock(path); err == nil {
				return lease, nil
			}
		}
		return nil, ErrLockBusy
	}

	var existing Lease
	if json.Unmarshal(data, &existing) != nil {
		// Unreadable lock content: treat as busy rather than guess.
		return nil, ErrLockBusy
	}

	if !s.identity.SameInstall(existing.Owner) {
		// Different machine/account. We cannot probe its process table,
		// so the holder must be assumed alive.
		return nil, fmt.Errorf("%w (held by %s since %s)", ErrLockBusy,
			existing.Owner, existing.AcquiredAt.Format(time.RFC3339))
	}

	if isProcessAlive(existing.Owner.PID, existing.Owner.Hostname) {
		return nil, fmt.Errorf("%w (held by %s since %s)", ErrLockBusy,
			existing.Owner, existing.AcquiredAt.Format(time.RFC3339))
	}

	// Same installation, dead process: reclaim.
	fmt.Fprintf(os.Stderr, "warning: reclaiming lock from dead process %s\n", existing.Owner)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reclaiming lock: %w", err)
	}

	lease, err = s.tryCreateLock(path)
	if err != nil {
		// Someone else won the reclamation race.
		return nil, ErrLockBusy
	}
	return lease, nil
}

// tryCreateLock attempts the exclusive create and writes the lease record
// into the new file.
func (s *Store) tryCreateLock(path string) (*Lease, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	lease := &Lease{
		Owner:       s.identity,
		AcquiredAt:  now,
		HeartbeatAt: now,
		path:        path,
	}

	data, err := json.MarshalIndent(lease, "", "  ")
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return lease, nil
}

// Renew refreshes the lease heartbeat. The rewrite goes through the same
// temp-and-rename sequence as every other store write.
func (l *Lease) Renew() error {
	l.HeartbeatAt = time.Now()

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lease: %w", err)
	}

	tmp := l.path + tmpPattern + fmt.Sprintf("%d", os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("renewing lease: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renewing lease: %w", err)
	}
	return nil
}

// Release removes the lock file. Safe to call multiple times (use defer).
func (l *Lease) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	l.path = ""
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given
// hostname. A remote hostname cannot be probed and is assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes existence without side effects.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM means the process exists but belongs to another user.
	// If we cannot verify, assume alive.
	if err == syscall.EPERM {
		return true
	}

	return false
}
