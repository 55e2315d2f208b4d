package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/codepatrol/patrol/internal/types"
)

// CommandWorker runs a configured external analyzer once per item, passing
// the item id as the final argument, and parses findings from its stdout.
// Command runs are idempotent: re-running the same analyzer on the same item
// produces equivalent output, so stale runs may be re-released.
type CommandWorker struct {
	command []string
	dir     string
	wave    atomic.Int64
}

// NewCommandWorker creates a command worker. The command slice is the
// executable followed by its fixed arguments.
func NewCommandWorker(command []string, dir string) (*CommandWorker, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("worker command is required")
	}
	return &CommandWorker{command: command, dir: dir}, nil
}

// ID implements scheduler.Worker.
func (w *CommandWorker) ID() string {
	return "command:" + w.command[0]
}

// Idempotent implements scheduler.Worker.
func (w *CommandWorker) Idempotent() bool {
	return true
}

// SetWave sets the wave tag stamped onto findings from subsequent runs.
func (w *CommandWorker) SetWave(wave int) {
	w.wave.Store(int64(wave))
}

// Run implements scheduler.Worker.
func (w *CommandWorker) Run(ctx context.Context, item *types.WorkItem) ([]types.Finding, error) {
	args := append(append([]string{}, w.command[1:]...), item.ID)
	cmd := exec.CommandContext(ctx, w.command[0], args...)
	cmd.Dir = w.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("analyzer failed on %s: %w (%s)",
			item.ID, err, strings.TrimSpace(stderr.String()))
	}

	return parseFindings(stdout.String(), item.ID, w.ID(), int(w.wave.Load()))
}
