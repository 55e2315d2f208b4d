package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/codepatrol/patrol/internal/bisect"
	"github.com/codepatrol/patrol/internal/types"
)

// CommandFixer drives an external repair tool through a three-verb contract:
//
//	<tool> fix             reads findings JSON on stdin, applies repairs,
//	                       prints one change id per stdout line
//	<tool> apply <id>      re-applies a previously produced change
//	<tool> revert <id>     undoes a previously produced change
//
// The apply/revert verbs are what make each change independently
// toggleable during validation bisection.
type CommandFixer struct {
	command []string
	dir     string
}

// NewCommandFixer creates a fixer around the given repair tool.
func NewCommandFixer(command []string, dir string) (*CommandFixer, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("fixer command is required")
	}
	return &CommandFixer{command: command, dir: dir}, nil
}

// Fix implements converge.Fixer.
func (f *CommandFixer) Fix(ctx context.Context, findings []types.Finding) ([]bisect.Change, error) {
	payload, err := json.Marshal(findings)
	if err != nil {
		return nil, fmt.Errorf("encoding findings: %w", err)
	}

	stdout, err := f.run(ctx, bytes.NewReader(payload), "fix")
	if err != nil {
		return nil, err
	}

	var changes []bisect.Change
	for _, line := range strings.Split(stdout, "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		changes = append(changes, &commandChange{fixer: f, id: id})
	}
	return changes, nil
}

func (f *CommandFixer) run(ctx context.Context, stdin *bytes.Reader, verb ...string) (string, error) {
	args := append(append([]string{}, f.command[1:]...), verb...)
	cmd := exec.CommandContext(ctx, f.command[0], args...)
	cmd.Dir = f.dir
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("fixer %s failed: %w (%s)",
			strings.Join(verb, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// commandChange is one repair produced by a CommandFixer, toggled via the
// apply/revert verbs.
type commandChange struct {
	fixer *CommandFixer
	id    string
}

func (c *commandChange) ID() string       { return c.id }
func (c *commandChange) Producer() string { return "command:" + c.fixer.command[0] }

func (c *commandChange) Apply(ctx context.Context) error {
	_, err := c.fixer.run(ctx, nil, "apply", c.id)
	return err
}

func (c *commandChange) Revert(ctx context.Context) error {
	_, err := c.fixer.run(ctx, nil, "revert", c.id)
	return err
}

// CommandGate validates the workspace by running a configured check command.
// Exit zero passes; any nonzero exit fails. Execution errors other than a
// nonzero exit are reported as errors, not failures.
type CommandGate struct {
	command []string
	dir     string
}

// NewCommandGate creates a gate around the given validation command.
func NewCommandGate(command []string, dir string) (*CommandGate, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("gate command is required")
	}
	return &CommandGate{command: command, dir: dir}, nil
}

// Check implements bisect.Gate.
func (g *CommandGate) Check(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, g.command[0], g.command[1:]...)
	cmd.Dir = g.dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("gate command failed to run: %w (%s)",
		err, strings.TrimSpace(stderr.String()))
}
