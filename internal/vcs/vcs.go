// Package vcs provides the version-control provenance source for the
// manifest builder. It shells out to git with a small number of bulk
// queries; per-file git invocations dominate runtime at scale and are
// deliberately absent from this API.
//
// When no repository is present callers degrade to filesystem timestamps
// and omit contributor/churn signals entirely.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoRepository is returned when the directory is not inside a git
// repository or git is not installed.
var ErrNoRepository = errors.New("not a git repository")

// FileStats is the per-file slice of one bulk history query.
type FileStats struct {
	// Contributors is the number of distinct authors in the query window.
	Contributors int
	// RecentCommits is the number of commits touching the file in the
	// query window.
	RecentCommits int
	// LastModified is the most recent commit time touching the file.
	LastModified time.Time
	// FirstSeen is the earliest commit time touching the file within the
	// window; older files keep their filesystem creation fallback.
	FirstSeen time.Time
}

// Git wraps bulk git queries rooted at a repository.
type Git struct {
	root string
}

// Detect returns a Git handle when root is inside a work tree, or
// ErrNoRepository when it is not (including when git itself is missing).
func Detect(ctx context.Context, root string) (*Git, error) {
	out, err := runGit(ctx, root, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return nil, ErrNoRepository
	}
	return &Git{root: root}, nil
}

// Head returns the current commit hash, the manifest's monotonic revision
// marker.
func (g *Git) Head(ctx context.Context) (string, error) {
	out, err := runGit(ctx, g.root, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Stats collects per-file contributor and churn statistics for the given
// window in a single log pass over the repository.
func (g *Git) Stats(ctx context.Context, window time.Duration) (map[string]FileStats, error) {
	since := time.Now().Add(-window).Format("2006-01-02")
	out, err := runGit(ctx, g.root, "log",
		"--since="+since,
		"--name-only",
		"--no-renames",
		"--format=\x00%ct|%ae")
	if err != nil {
		return nil, fmt.Errorf("bulk history query: %w", err)
	}

	stats := make(map[string]FileStats)
	authors := make(map[string]map[string]bool)

	var commitTime time.Time
	var author string

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "\x00") {
			parts := strings.SplitN(line[1:], "|", 2)
			if len(parts) != 2 {
				continue
			}
			epoch, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				continue
			}
			commitTime = time.Unix(epoch, 0)
			author = parts[1]
			continue
		}

		// File line within the current commit.
		path := line
		s := stats[path]
		s.RecentCommits++
		if commitTime.After(s.LastModified) {
			s.LastModified = commitTime
		}
		if s.FirstSeen.IsZero() || commitTime.Before(s.FirstSeen) {
			s.FirstSeen = commitTime
		}
		if authors[path] == nil {
			authors[path] = make(map[string]bool)
		}
		authors[path][author] = true
		s.Contributors = len(authors[path])
		stats[path] = s
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parsing history output: %w", err)
	}
	return stats, nil
}

// Renames asks git's move tracking which files were renamed between two
// revisions. The caller restricts usage to the diff delta; this is one
// bounded invocation, never a full-inventory scan.
func (g *Git) Renames(ctx context.Context, oldRev, newRev string) (map[string]string, error) {
	if oldRev == "" || newRev == "" || oldRev == newRev {
		return nil, nil
	}

	out, err := runGit(ctx, g.root, "diff",
		"--find-renames",
		"--name-status",
		"--diff-filter=R",
		oldRev, newRev)
	if err != nil {
		return nil, fmt.Errorf("rename query: %w", err)
	}

	renames := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		// Format: R<score>\told\tnew
		if len(fields) != 3 || !strings.HasPrefix(fields[0], "R") {
			continue
		}
		renames[fields[1]] = fields[2]
	}
	return renames, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
