// Package manifest inventories work items and computes diffs between runs.
package manifest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/src-d/enry/v2"

	"github.com/codepatrol/patrol/internal/types"
	"github.com/codepatrol/patrol/internal/vcs"
)

// maxFileSize bounds how much of a file is read for hashing and language
// detection. Larger files are skipped from the inventory.
const maxFileSize = 4 << 20

// defaultChurnWindow is how far back the bulk history query looks for
// contributor and churn signals.
const defaultChurnWindow = 90 * 24 * time.Hour

var alwaysSkipDirs = map[string]bool{
	".git":         true,
	".patrol":      true,
	"node_modules": true,
}

// DeclaredItem is a non-file work item (workflow, endpoint) declared in
// project configuration. Its definition file supplies hash and timestamps.
type DeclaredItem struct {
	ID   string
	Kind types.ItemKind
	Path string
}

// Builder inventories work items with batched metadata collection. Metadata
// comes from a small number of bulk git queries when a repository is
// available; otherwise the builder degrades to filesystem timestamps and
// omits contributor/churn signals.
type Builder struct {
	root        string
	excludes    []string
	declared    []DeclaredItem
	churnWindow time.Duration

	git *vcs.Git // nil in degraded mode
}

// Options configures a Builder.
type Options struct {
	// Excludes are repo-relative path prefixes to skip.
	Excludes []string
	// Declared lists workflow/endpoint items from configuration.
	Declared []DeclaredItem
	// ChurnWindow overrides the bulk history window. Zero means default.
	ChurnWindow time.Duration
}

// NewBuilder creates a builder rooted at root. Git availability is probed
// once here; a missing repository is a degradation, not an error.
func NewBuilder(ctx context.Context, root string, opts Options) *Builder {
	b := &Builder{
		root:        root,
		excludes:    opts.Excludes,
		declared:    opts.Declared,
		churnWindow: opts.ChurnWindow,
	}
	if b.churnWindow <= 0 {
		b.churnWindow = defaultChurnWindow
	}

	git, err := vcs.Detect(ctx, root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: no version control detected, using filesystem timestamps only\n")
	} else {
		b.git = git
	}
	return b
}

// Build produces a full-inventory snapshot. When the repository revision
// matches the previous manifest's marker the previous manifest is returned
// unchanged (warm run) without rescanning.
func (b *Builder) Build(ctx context.Context, prev *types.Manifest) (*types.Manifest, error) {
	var revision string
	if b.git != nil {
		head, err := b.git.Head(ctx)
		if err == nil {
			revision = head
		}
	}

	if revision != "" && prev != nil && prev.Revision == revision && len(prev.Items) > 0 {
		return prev, nil
	}

	m := &types.Manifest{
		SchemaVersion: types.ManifestSchemaVersion,
		GeneratedAt:   time.Now(),
		Revision:      revision,
		Degraded:      b.git == nil,
		Items:         make(map[string]types.ManifestEntry),
	}

	if err := b.walkFiles(ctx, m); err != nil {
		return nil, err
	}
	if err := b.addDeclared(m); err != nil {
		return nil, err
	}

	if b.git != nil {
		stats, err := b.git.Stats(ctx, b.churnWindow)
		if err != nil {
			// Degrade rather than fail: timestamps are already set
			// from the filesystem.
			fmt.Fprintf(os.Stderr, "warning: bulk history query failed, omitting churn signals: %v\n", err)
			m.Degraded = true
		} else {
			b.applyStats(m, stats)
		}
	}

	return m, nil
}

func (b *Builder) walkFiles(ctx context.Context, m *types.Manifest) error {
	return filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A single unreadable entry is transient, not fatal.
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(b.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysSkipDirs[d.Name()] || b.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || b.excluded(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}

		entry, ok := b.statFile(path, rel, info)
		if ok {
			m.Items[rel] = entry
		}
		return nil
	})
}

func (b *Builder) statFile(path, rel string, info fs.FileInfo) (types.ManifestEntry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping unreadable file %s: %v\n", rel, err)
		return types.ManifestEntry{}, false
	}
	if enry.IsBinary(data) || enry.IsVendor(rel) {
		return types.ManifestEntry{}, false
	}

	sum := sha256.Sum256(data)
	lines := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines++
	}

	return types.ManifestEntry{
		ID:          rel,
		Kind:        types.KindFile,
		Lines:       lines,
		Language:    enry.GetLanguage(filepath.Base(rel), data),
		SizeBytes:   info.Size(),
		CreatedAt:   info.ModTime(),
		ModifiedAt:  info.ModTime(),
		ContentHash: hex.EncodeToString(sum[:]),
	}, true
}

func (b *Builder) addDeclared(m *types.Manifest) error {
	for _, decl := range b.declared {
		path := filepath.Join(b.root, filepath.FromSlash(decl.Path))
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: declared item %s has no definition file: %v\n", decl.ID, err)
			continue
		}
		entry, ok := b.statFile(path, decl.Path, info)
		if !ok {
			continue
		}
		entry.ID = decl.ID
		entry.Kind = decl.Kind
		m.Items[decl.ID] = entry
	}
	return nil
}

// applyStats merges the bulk history query into the snapshot. Declared items
// inherit the stats of their definition file.
func (b *Builder) applyStats(m *types.Manifest, stats map[string]vcs.FileStats) {
	declaredPath := make(map[string]string, len(b.declared))
	for _, decl := range b.declared {
		declaredPath[decl.ID] = decl.Path
	}

	for id, entry := range m.Items {
		path := id
		if p, ok := declaredPath[id]; ok {
			path = p
		}
		s, ok := stats[path]
		if !ok {
			continue
		}
		entry.Contributors = s.Contributors
		entry.RecentCommits = s.RecentCommits
		if !s.LastModified.IsZero() {
			entry.ModifiedAt = s.LastModified
		}
		if !s.FirstSeen.IsZero() && s.FirstSeen.Before(entry.CreatedAt) {
			entry.CreatedAt = s.FirstSeen
		}
		m.Items[id] = entry
	}
}

func (b *Builder) excluded(rel string) bool {
	for _, prefix := range b.excludes {
		if rel == prefix || strings.HasPrefix(rel, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
