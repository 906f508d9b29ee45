package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrInvalidManifest indicates a manifest that cannot be applied.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest lists files to load into collections:
//
//	[[collection]]
//	name  = "reports"
//	files = ["q1.pdf", "notes/*.md"]
//
// Relative paths and patterns resolve against the manifest's directory.
type Manifest struct {
	Collections []ManifestCollection `toml:"collection"`

	dir string
}

// ManifestCollection is one [[collection]] table.
type ManifestCollection struct {
	Name  string   `toml:"name"`
	Files []string `toml:"files"`
}

// ManifestBatch is a resolved collection with its files.
type ManifestBatch struct {
	Collection string
	Files      []File
}

// LoadManifest reads and validates a TOML manifest.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s: unknown key %q", ErrInvalidManifest, path, undecoded[0].String())
	}
	if len(m.Collections) == 0 {
		return nil, fmt.Errorf("%w: %s: no [[collection]] tables", ErrInvalidManifest, path)
	}
	for i, c := range m.Collections {
		if len(c.Files) == 0 {
			return nil, fmt.Errorf("%w: collection %d (%q) lists no files", ErrInvalidManifest, i, c.Name)
		}
		for _, pattern := range c.Files {
			if _, err := filepath.Match(pattern, ""); err != nil {
				return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidManifest, pattern, err)
			}
		}
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// Resolve expands the file patterns. Files of unsupported types are
// skipped; a pattern matching no supported file is an error.
func (m *Manifest) Resolve() ([]ManifestBatch, error) {
	batches := make([]ManifestBatch, 0, len(m.Collections))
	for _, c := range m.Collections {
		seen := make(map[string]bool)
		var paths []string
		for _, pattern := range c.Files {
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(m.dir, pattern)
			}
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
			}
			n := 0
			for _, p := range matches {
				if !Supported(p) {
					continue
				}
				n++
				if !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
			if n == 0 {
				return nil, fmt.Errorf("%w: %q matches no supported file", ErrInvalidManifest, pattern)
			}
		}
		sort.Strings(paths)

		b := ManifestBatch{Collection: c.Name, Files: make([]File, len(paths))}
		for i, p := range paths {
			b.Files[i] = PathFile(p)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// ApplyManifest ingests every collection of m in order.
func (in *Ingester) ApplyManifest(ctx context.Context, m *Manifest) ([]BatchResult, error) {
	batches, err := m.Resolve()
	if err != nil {
		return nil, err
	}
	results := make([]BatchResult, 0, len(batches))
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, in.ProcessFiles(ctx, b.Collection, b.Files))
	}
	return results, nil
}
