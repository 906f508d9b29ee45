package vectorstore

import (
	"crypto/rand"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const catalogFile = "catalog.gob"

// CatalogEntry records collection-level facts the vector databases either
// cannot store or cannot return: the creation metadata and the vector
// dimension observed on first write.
type CatalogEntry struct {
	Name      string
	Metadata  map[string]string
	Dimension int
}

// Catalog is a small persistent map of collection name to CatalogEntry.
// With an empty dir the catalog lives in memory only.
type Catalog struct {
	dir     string
	mu      sync.Mutex
	entries map[string]CatalogEntry
	logger  *zap.Logger
}

// OpenCatalog loads the catalog stored in dir, creating the directory if
// needed. A corrupt catalog file is logged and replaced on next write.
func OpenCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{dir: dir, entries: make(map[string]CatalogEntry), logger: logger}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating catalog directory %s: %w", dir, err)
	}

	f, err := os.Open(filepath.Join(dir, catalogFile))
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	var entries map[string]CatalogEntry
	if err := gob.NewDecoder(f).Decode(&entries); err != nil {
		logger.Warn("catalog: ignoring unreadable catalog file",
			zap.String("dir", dir),
			zap.Error(err))
		return c, nil
	}
	if entries != nil {
		c.entries = entries
	}
	return c, nil
}

// Get returns the entry for name.
func (c *Catalog) Get(name string) (CatalogEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if ok {
		e.Metadata = copyMetadata(e.Metadata)
	}
	return e, ok
}

// Put stores e, replacing any previous entry for e.Name.
func (c *Catalog) Put(e CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had := c.entries[e.Name]
	e.Metadata = copyMetadata(e.Metadata)
	c.entries[e.Name] = e
	if err := c.persistLocked(); err != nil {
		if had {
			c.entries[e.Name] = prev
		} else {
			delete(c.entries, e.Name)
		}
		return err
	}
	return nil
}

// SetDimension records the vector dimension of a collection if unset.
func (c *Catalog) SetDimension(name string, dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		e = CatalogEntry{Name: name, Metadata: map[string]string{}}
	}
	if e.Dimension != 0 {
		return nil
	}
	e.Dimension = dim
	c.entries[name] = e
	return c.persistLocked()
}

// Delete removes the entry for name.
func (c *Catalog) Delete(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		return nil
	}
	delete(c.entries, name)
	return c.persistLocked()
}

// Names returns the catalogued collection names in lexical order.
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// persistLocked writes the catalog through a temp file and an atomic
// rename. Caller holds c.mu.
func (c *Catalog) persistLocked() error {
	if c.dir == "" {
		return nil
	}
	path := filepath.Join(c.dir, catalogFile)
	tmpPath := path + ".tmp." + randomSuffix()

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("catalog: creating temp file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(c.entries); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("catalog: encoding: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("catalog: sync: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("catalog: finalize: %w", err)
	}
	return nil
}

// randomSuffix generates a random suffix for temp files.
func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
