package collections

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is the recorded progress of a rename.
type Phase string

const (
	// PhaseCopying: the target may hold a partial copy, the source is
	// authoritative. Recovery rolls back.
	PhaseCopying Phase = "copying"

	// PhaseCopied: the target holds a full copy. Recovery rolls forward by
	// deleting the source.
	PhaseCopied Phase = "copied"

	// PhaseDone: the source is gone. Entries are removed on reaching it.
	PhaseDone Phase = "done"
)

var validPhases = map[Phase]bool{
	PhaseCopying: true,
	PhaseCopied:  true,
	PhaseDone:    true,
}

const journalExt = ".rename"

// RenameEntry records one in-flight rename.
type RenameEntry struct {
	ID        string
	From      string
	To        string
	Phase     Phase
	Records   int
	StartedAt time.Time
	UpdatedAt time.Time
	Checksum  []byte
}

// Journal persists rename progress so an interrupted rename can be
// repaired. Each entry is its own file in dir, written atomically.
// With an empty dir the journal lives in memory only.
type Journal struct {
	dir     string
	mu      sync.Mutex
	entries map[string]RenameEntry
	logger  *zap.Logger
}

// OpenJournal loads the entries stored in dir. Unreadable entries and
// entries failing their checksum are logged and skipped.
func OpenJournal(dir string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{entries: make(map[string]RenameEntry), logger: logger}
	if dir == "" {
		return j, nil
	}

	clean := filepath.Clean(dir)
	if strings.Contains(clean, "..") {
		return nil, fmt.Errorf("journal: path contains directory traversal: %s", dir)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return nil, fmt.Errorf("journal: resolving path: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("journal: creating directory: %w", err)
	}
	j.dir = abs

	files, err := filepath.Glob(filepath.Join(abs, "*"+journalExt))
	if err != nil {
		return nil, fmt.Errorf("journal: listing entries: %w", err)
	}
	for _, file := range files {
		e, err := readEntry(file)
		if err != nil {
			logger.Warn("journal: skipping unreadable entry", zap.String("file", file), zap.Error(err))
			continue
		}
		if !validPhases[e.Phase] || subtle.ConstantTimeCompare(e.Checksum, e.checksum()) != 1 {
			logger.Warn("journal: skipping entry with invalid checksum", zap.String("file", file))
			continue
		}
		j.entries[e.ID] = e
	}
	return j, nil
}

func readEntry(path string) (RenameEntry, error) {
	var e RenameEntry
	f, err := os.Open(path)
	if err != nil {
		return e, err
	}
	defer f.Close()
	err = gob.NewDecoder(f).Decode(&e)
	return e, err
}

func (e RenameEntry) checksum() []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00%s",
		e.ID, e.From, e.To, e.Phase, e.Records, e.StartedAt.Format(time.RFC3339Nano))
	return h.Sum(nil)
}

// Begin records a new rename in PhaseCopying.
func (j *Journal) Begin(from, to string) (RenameEntry, error) {
	now := time.Now().UTC()
	e := RenameEntry{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Phase:     PhaseCopying,
		StartedAt: now,
		UpdatedAt: now,
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writeLocked(e); err != nil {
		return RenameEntry{}, err
	}
	j.entries[e.ID] = e
	return e, nil
}

// Advance moves entry id to phase. Reaching PhaseDone removes the entry.
func (j *Journal) Advance(id string, phase Phase, records int) error {
	if !validPhases[phase] {
		return fmt.Errorf("journal: invalid phase %q", phase)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return fmt.Errorf("journal: unknown entry %s", id)
	}
	if phase == PhaseDone {
		return j.removeLocked(id)
	}
	e.Phase = phase
	e.Records = records
	e.UpdatedAt = time.Now().UTC()
	if err := j.writeLocked(e); err != nil {
		return err
	}
	j.entries[id] = e
	return nil
}

// Discard drops entry id regardless of its phase.
func (j *Journal) Discard(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.removeLocked(id)
}

// Get returns entry id if it is still pending.
func (j *Journal) Get(id string) (RenameEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	return e, ok
}

// Touching returns the oldest pending rename whose source or target is
// one of names.
func (j *Journal) Touching(names ...string) (RenameEntry, bool) {
	for _, e := range j.Pending() {
		for _, n := range names {
			if e.From == n || e.To == n {
				return e, true
			}
		}
	}
	return RenameEntry{}, false
}

// Pending returns the unfinished renames, oldest first.
func (j *Journal) Pending() []RenameEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]RenameEntry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.Before(out[b].StartedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (j *Journal) removeLocked(id string) error {
	delete(j.entries, id)
	if j.dir == "" {
		return nil
	}
	err := os.Remove(filepath.Join(j.dir, id+journalExt))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("journal: removing entry: %w", err)
	}
	return nil
}

// writeLocked stores e through a temp file and an atomic rename.
func (j *Journal) writeLocked(e RenameEntry) error {
	if j.dir == "" {
		return nil
	}
	e.Checksum = e.checksum()
	path := filepath.Join(j.dir, e.ID+journalExt)
	tmpPath := path + ".tmp." + randomSuffix()

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("journal: creating entry file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(e); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("journal: encoding entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("journal: sync: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: finalize entry: %w", err)
	}
	return nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
