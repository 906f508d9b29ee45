package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/ignore"
	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
)

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is how long a file must stay quiet before it is
// ingested.
const DefaultDebounce = 500 * time.Millisecond

// WatchConfig configures a Watcher.
type WatchConfig struct {
	Dir string `koanf:"dir"`

	// Collection receives the files; defaults to the directory name.
	Collection string `koanf:"collection"`

	Debounce time.Duration `koanf:"debounce"`

	// InitialScan ingests the files already present when Run starts.
	InitialScan bool `koanf:"initial_scan"`

	// IgnoreFiles name gitignore-style exclude files inside Dir. They are
	// re-read when they change.
	IgnoreFiles []string `koanf:"ignore_files"`
}

// WatchAction names what the watcher did with a file.
type WatchAction string

const (
	WatchIngested WatchAction = "ingested"
	WatchRemoved  WatchAction = "removed"
)

// WatchResult reports one handled file.
type WatchResult struct {
	Path   string
	Action WatchAction
	File   ProcessedFile
	Err    error
}

// Watcher keeps a collection in step with a directory: new and changed
// files are ingested, removed files are deleted from the collection.
type Watcher struct {
	in       *Ingester
	store    DocumentStore
	cfg      WatchConfig
	watcher  *fsnotify.Watcher
	onResult func(WatchResult)
	logger   *zap.Logger

	// ignore is only touched from the Run goroutine after construction.
	ignore *ignore.Matcher
}

// NewWatcher creates a Watcher over cfg.Dir. onResult, when set, is
// called from the watcher goroutine after each handled file.
func NewWatcher(in *Ingester, cfg WatchConfig, onResult func(WatchResult), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir: %s is not a directory", cfg.Dir)
	}
	if cfg.Collection == "" {
		abs, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("watch dir: %w", err)
		}
		cfg.Collection = filepath.Base(abs)
	}
	cfg.Collection = sanitize.CollectionName(cfg.Collection)
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	if cfg.IgnoreFiles == nil {
		cfg.IgnoreFiles = []string{ignore.DefaultFile}
	}
	matcher, err := ignore.Load(cfg.Dir, cfg.IgnoreFiles)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		in:       in,
		store:    in.store,
		cfg:      cfg,
		watcher:  fw,
		onResult: onResult,
		logger:   logger,
		ignore:   matcher,
	}, nil
}

// Collection returns the sanitized target collection.
func (w *Watcher) Collection() string { return w.cfg.Collection }

func watchable(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && !strings.HasSuffix(base, "~") && Supported(base)
}

func (w *Watcher) wanted(path string) bool {
	return watchable(path) && !w.ignore.Excluded(path)
}

func (w *Watcher) isIgnoreFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range w.cfg.IgnoreFiles {
		if base == name {
			return true
		}
	}
	return false
}

func (w *Watcher) reloadIgnore() {
	m, err := ignore.Load(w.cfg.Dir, w.cfg.IgnoreFiles)
	if err != nil {
		w.logger.Warn("keeping previous exclude patterns", zap.String("dir", w.cfg.Dir), zap.Error(err))
		return
	}
	w.ignore = m
	w.logger.Info("exclude patterns reloaded", zap.String("dir", w.cfg.Dir), zap.Int("patterns", m.Len()))
}

// Run handles filesystem events until ctx is done. It closes the
// underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if w.cfg.InitialScan {
		entries, err := os.ReadDir(w.cfg.Dir)
		if err != nil {
			return fmt.Errorf("initial scan: %w", err)
		}
		for _, e := range entries {
			p := filepath.Join(w.cfg.Dir, e.Name())
			if e.Type().IsRegular() && w.wanted(p) {
				w.ingest(ctx, p)
			}
		}
	}

	ready := make(chan string, 64)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.isIgnoreFile(ev.Name) {
				w.reloadIgnore()
				continue
			}
			if !w.wanted(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				path := ev.Name
				if t, ok := timers[path]; ok {
					t.Reset(w.cfg.Debounce)
					continue
				}
				timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
					select {
					case ready <- path:
					case <-ctx.Done():
					}
				})
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				if t, ok := timers[ev.Name]; ok {
					t.Stop()
					delete(timers, ev.Name)
				}
				w.remove(ctx, ev.Name)
			}

		case path := <-ready:
			delete(timers, path)
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			w.ingest(ctx, path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.String("dir", w.cfg.Dir), zap.Error(err))
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	pf, err := w.in.ProcessFile(ctx, w.cfg.Collection, PathFile(path))
	if err != nil {
		w.logger.Warn("watched file not ingested", zap.String("path", path), zap.Error(err))
	}
	w.report(WatchResult{Path: path, Action: WatchIngested, File: pf, Err: err})
}

func (w *Watcher) remove(ctx context.Context, path string) {
	name := filepath.Base(path)
	deleted, err := w.store.DeleteDocument(ctx, w.cfg.Collection, name)
	if err != nil {
		w.logger.Warn("watched file not removed", zap.String("path", path), zap.Error(err))
	}
	if !deleted && err == nil {
		return
	}
	w.report(WatchResult{Path: path, Action: WatchRemoved, File: ProcessedFile{Filename: name, DocumentID: name}, Err: err})
}

func (w *Watcher) report(r WatchResult) {
	if w.onResult != nil {
		w.onResult(r)
	}
}
