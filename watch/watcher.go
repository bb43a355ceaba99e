// Package watch resubmits workflow definition files to the orchestrator
// when they change on disk. Changes are debounced and content-hashed so a
// save that leaves the file identical does not trigger a run; submissions
// for a path that is already executing are rejected by the runner's
// active-path guard and simply logged.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for further changes before
// submitting.
const DefaultDebounce = 500 * time.Millisecond

// Submitter accepts a workflow file for execution. Implemented by
// orchestrator.Runner.
type Submitter interface {
	RunFile(ctx context.Context, path string) (string, error)
}

// Config tunes the watcher.
type Config struct {
	// Debounce is the quiet period before pending changes are submitted.
	// Zero selects DefaultDebounce.
	Debounce time.Duration

	// Include lists doublestar globs, relative to the watch root, that a
	// changed file must match. Empty selects the workflow file defaults.
	Include []string

	// Exclude lists doublestar globs that suppress matching files.
	Exclude []string
}

// DefaultConfig returns the standard watch configuration.
func DefaultConfig() Config {
	return Config{
		Debounce: DefaultDebounce,
		Include:  []string{"**/*.yaml", "**/*.yml", "**/*.json"},
		Exclude:  []string{".git/**", "node_modules/**", "vendor/**"},
	}
}

// Watcher drives workflow submissions from filesystem changes under a root
// directory.
type Watcher struct {
	root    string
	submit  Submitter
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}

	hashMu sync.Mutex
	hashes map[string]string
}

// New creates a watcher over root. Submissions go to submit.
func New(root string, submit Submitter, config Config, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if len(config.Include) == 0 {
		config.Include = DefaultConfig().Include
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:    abs,
		submit:  submit,
		config:  config,
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]struct{}),
		hashes:  make(map[string]string),
	}, nil
}

// Start adds watches recursively and begins processing events in a
// background goroutine that stops with ctx.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Workflow watcher started",
		"root", w.root,
		"debounce", w.config.Debounce,
		"include", w.config.Include)
	return nil
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}

		base := filepath.Base(path)
		if path != root && strings.HasPrefix(base, ".") {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	path := ev.Name
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil || !w.matches(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()

	w.logger.Debug("Workflow file change detected", "path", rel, "op", ev.Op.String())
}

func (w *Watcher) handleNewDirectory(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
	}
}

// matches applies the include and exclude globs to a root-relative path.
func (w *Watcher) matches(rel string) bool {
	rel = filepath.ToSlash(rel)

	for _, pattern := range w.config.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	for _, pattern := range w.config.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// flushPending submits accumulated changes whose content actually changed.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for path := range batch {
		if !w.contentChanged(path) {
			w.logger.Debug("Workflow file unchanged, skipping", "path", path)
			continue
		}

		executionID, err := w.submit.RunFile(ctx, path)
		if err != nil {
			// Most commonly the active-path guard: the previous run of this
			// file has not finished yet.
			w.logger.Warn("Workflow submission rejected", "path", path, "error", err)
			continue
		}
		w.logger.Info("Workflow submitted from file change",
			"path", path,
			"executionId", executionID)
	}
}

// contentChanged hashes the file and reports whether the hash moved since
// the last submission. Unreadable files count as changed; the runner's
// loader reports the real error.
func (w *Watcher) contentChanged(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	if w.hashes[path] == hash {
		return false
	}
	w.hashes[path] = hash
	return true
}
