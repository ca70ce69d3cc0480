// Package watcher monitors project source trees and emits debounced
// batches of file events, driving automatic coverage re-runs.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the path relative to the watch root.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// ignoredDirs are directories never watched or reported. They hold either
// tool output or state that changes during a coverage run itself.
var ignoredDirs = map[string]bool{
	".git":            true,
	".coverquery":     true,
	"__pycache__":     true,
	".pytest_cache":   true,
	".mypy_cache":     true,
	"node_modules":    true,
	".tox":            true,
	".venv":           true,
	"venv":            true,
	".coverage_cache": true,
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 2s.
	DebounceWindow time.Duration

	// EventBufferSize is the size of the event channel buffer.
	// Default: 1000.
	EventBufferSize int

	// Extensions restricts events to files with these extensions.
	// Default: .py only.
	Extensions []string
}

// WithDefaults fills unset options.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 2 * time.Second
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 1000
	}
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".py"}
	}
	return o
}

// Watcher watches a directory tree recursively and emits debounced event
// batches.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	rootPath  string
	opts      Options
	logger    *slog.Logger
	mu        sync.Mutex
	stopped   bool
}

// New creates a watcher. The logger may be nil.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
		logger:    logger,
	}, nil
}

// Events returns the channel of debounced event batches.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns the channel of non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Start begins watching path recursively and blocks until the context is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.rootPath = absPath

	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	go w.forwardDebouncedEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Stop stops the watcher and releases resources. Safe to call twice.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}

// addRecursive registers every non-ignored directory under root.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory vanishing mid-walk is routine under churn.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// handleEvent filters and forwards one raw fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}
	if w.shouldIgnore(relPath) {
		return
	}

	// New directories must be added to the watch set; fsnotify is not
	// recursive on its own.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.emitError(err)
			}
			return
		}
	}

	if !w.matchesExtension(relPath) {
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: mapOperation(event.Op),
		Timestamp: time.Now(),
	})
}

func mapOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpModify
	}
}

// shouldIgnore reports whether any segment of relPath is an ignored
// directory or hidden temp artifact.
func (w *Watcher) shouldIgnore(relPath string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(relPath), "/") {
		if ignoredDirs[seg] {
			return true
		}
	}
	base := filepath.Base(relPath)
	// Editor swap and partial-write artifacts.
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}

func (w *Watcher) matchesExtension(relPath string) bool {
	ext := filepath.Ext(relPath)
	for _, e := range w.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// forwardDebouncedEvents pumps debounced batches onto the public channel.
func (w *Watcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.events <- batch:
			default:
				w.logger.Warn("event channel full, dropping batch", "batch_size", len(batch))
			}
		}
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
