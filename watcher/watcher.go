package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Options.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// Excluder is consulted for every directory and file event.
type Excluder interface {
	ShouldPruneDir(absolutePath string) bool
	IsExcluded(absolutePath string) bool
}

// Options configures a Watcher.
type Options struct {
	Root     string
	Excluder Excluder
	Debounce time.Duration
	// Control lists base names forwarded even when excluded, such as
	// .gitignore, so the consumer can reload its rules.
	Control []string
	Logger  *slog.Logger
}

// Watcher provides recursive file system watching with debouncing.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	excluder  Excluder
	control   map[string]bool
	rootDir   string
	logger    *slog.Logger
}

// NewWatcher creates a recursive file watcher on the root directory.
// Every directory the excluder does not prune is registered.
func NewWatcher(opts Options) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(opts.Debounce),
		excluder:  opts.Excluder,
		control:   make(map[string]bool, len(opts.Control)),
		rootDir:   opts.Root,
		logger:    opts.Logger,
	}
	for _, name := range opts.Control {
		w.control[name] = true
	}

	if err := w.addTree(opts.Root); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers dir and its non-pruned subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.rootDir && w.excluder.ShouldPruneDir(path) {
			return filepath.SkipDir
		}
		if watchErr := w.fsWatcher.Add(path); watchErr != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", watchErr)
		}
		return nil
	})
}

// Events returns the channel that receives debounced event batches.
func (w *Watcher) Events() <-chan []DebouncedEvent {
	return w.debouncer.Output()
}

// Run listens for file system events until ctx is done or the watcher is
// closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// handleEvent converts one fsnotify event into a debounced event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	// New directories are watched, including anything created inside them
	// before the watch was registered.
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if !w.excluder.ShouldPruneDir(path) {
				if err := w.addTree(path); err != nil {
					w.logger.Warn("failed to watch new directory", "path", path, "error", err)
				}
				w.emitExisting(path)
			}
			return
		}
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	// Removed paths can no longer be checked by content, and their index
	// entries must go regardless.
	if op == OpCreate || op == OpWrite {
		if !w.control[filepath.Base(path)] && w.excluder.IsExcluded(path) {
			return
		}
	}

	w.debouncer.Add(path, op)
}

// emitExisting queues create events for files already inside a new directory.
func (w *Watcher) emitExisting(dir string) {
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.excluder.ShouldPruneDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !w.excluder.IsExcluded(path) {
			w.debouncer.Add(path, OpCreate)
		}
		return nil
	})
}

// Close stops the watcher and the debouncer.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}
