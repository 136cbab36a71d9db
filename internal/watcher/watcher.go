// Package watcher keeps indexed folders fresh by triggering a reindex
// when their contents change on disk. Events are debounced so a burst
// of writes produces a single rebuild.
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

// ReindexFunc is called with the changed folder after the debounce
// window closes.
type ReindexFunc func(ctx context.Context, folder string)

// Options configures a FolderWatcher.
type Options struct {
	// Debounce is how long to wait after the last event before firing.
	Debounce time.Duration
	// IgnorePrefixes are path basename prefixes to skip, dotfiles are
	// always skipped.
	IgnorePrefixes []string
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	return o
}

// FolderWatcher watches one folder tree and fires a debounced reindex
// callback when files change.
type FolderWatcher struct {
	fsWatcher *fsnotify.Watcher
	reindex   ReindexFunc
	opts      Options
	logger    *slog.Logger

	rootPath string

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	stopCh  chan struct{}
}

// New creates a watcher that calls reindex for the watched folder.
func New(reindex ReindexFunc, opts Options, logger *slog.Logger) (*FolderWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &FolderWatcher{
		fsWatcher: fsw,
		reindex:   reindex,
		opts:      opts.WithDefaults(),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start watches path recursively and blocks until ctx is cancelled or
// Stop is called.
func (w *FolderWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watch path: %w", err)
	}
	w.rootPath = absPath

	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("watch %s: %w", absPath, err)
	}
	w.logger.Info("watching folder", slog.String("path", absPath))

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
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *FolderWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}

	// New directories must be added to the watch set before their
	// contents start changing.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watch new directory", slog.String("error", err.Error()))
			}
		}
	}

	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	w.logger.Debug("change detected", slog.String("path", event.Name), slog.String("op", event.Op.String()))
	w.scheduleReindex(ctx)
}

// scheduleReindex resets the debounce timer; the callback fires only
// after the folder has been quiet for the full window.
func (w *FolderWatcher) scheduleReindex(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, func() {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}
		w.reindex(ctx, w.rootPath)
	})
}

func (w *FolderWatcher) ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, prefix := range w.opts.IgnorePrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

func (w *FolderWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// Stop halts the watcher and cancels any pending debounce.
func (w *FolderWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	return w.fsWatcher.Close()
}
