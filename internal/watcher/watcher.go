// Package watcher delivers low-latency change notifications for the
// watched derived-data tree.
//
// Raw fsnotify events are coalesced into two outputs: an immediate check
// tick (cheap, drives the tracker poll) and a debounced changed signal
// (drives collaborator re-scans, so one build's many small writes produce
// one notification). If the watch cannot be established the engine's
// fallback timer still drives polling, so failure here is never fatal.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps a recursive fsnotify watch over a single root.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	checks  chan struct{}
	changed chan time.Time

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a watcher over root. debounce is the window applied to the
// changed signal.
func New(root string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	if debounce == 0 {
		debounce = 5 * time.Second
	}

	return &Watcher{
		root:     root,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		checks:   make(chan struct{}, 1),
		changed:  make(chan time.Time, 1),
	}, nil
}

// Checks returns the coalesced tick channel. A pending tick means
// something in the tree changed since the last receive.
func (w *Watcher) Checks() <-chan struct{} {
	return w.checks
}

// Changed returns the debounced derived-data-changed channel.
func (w *Watcher) Changed() <-chan time.Time {
	return w.changed
}

// Start adds watches for the root and all non-hidden subdirectories and
// begins delivering notifications until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.loop(ctx)

	w.logger.Info("filesystem watcher started", "root", w.root, "debounce", w.debounce)

	return nil
}

// Close stops the underlying watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if name := d.Name(); strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", "path", path, "error", err)
		}

		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// Attribute-only churn is not build activity.
	if event.Op == fsnotify.Chmod {
		return
	}

	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	// New directories join the watch so nested log writes keep arriving.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}

	// Immediate coalesced tick.
	select {
	case w.checks <- struct{}{}:
	default:
	}

	w.armDebounce()
}

// armDebounce (re)starts the changed-signal window; the signal fires once
// the tree has been quiet for the full window.
func (w *Watcher) armDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.changed <- time.Now():
		default:
		}
	})
}
