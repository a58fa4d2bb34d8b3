package ipc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps fsnotify to wake a poller early when a watched directory
// changes. It is purely a latency optimization: every caller must still
// poll on its own ticker, because the ordering guarantees this package
// promises (lexicographic input order, (ts,seq) progress order) are only
// defined over a sorted, polled read — a missed or coalesced fsnotify
// event must never cause a dropped file.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger
	wake   chan struct{}
}

// NewWatcher starts watching dirs and returns a Watcher whose Wake channel
// receives a signal (best-effort, non-blocking) on any create/write/rename
// event under them.
func NewWatcher(dirs []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ipc: new fsnotify watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			logger.Warn("ipc watcher: add failed", "dir", dir, "error", err)
		}
	}
	return &Watcher{fsw: fsw, logger: logger, wake: make(chan struct{}, 1)}, nil
}

// Wake receives a best-effort signal whenever a watched directory changes.
// It never blocks: if a poller hasn't drained the last wake yet, new
// events are coalesced into the same pending signal.
func (w *Watcher) Wake() <-chan struct{} { return w.wake }

// Run drains fsnotify events until ctx is cancelled, forwarding each
// relevant one onto Wake.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ipc watcher error", "error", err)
		}
	}
}
