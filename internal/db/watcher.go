package db

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports writes made to the database files by any process.
// Notifications are coalesced: a burst of writes yields one event.
type Watcher struct {
	path   string
	logger *slog.Logger
	events chan struct{}
}

// NewWatcher watches the SQLite file at path and its WAL companions
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:   path,
		logger: logger,
		events: make(chan struct{}, 1),
	}
}

func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Start watches until ctx is done, then closes Events
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: SQLite replaces -wal and -shm files
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}
	base := filepath.Base(w.path)

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(ev.Name), base) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("database watcher error", "error", err)
			}
		}
	}()
	return nil
}
