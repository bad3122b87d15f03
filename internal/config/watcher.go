package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a Manager's tunables file and pushes each
// successfully validated Tunables onto Updates. Updates holds at most
// one pending value; a newer reload replaces an unread one. Neither
// internal/session nor cmd/netplayd reads Updates or starts a Watcher.
type Watcher struct {
	mgr     *Manager
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	Updates chan Tunables
}

// NewWatcher creates the fsnotify watcher for mgr's config file; Run
// adds the file's directory to it (watching the directory, not the
// file, survives editors that replace the file via rename-on-save).
func NewWatcher(mgr *Manager, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		mgr:     mgr,
		fsw:     fsw,
		logger:  logger,
		Updates: make(chan Tunables, 1),
	}, nil
}

// Run watches mgr's directory until ctx is canceled, reloading and
// publishing on every write or create event that touches the file.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(w.mgr.path) {
				continue
			}
			if err := w.mgr.Load(); err != nil {
				w.logger.Warn("config reload failed, keeping previous tunables", "error", err)
				continue
			}
			select {
			case w.Updates <- w.mgr.Get():
			default:
				// drain the stale pending update, keep only the latest
				select {
				case <-w.Updates:
				default:
				}
				w.Updates <- w.mgr.Get()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
