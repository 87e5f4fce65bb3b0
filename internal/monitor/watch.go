package monitor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/logging"
)

// watcher turns file-system events on a run's files into wake-ups for the
// poll loop. Events only shorten the wait; every change is still found by
// polling, so a lost or coalesced event costs at most one poll interval.
type watcher struct {
	fsw     *fsnotify.Watcher
	targets map[string]bool
	wake    chan struct{}
	logger  *logging.Logger
}

// newWatcher watches the directories holding paths. Directories rather than
// files are watched so that a file created, replaced, or deleted after
// startup still produces events.
func newWatcher(logger *logging.Logger, paths ...string) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &watcher{
		fsw:     fsw,
		targets: make(map[string]bool),
		wake:    make(chan struct{}, 1),
		logger:  logger,
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		w.targets[clean] = true
		dirs[filepath.Dir(clean)] = true
	}

	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return w, nil
}

// run forwards relevant events until ctx is done
func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Msg("File event")
			select {
			case w.wake <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")

		case <-ctx.Done():
			return
		}
	}
}

func (w *watcher) close() error {
	return w.fsw.Close()
}
