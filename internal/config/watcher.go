package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the global config file and invokes onChange with the
// freshly reloaded Config whenever it is written, backing the
// `PUT /api/config` hot-reload requirement.
type Watcher struct {
	workdir string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// NewWatcher creates a Watcher over the global config directory for the
// given project workdir (used to re-resolve the project overlay on reload).
func NewWatcher(workdir string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(GlobalConfigDir()); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{workdir: workdir, watcher: fw, logger: logger, done: make(chan struct{})}, nil
}

// Start runs the watch loop until Close is called, invoking onChange with a
// freshly reloaded Config after every relevant filesystem event.
func (w *Watcher) Start(onChange func(*Config)) {
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Name != GlobalConfigPath() {
					continue
				}
				if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				cfg, err := Load(w.workdir)
				if err != nil {
					w.logger.Warn("config reload failed", "error", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", "error", err)
			case <-w.done:
				return
			}
		}
	}()
}

// Close stops the watch loop and releases the underlying inotify/kqueue fd.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
