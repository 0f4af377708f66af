package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// ReloadableFields are the keys a running process may pick up without a
// restart: everything except pool sizes, since thread_pool_size,
// ipc_endpoint.threads/admin_sessions, and stream_endpoint.port/threads
// size already-started worker pools and listeners.
type ReloadableFields struct {
	LazyWorker  bool
	LogLocation string
}

func reloadable(cfg Config) ReloadableFields {
	return ReloadableFields{LazyWorker: cfg.SQL.LazyWorker, LogLocation: cfg.DataStore.LogLocation}
}

// Watcher reloads path on every filesystem change and invokes onChange
// with the reloadable subset of the new config. Parse errors and orphan
// sections are logged and ignored; the previously-loaded config stays
// in effect until a valid file is written.
type Watcher struct {
	path     string
	logger   pslog.Logger
	watcher  *fsnotify.Watcher
	onChange func(ReloadableFields)
	stop     chan struct{}
}

// NewWatcher starts watching path for changes, calling onChange each
// time it reloads successfully.
func NewWatcher(path string, onChange func(ReloadableFields), logger pslog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dbfront: config: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("dbfront: config: watch %q: %w", path, err)
	}
	w := &Watcher{
		path:     path,
		logger:   svcfields.WithSubsystem(logger, "config.watcher"),
		watcher:  fw,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config.watcher.reload_failed", "path", w.path, "error", err)
				continue
			}
			w.onChange(reloadable(cfg))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config.watcher.error", "error", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
