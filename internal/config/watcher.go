package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mcops/masterclaw/internal/logging"
)

// UpdateHandler is invoked with the freshly reloaded Policy whenever
// policy.yaml's content actually changes.
type UpdateHandler func(*Policy)

// Watcher hot-reloads policy.yaml (spec.md's ambient config layer has
// no explicit hot-reload requirement, but the operator-facing policy
// file is exactly the kind of config the teacher's pack watches live).
type Watcher struct {
	loader  *Loader
	fsw     *fsnotify.Watcher
	handler UpdateHandler
}

// NewWatcher constructs a Watcher around loader, invoking handler on
// every detected content change.
func NewWatcher(loader *Loader, handler UpdateHandler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{loader: loader, fsw: fsw, handler: handler}, nil
}

// Start begins watching policy.yaml's directory (fsnotify watches
// directories, not bare files, so an editor's atomic-rename-on-save
// still produces an event).
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.loader.Path())
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	logging.For("config").WithField("path", w.loader.Path()).Info("watching policy.yaml for changes")
	go w.loop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
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
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.handleChange()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.For("config").WithField("error", err).Warn("policy file watcher error")
		}
	}
}

func (w *Watcher) handleChange() {
	changed, err := w.loader.HasChanged()
	if err != nil {
		logging.For("config").WithField("error", err).Warn("failed to check policy.yaml for changes")
		return
	}
	if !changed {
		return
	}
	policy, err := w.loader.Load()
	if err != nil {
		logging.For("config").WithField("error", err).Error("failed to reload policy.yaml, continuing with prior policy")
		return
	}
	if w.handler != nil {
		w.handler(policy)
	}
}
