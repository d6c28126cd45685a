package vfs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchEvent describes a disk change applied to the workspace.
type WatchEvent struct {
	Path    string
	Deleted bool
}

// Watch follows the directories of the given roots and keeps non-open files in
// sync with disk: removed or renamed files become invalid, written files are reloaded.
// It blocks until ctx is done. onChange, when non-nil, is called after each applied change.
func (w *Workspace) Watch(ctx context.Context, dirs []string, onChange func(WatchEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range dirs {
		if err := watcher.Add(filepath.FromSlash(dir)); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if change, applied := w.applyWatchEvent(ev); applied && onChange != nil {
				onChange(change)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				continue
			}
			return fmt.Errorf("watcher: %w", werr)
		}
	}
}

func (w *Workspace) applyWatchEvent(ev fsnotify.Event) (WatchEvent, bool) {
	f, ok := w.Lookup(ev.Name)
	if !ok || !f.Valid() || f.IsOpen() {
		return WatchEvent{}, false
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.Delete(f.Path())
		return WatchEvent{Path: f.Path(), Deleted: true}, true
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
		if _, err := w.Load(f.Path()); err != nil {
			return WatchEvent{}, false
		}
		return WatchEvent{Path: f.Path()}, true
	}
	return WatchEvent{}, false
}
