package lsp

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"lintwatch/internal/job"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

// startWatch follows every non-hidden directory of m until the server stops.
func (s *Server) startWatch(m *project.Module) {
	dirs := watchDirs(filepath.FromSlash(m.Root))
	s.mu.Lock()
	if s.watchCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.watchCancel = cancel
	s.mu.Unlock()

	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		if err := s.ws.Watch(ctx, dirs, s.onDiskChange); err != nil {
			s.logf("file watcher stopped: %v", err)
		}
	}()
}

func (s *Server) stopWatch() {
	s.mu.Lock()
	cancel := s.watchCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.watchers.Wait()
}

// onDiskChange drops the issues of deleted files and re-analyzes closed files
// that changed on disk while holding issues.
func (s *Server) onDiskChange(ev vfs.WatchEvent) {
	if s.closed.Load() || s.issues == nil {
		return
	}
	f, ok := s.ws.Lookup(ev.Path)
	if !ok {
		return
	}
	if ev.Deleted {
		s.issues.Clear(f)
		return
	}
	if s.issues.Has(f) {
		s.trigger(job.TriggerCompilation, f)
	}
}

func watchDirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		dirs = append(dirs, p)
		return nil
	})
	return dirs
}
