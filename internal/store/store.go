// Package store keeps the live issues of every analyzed file and tracks them across runs.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lintwatch/internal/issue"
	"lintwatch/internal/trace"
	"lintwatch/internal/vfs"
)

// Publisher is notified after files' issue sets changed.
type Publisher interface {
	PublishIssuesChanged(files []*vfs.File)
}

// ErrorReporter receives persistence failures.
type ErrorReporter interface {
	Error(msg string, err error)
}

type entry struct {
	file     *vfs.File
	issues   []*issue.LiveIssue
	resolved []Record
}

// Store holds one issue list per file path. Thread-safe.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	persister *Persister
	publisher Publisher
	errs      ErrorReporter
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister keeps tracking records on disk.
func WithPersister(p *Persister) Option { return func(s *Store) { s.persister = p } }

// WithPublisher announces changed files.
func WithPublisher(p Publisher) Option { return func(s *Store) { s.publisher = p } }

// WithErrorReporter reports persistence failures.
func WithErrorReporter(r ErrorReporter) Option { return func(s *Store) { s.errs = r } }

// WithClock overrides time.Now for creation dates.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store replaces the issue list of every key in issues. New issues inherit the
// tracking data of the previous issue they match; previous issues left over are resolved.
func (s *Store) Store(ctx context.Context, issues map[*vfs.File][]*issue.LiveIssue) {
	_, span := trace.Start(ctx, trace.ScopeTask, "store")
	defer span.End("")

	files := make([]*vfs.File, 0, len(issues))
	for f := range issues {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path() < files[j].Path() })

	saves := make(map[string][]Record, len(files))
	var stale []*issue.LiveIssue

	s.mu.Lock()
	now := s.now().UTC().Truncate(time.Second)
	for _, f := range files {
		next := issues[f]
		var prev []Record
		analyzedBefore := false
		if old, ok := s.entries[f.Path()]; ok {
			prev = currentRecords(old.issues)
			analyzedBefore = true
			stale = append(stale, old.issues...)
		} else {
			prev, analyzedBefore = s.loadRecords(f.Path())
		}
		resolved := carryOver(next, prev, analyzedBefore, now)
		s.entries[f.Path()] = &entry{file: f, issues: next, resolved: resolved}
		saves[f.Path()] = recordsOf(next)
	}
	s.mu.Unlock()

	for _, li := range stale {
		if li.Anchor != nil {
			li.Anchor.Dispose()
		}
	}
	span.WithExtra("files", fmt.Sprint(len(files)))
	s.save(saves)
	s.publish(files)
}

// Issues returns copies of the issues stored for f.
func (s *Store) Issues(f *vfs.File) []*issue.LiveIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[f.Path()]
	if !ok || e.file != f {
		return nil
	}
	return cloneAll(e.issues)
}

// Has reports whether f was ever stored, even with an empty list.
func (s *Store) Has(f *vfs.File) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[f.Path()]
	return ok && e.file == f
}

// Resolved returns the issues of f that disappeared in the last run.
func (s *Store) Resolved(f *vfs.File) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[f.Path()]
	if !ok {
		return nil
	}
	out := make([]Record, len(e.resolved))
	copy(out, e.resolved)
	return out
}

// Files returns the stored files sorted by path.
func (s *Store) Files() []*vfs.File {
	s.mu.RLock()
	out := make([]*vfs.File, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.file)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// Count returns the total number of stored issues.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		n += len(e.issues)
	}
	return n
}

// Clear forgets f, on disk too.
func (s *Store) Clear(f *vfs.File) {
	s.mu.Lock()
	e, ok := s.entries[f.Path()]
	delete(s.entries, f.Path())
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, li := range e.issues {
		if li.Anchor != nil {
			li.Anchor.Dispose()
		}
	}
	if err := s.persister.Delete(f.Path()); err != nil {
		s.reportError("Failed to delete stored issues of "+f.Path(), err)
	}
	s.publish([]*vfs.File{f})
}

// UpdateTracked applies fn to every stored issue of f and persists the result.
// It reports whether f had stored issues.
func (s *Store) UpdateTracked(f *vfs.File, fn func(*issue.LiveIssue)) bool {
	s.mu.Lock()
	e, ok := s.entries[f.Path()]
	if !ok || e.file != f {
		s.mu.Unlock()
		return false
	}
	for _, li := range e.issues {
		fn(li)
	}
	records := recordsOf(e.issues)
	s.mu.Unlock()

	s.save(map[string][]Record{f.Path(): records})
	s.publish([]*vfs.File{f})
	return true
}

// loadRecords must be called with s.mu held.
func (s *Store) loadRecords(path string) ([]Record, bool) {
	records, ok, err := s.persister.Load(path)
	if err != nil {
		s.reportError("Failed to load stored issues of "+path, err)
		return nil, false
	}
	return records, ok
}

func (s *Store) save(saves map[string][]Record) {
	if s.persister == nil {
		return
	}
	paths := make([]string, 0, len(saves))
	for p := range saves {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := s.persister.Save(p, saves[p]); err != nil {
			s.reportError("Failed to persist issues of "+p, err)
		}
	}
}

func (s *Store) publish(files []*vfs.File) {
	if s.publisher != nil && len(files) > 0 {
		s.publisher.PublishIssuesChanged(files)
	}
}

func (s *Store) reportError(msg string, err error) {
	if s.errs != nil {
		s.errs.Error(msg, err)
	}
}

// carryOver fills the lifecycle data of next from prev and returns the unmatched prev entries.
func carryOver(next []*issue.LiveIssue, prev []Record, analyzedBefore bool, now time.Time) []Record {
	pairs, unmatched := Match(next, prev)
	for i, li := range next {
		if j := pairs[i]; j >= 0 {
			p := prev[j]
			li.Lifecycle = issue.LifecycleExisting
			li.CreationDate = p.CreationDate
			li.Assignee = p.Assignee
			li.ServerKey = p.ServerKey
			continue
		}
		li.Lifecycle = issue.LifecycleNew
		li.CreationDate = nil
		if analyzedBefore {
			d := now
			li.CreationDate = &d
		}
	}
	resolved := make([]Record, 0, len(unmatched))
	for _, j := range unmatched {
		resolved = append(resolved, prev[j])
	}
	return resolved
}

// currentRecords snapshots stored issues, hashing the line their anchor points at now.
func currentRecords(issues []*issue.LiveIssue) []Record {
	out := make([]Record, 0, len(issues))
	for _, li := range issues {
		r := RecordOf(li)
		if li.Valid() && li.Anchor != nil {
			doc := li.File.Document()
			start, _ := li.Anchor.Offsets()
			r.LineHash = issue.LineHash(doc.Line(doc.LineOf(start)))
		}
		out = append(out, r)
	}
	return out
}

func recordsOf(issues []*issue.LiveIssue) []Record {
	out := make([]Record, 0, len(issues))
	for _, li := range issues {
		out = append(out, RecordOf(li))
	}
	return out
}

func cloneAll(issues []*issue.LiveIssue) []*issue.LiveIssue {
	out := make([]*issue.LiveIssue, len(issues))
	for i, li := range issues {
		out[i] = li.Clone()
	}
	return out
}
