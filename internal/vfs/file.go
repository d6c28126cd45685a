package vfs

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// FileID uniquely identifies a file within a Workspace. IDs are never reused.
type FileID uint32

// File is a workspace file with a current Document and the markers anchored in it.
type File struct {
	id    FileID
	path  string
	valid atomic.Bool
	open  atomic.Bool
	doc   atomic.Pointer[Document]

	markersMu sync.Mutex
	markers   map[*RangeMarker]struct{}
}

func newFile(id FileID, path string, doc *Document) *File {
	f := &File{
		id:      id,
		path:    path,
		markers: make(map[*RangeMarker]struct{}),
	}
	f.doc.Store(doc)
	f.valid.Store(true)
	return f
}

// ID returns the file identity.
func (f *File) ID() FileID {
	if f == nil {
		return 0
	}
	return f.id
}

// Path returns the canonical path.
func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Name returns the base name of the path.
func (f *File) Name() string {
	if f == nil {
		return ""
	}
	return filepath.Base(filepath.FromSlash(f.path))
}

// Valid is false once the file has been deleted.
func (f *File) Valid() bool {
	return f != nil && f.valid.Load()
}

// IsOpen reports whether an editor owns the content (unsaved text may differ from disk).
func (f *File) IsOpen() bool {
	return f != nil && f.open.Load()
}

// Document returns the current snapshot.
func (f *File) Document() *Document {
	if f == nil {
		return nil
	}
	return f.doc.Load()
}

func (f *File) String() string {
	return f.Path()
}

// NewMarker registers a marker over [start, end) of the current document.
func (f *File) NewMarker(start, end int) (*RangeMarker, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%s: %w", f.Path(), ErrInvalidFile)
	}
	size := f.Document().Len()
	if start < 0 || end < start || end > size {
		return nil, fmt.Errorf("%s: range [%d:%d] outside document of %d bytes: %w", f.path, start, end, size, ErrOutOfRange)
	}
	m := &RangeMarker{file: f, start: start, end: end, valid: true}
	f.markersMu.Lock()
	f.markers[m] = struct{}{}
	f.markersMu.Unlock()
	return m, nil
}

// MarkerCount returns the number of live markers.
func (f *File) MarkerCount() int {
	f.markersMu.Lock()
	defer f.markersMu.Unlock()
	return len(f.markers)
}

func (f *File) removeMarker(m *RangeMarker) {
	f.markersMu.Lock()
	delete(f.markers, m)
	f.markersMu.Unlock()
}

// replace installs new content after an edit of [s, e) with n bytes; callers hold the write lock.
func (f *File) replace(content []byte, s, e, n int) {
	prev := f.doc.Load()
	f.doc.Store(newDocument(content, prev.Version()+1))
	f.markersMu.Lock()
	defer f.markersMu.Unlock()
	for m := range f.markers {
		if !m.shift(s, e, n) {
			delete(f.markers, m)
		}
	}
}

func (f *File) dropMarkers() {
	f.markersMu.Lock()
	defer f.markersMu.Unlock()
	for m := range f.markers {
		m.invalidate()
		delete(f.markers, m)
	}
}
