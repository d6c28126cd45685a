package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotFound is returned for paths the workspace does not track.
	ErrNotFound = errors.New("file not tracked")
	// ErrInvalidFile is returned for deleted files.
	ErrInvalidFile = errors.New("file is no longer valid")
	// ErrOutOfRange is returned for offsets outside the current document.
	ErrOutOfRange = errors.New("offset out of range")
	// ErrDisposed is returned after the workspace has been torn down.
	ErrDisposed = errors.New("workspace disposed")
)

// Workspace tracks the files of one editing session.
//
// Document edits take the write side of the document lock; readers that need
// a consistent view of several files (issue processing) hold the read side via ReadLock.
type Workspace struct {
	docMu sync.RWMutex

	indexMu sync.Mutex
	files   []*File
	index   map[string]*File

	disposed atomic.Bool
}

// New creates an empty workspace.
func New() *Workspace {
	return &Workspace{
		files: make([]*File, 0),
		index: make(map[string]*File),
	}
}

// CanonicalPath returns the workspace key for a path: absolute, cleaned, slash separated, NFC.
func CanonicalPath(path string) string {
	if path == "" {
		return ""
	}
	candidate := filepath.FromSlash(path)
	if abs, err := filepath.Abs(candidate); err == nil {
		candidate = abs
	}
	return norm.NFC.String(filepath.ToSlash(filepath.Clean(candidate)))
}

// ReadLock acquires the read side of the document lock and returns its release function.
// Edits block until every reader has released.
func (w *Workspace) ReadLock() (release func()) {
	w.docMu.RLock()
	var once sync.Once
	return func() { once.Do(w.docMu.RUnlock) }
}

// Open registers editor-owned content for path, replacing any previous text.
func (w *Workspace) Open(path, text string) (*File, error) {
	if w.Disposed() {
		return nil, ErrDisposed
	}
	w.docMu.Lock()
	defer w.docMu.Unlock()
	f := w.upsert(path, []byte(text))
	f.open.Store(true)
	return f, nil
}

// Load reads path from disk unless an editor already owns it.
func (w *Workspace) Load(path string) (*File, error) {
	if w.Disposed() {
		return nil, ErrDisposed
	}
	if f, ok := w.Lookup(path); ok && f.Valid() && f.IsOpen() {
		return f, nil
	}
	content, err := readNormalized(path)
	if err != nil {
		return nil, err
	}
	w.docMu.Lock()
	defer w.docMu.Unlock()
	return w.upsert(path, content), nil
}

// Lookup returns the tracked file for path.
func (w *Workspace) Lookup(path string) (*File, bool) {
	key := CanonicalPath(path)
	w.indexMu.Lock()
	defer w.indexMu.Unlock()
	f, ok := w.index[key]
	return f, ok
}

// Get returns the file with the given identity.
func (w *Workspace) Get(id FileID) (*File, bool) {
	w.indexMu.Lock()
	defer w.indexMu.Unlock()
	if int(id) >= len(w.files) {
		return nil, false
	}
	return w.files[id], true
}

// Files returns every tracked file, valid or not, sorted by path.
func (w *Workspace) Files() []*File {
	w.indexMu.Lock()
	out := make([]*File, len(w.files))
	copy(out, w.files)
	w.indexMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// Edit replaces the byte range [start, end) of path with text. Markers follow the edit.
func (w *Workspace) Edit(path string, start, end int, text string) error {
	if w.Disposed() {
		return ErrDisposed
	}
	f, ok := w.Lookup(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if !f.Valid() {
		return fmt.Errorf("%s: %w", path, ErrInvalidFile)
	}
	w.docMu.Lock()
	defer w.docMu.Unlock()
	old := f.Document().Bytes()
	if start < 0 || end < start || end > len(old) {
		return fmt.Errorf("%s: edit [%d:%d] on %d bytes: %w", path, start, end, len(old), ErrOutOfRange)
	}
	f.replace(splice(old, start, end, []byte(text)), start, end, len(text))
	return nil
}

// SetText replaces the whole content of path. The change is reduced to the
// differing middle section so markers outside it survive.
func (w *Workspace) SetText(path, text string) error {
	if w.Disposed() {
		return ErrDisposed
	}
	f, ok := w.Lookup(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	w.docMu.Lock()
	defer w.docMu.Unlock()
	w.setContentLocked(f, []byte(text))
	return nil
}

// Close hands ownership of path back to the disk copy.
func (w *Workspace) Close(path string) {
	if f, ok := w.Lookup(path); ok {
		f.open.Store(false)
	}
}

// Delete marks path as gone; its markers are invalidated.
func (w *Workspace) Delete(path string) {
	f, ok := w.Lookup(path)
	if !ok {
		return
	}
	w.docMu.Lock()
	defer w.docMu.Unlock()
	f.valid.Store(false)
	f.open.Store(false)
	f.dropMarkers()
}

// Dispose tears the workspace down. Subsequent mutations fail with ErrDisposed.
func (w *Workspace) Dispose() {
	if !w.disposed.CompareAndSwap(false, true) {
		return
	}
	w.docMu.Lock()
	defer w.docMu.Unlock()
	w.indexMu.Lock()
	defer w.indexMu.Unlock()
	for _, f := range w.files {
		f.dropMarkers()
	}
}

// Disposed reports whether Dispose has been called.
func (w *Workspace) Disposed() bool {
	return w.disposed.Load()
}

// upsert must be called with the document write lock held.
func (w *Workspace) upsert(path string, content []byte) *File {
	key := CanonicalPath(path)
	w.indexMu.Lock()
	f, ok := w.index[key]
	if ok && f.Valid() {
		w.indexMu.Unlock()
		w.setContentLocked(f, content)
		return f
	}
	id := FileID(safeUint32(len(w.files)))
	f = newFile(id, key, newDocument(content, 1))
	w.files = append(w.files, f)
	w.index[key] = f
	w.indexMu.Unlock()
	return f
}

func (w *Workspace) setContentLocked(f *File, content []byte) {
	old := f.Document().Bytes()
	prefix := commonPrefix(old, content)
	suffix := commonSuffix(old[prefix:], content[prefix:])
	start, end := prefix, len(old)-suffix
	repl := content[prefix : len(content)-suffix]
	if start == end && len(repl) == 0 {
		return
	}
	f.replace(content, start, end, len(repl))
}

func splice(old []byte, start, end int, text []byte) []byte {
	out := make([]byte, 0, len(old)-(end-start)+len(text))
	out = append(out, old[:start]...)
	out = append(out, text...)
	return append(out, old[end:]...)
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

func readNormalized(path string) ([]byte, error) {
	// #nosec G304 -- path is provided by the caller
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content, _ = removeBOM(content)
	content, _ = normalizeCRLF(content)
	return content, nil
}
