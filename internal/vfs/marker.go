package vfs

import (
	"fmt"
	"sync"
)

// RangeMarker is a byte range inside a file that follows edits.
// It becomes invalid when an edit replaces the whole range or the file is deleted.
type RangeMarker struct {
	mu    sync.Mutex
	file  *File
	start int
	end   int
	valid bool
}

// File returns the file the marker belongs to.
func (m *RangeMarker) File() *File {
	if m == nil {
		return nil
	}
	return m.file
}

// Offsets returns the current [start, end) byte range.
func (m *RangeMarker) Offsets() (start, end int) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start, m.end
}

// Valid reports whether the marker still points at live text.
func (m *RangeMarker) Valid() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	valid := m.valid
	m.mu.Unlock()
	return valid && m.file.Valid()
}

// Dispose detaches the marker from its file.
func (m *RangeMarker) Dispose() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
	m.file.removeMarker(m)
}

func (m *RangeMarker) String() string {
	start, end := m.Offsets()
	return fmt.Sprintf("%s[%d:%d]", m.file.Path(), start, end)
}

func (m *RangeMarker) invalidate() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// shift applies an edit that replaced [s, e) with n bytes and reports whether the marker survived.
// Inserting exactly at the marker end does not grow it; inserting at its start moves it.
func (m *RangeMarker) shift(s, e, n int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return false
	}
	delta := n - (e - s)
	switch {
	case e <= m.start:
		m.start += delta
		m.end += delta
	case s >= m.end:
	case s <= m.start && e >= m.end:
		m.valid = false
	case s >= m.start && e <= m.end:
		m.end += delta
	case s < m.start:
		m.start = s + n
		m.end += delta
	default:
		m.end = s + n
	}
	if m.end < m.start {
		m.end = m.start
	}
	return m.valid
}
