package vfs

import (
	"slices"
	"sort"

	"fortio.org/safecast"
)

const maxUint32 = ^uint32(0)

// Document is an immutable snapshot of a file's text.
// Edits never mutate a Document; they install a new one on the File.
type Document struct {
	content []byte
	lineIdx []uint32 // offsets of '\n'
	version int64
}

func newDocument(content []byte, version int64) *Document {
	return &Document{
		content: content,
		lineIdx: buildLineIndex(content),
		version: version,
	}
}

// Text returns the document content.
func (d *Document) Text() string {
	if d == nil {
		return ""
	}
	return string(d.content)
}

// Bytes returns the document content. Callers must not modify it.
func (d *Document) Bytes() []byte {
	if d == nil {
		return nil
	}
	return d.content
}

// Len returns the content length in bytes.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.content)
}

// Version is bumped by every edit of the owning file.
func (d *Document) Version() int64 {
	if d == nil {
		return 0
	}
	return d.version
}

// LineCount returns the number of lines; an empty document has one line.
func (d *Document) LineCount() int {
	if d == nil {
		return 0
	}
	return len(d.lineIdx) + 1
}

// LineStart returns the offset of the first byte of the 0-based line.
func (d *Document) LineStart(line int) int {
	if d == nil || line <= 0 {
		return 0
	}
	if line > len(d.lineIdx) {
		return len(d.content)
	}
	return int(d.lineIdx[line-1]) + 1
}

// LineEnd returns the offset just past the last byte of the 0-based line, excluding '\n'.
func (d *Document) LineEnd(line int) int {
	if d == nil || line < 0 {
		return 0
	}
	if line >= len(d.lineIdx) {
		return len(d.content)
	}
	return int(d.lineIdx[line])
}

// Line returns the text of the 0-based line without its terminator.
func (d *Document) Line(line int) string {
	if d == nil || line < 0 || line >= d.LineCount() {
		return ""
	}
	return string(d.content[d.LineStart(line):d.LineEnd(line)])
}

// LineOf returns the 0-based line containing offset.
func (d *Document) LineOf(offset int) int {
	if d == nil || offset <= 0 {
		return 0
	}
	off := safeUint32(offset)
	return sort.Search(len(d.lineIdx), func(i int) bool { return d.lineIdx[i] >= off })
}

// Position converts a byte offset into a 0-based line and a 0-based byte column.
func (d *Document) Position(offset int) (line, col int) {
	if d == nil {
		return 0, 0
	}
	if offset > len(d.content) {
		offset = len(d.content)
	}
	if offset < 0 {
		offset = 0
	}
	line = d.LineOf(offset)
	return line, offset - d.LineStart(line)
}

func buildLineIndex(content []byte) []uint32 {
	out := make([]uint32, 0, len(content)/32)
	for i, b := range content {
		if b == '\n' {
			out = append(out, safeUint32(i))
		}
	}
	return out
}

func safeUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return maxUint32
	}
	return v
}

// normalizeCRLF replaces every \r\n with \n and leaves lone \r alone.
func normalizeCRLF(content []byte) ([]byte, bool) {
	if !slices.Contains(content, '\r') {
		return content, false
	}
	out := make([]byte, 0, len(content))
	changed := false
	i := 0
	for i < len(content) {
		if content[i] == '\r' && i+1 < len(content) && content[i+1] == '\n' {
			out = append(out, '\n')
			i += 2
			changed = true
			continue
		}
		out = append(out, content[i])
		i++
	}
	return out, changed
}

func removeBOM(content []byte) ([]byte, bool) {
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		return content[3:], true
	}
	return content, false
}
