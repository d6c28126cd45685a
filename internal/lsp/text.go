package lsp

import (
	"unicode/utf8"

	"lintwatch/internal/vfs"
)

// offsetForPosition converts an LSP position (UTF-16 columns) to a byte offset in doc.
// Positions past the end of a line clamp to the line end.
func offsetForPosition(doc *vfs.Document, pos position) int {
	if pos.Line < 0 || pos.Character < 0 {
		return 0
	}
	if pos.Line >= doc.LineCount() {
		return doc.Len()
	}
	content := doc.Bytes()
	off := doc.LineStart(pos.Line)
	end := doc.LineEnd(pos.Line)
	units := 0
	for off < end && units < pos.Character {
		r, size := utf8.DecodeRune(content[off:end])
		need := 1
		if r > 0xFFFF {
			need = 2
		}
		if units+need > pos.Character {
			break
		}
		units += need
		off += size
	}
	return off
}

// positionForOffset converts a byte offset in doc to an LSP position.
func positionForOffset(doc *vfs.Document, offset int) position {
	offset = min(max(offset, 0), doc.Len())
	line := doc.LineOf(offset)
	content := doc.Bytes()
	units := 0
	for off := doc.LineStart(line); off < offset; {
		r, size := utf8.DecodeRune(content[off:offset])
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
		off += size
	}
	return position{Line: line, Character: units}
}
