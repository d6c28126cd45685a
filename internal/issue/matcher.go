package issue

import (
	"errors"
	"fmt"
	"strings"

	"lintwatch/internal/vfs"
)

// ErrNoMatch reports that an issue could not be located in the current document.
var ErrNoMatch = errors.New("no match")

// Matcher resolves engine handles and anchors issues in documents.
type Matcher interface {
	FindFile(h vfs.FileID) (*vfs.File, error)
	Match(f *vfs.File, raw *RawIssue) (*vfs.RangeMarker, error)
}

// FileLookup is the part of the workspace the matcher needs.
type FileLookup interface {
	Get(id vfs.FileID) (*vfs.File, bool)
}

// DocumentMatcher anchors issues against live workspace documents.
type DocumentMatcher struct {
	files FileLookup
}

// NewDocumentMatcher creates a matcher over files.
func NewDocumentMatcher(files FileLookup) *DocumentMatcher {
	return &DocumentMatcher{files: files}
}

func (m *DocumentMatcher) FindFile(h vfs.FileID) (*vfs.File, error) {
	f, ok := m.files.Get(h)
	if !ok {
		return nil, fmt.Errorf("file %d: %w", h, ErrNoMatch)
	}
	return f, nil
}

// Match computes the byte range of raw in f and registers a marker for it.
// With a full range the offsets must lie on their lines; with a line only the
// range spans the line from its first to its last non-blank character.
func (m *DocumentMatcher) Match(f *vfs.File, raw *RawIssue) (*vfs.RangeMarker, error) {
	doc := f.Document()
	lines := doc.LineCount()
	if raw.StartLine < 1 {
		return nil, fmt.Errorf("invalid start line %d: %w", raw.StartLine, ErrNoMatch)
	}
	if raw.StartLine > lines {
		return nil, fmt.Errorf("start line %d larger than lines in file %d: %w", raw.StartLine, lines, ErrNoMatch)
	}

	var start, end int
	if raw.HasRange() {
		if raw.EndLine > lines {
			return nil, fmt.Errorf("end line %d larger than lines in file %d: %w", raw.EndLine, lines, ErrNoMatch)
		}
		var err error
		if start, err = offsetOnLine(doc, raw.StartLine-1, raw.StartLineOffset); err != nil {
			return nil, err
		}
		if end, err = offsetOnLine(doc, raw.EndLine-1, raw.EndLineOffset); err != nil {
			return nil, err
		}
		if end < start {
			return nil, fmt.Errorf("range %d:%d-%d:%d is reversed: %w",
				raw.StartLine, raw.StartLineOffset, raw.EndLine, raw.EndLineOffset, ErrNoMatch)
		}
	} else {
		start, end = trimmedLine(doc, raw.StartLine-1)
	}

	marker, err := f.NewMarker(start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMatch, err)
	}
	return marker, nil
}

func offsetOnLine(doc *vfs.Document, line, col int) (int, error) {
	lineStart, lineEnd := doc.LineStart(line), doc.LineEnd(line)
	if col < 0 || lineStart+col > lineEnd {
		return 0, fmt.Errorf("offset %d outside line %d (%d bytes): %w", col, line+1, lineEnd-lineStart, ErrNoMatch)
	}
	return lineStart + col, nil
}

func trimmedLine(doc *vfs.Document, line int) (start, end int) {
	lineStart, lineEnd := doc.LineStart(line), doc.LineEnd(line)
	text := doc.Line(line)
	trimmed := strings.TrimLeft(text, " \t\r\f\v")
	if trimmed == "" {
		return lineStart, lineEnd
	}
	start = lineStart + len(text) - len(trimmed)
	end = lineStart + len(strings.TrimRight(text, " \t\r\f\v"))
	return start, end
}
