// Package issue turns raw analyzer findings into live issues anchored in workspace documents.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"lintwatch/internal/vfs"
)

// InputFile is the engine's handle on a file it analyzed.
type InputFile struct {
	Path   string
	Handle vfs.FileID
}

// NewInputFile returns the engine handle for f.
func NewInputFile(f *vfs.File) *InputFile {
	return &InputFile{Path: f.Path(), Handle: f.ID()}
}

// RawIssue is one finding as reported by an analysis engine.
// Lines are 1-based and offsets 0-based byte columns; StartLine 0 means a
// file-level issue and EndLine 0 means only the line is known.
type RawIssue struct {
	File            *InputFile
	StartLine       int
	StartLineOffset int
	EndLine         int
	EndLineOffset   int
	Message         string
	Severity        Severity
	RuleKey         string
}

// HasLine reports whether the issue points at a line.
func (r *RawIssue) HasLine() bool { return r.StartLine > 0 }

// HasRange reports whether the issue carries a full text range.
func (r *RawIssue) HasRange() bool { return r.StartLine > 0 && r.EndLine > 0 }

// Lifecycle tells whether an issue was seen in an earlier analysis.
type Lifecycle uint8

const (
	LifecycleNew Lifecycle = iota
	LifecycleExisting
)

func (l Lifecycle) String() string {
	if l == LifecycleExisting {
		return "existing"
	}
	return "new"
}

// LiveIssue is a processed issue attached to a workspace file.
type LiveIssue struct {
	File      *vfs.File
	Severity  Severity
	Message   string
	RuleKey   string
	Anchor    *vfs.RangeMarker // nil for file-level issues
	LineHash  string
	Lifecycle Lifecycle

	CreationDate *time.Time // nil when the issue was never tracked
	Assignee     string
	ServerKey    string
}

// NewLive builds a live issue from raw. anchor may be nil.
func NewLive(f *vfs.File, raw *RawIssue, anchor *vfs.RangeMarker) *LiveIssue {
	li := &LiveIssue{
		File:     f,
		Severity: raw.Severity,
		Message:  raw.Message,
		RuleKey:  raw.RuleKey,
		Anchor:   anchor,
	}
	if anchor != nil {
		doc := f.Document()
		start, _ := anchor.Offsets()
		li.LineHash = LineHash(doc.Line(doc.LineOf(start)))
	}
	return li
}

// Valid is false once the file was deleted or the anchored text was removed.
func (li *LiveIssue) Valid() bool {
	if li == nil || !li.File.Valid() {
		return false
	}
	return li.Anchor == nil || li.Anchor.Valid()
}

// IsFileLevel reports whether the issue has no location inside the file.
func (li *LiveIssue) IsFileLevel() bool { return li.Anchor == nil }

// Range is a 0-based line/column span; columns count bytes.
type Range struct {
	StartLine, StartCol int
	EndLine, EndCol     int
}

// Range returns the anchor's current position, or the zero Range for file-level issues.
func (li *LiveIssue) Range() Range {
	if li == nil || li.Anchor == nil {
		return Range{}
	}
	doc := li.File.Document()
	start, end := li.Anchor.Offsets()
	sl, sc := doc.Position(start)
	el, ec := doc.Position(end)
	return Range{StartLine: sl, StartCol: sc, EndLine: el, EndCol: ec}
}

// Line returns the 1-based start line, 0 for file-level issues.
func (li *LiveIssue) Line() int {
	if li == nil || li.Anchor == nil {
		return 0
	}
	return li.Range().StartLine + 1
}

// Clone returns a shallow copy; the anchor is shared.
func (li *LiveIssue) Clone() *LiveIssue {
	if li == nil {
		return nil
	}
	cp := *li
	if li.CreationDate != nil {
		d := *li.CreationDate
		cp.CreationDate = &d
	}
	return &cp
}

// LineHash digests a line ignoring all whitespace, so reindentation keeps tracking.
func LineHash(line string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, line)
	if stripped == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(stripped))
	return hex.EncodeToString(sum[:8])
}
