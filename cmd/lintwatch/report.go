package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"lintwatch/internal/issue"
	"lintwatch/internal/project"
	"lintwatch/internal/store"
	"lintwatch/internal/vfs"
)

type issueSource interface {
	Issues(f *vfs.File) []*issue.LiveIssue
	Resolved(f *vfs.File) []store.Record
}

type reportIssue struct {
	File         string     `json:"file"`
	Line         int        `json:"line,omitempty"`
	Column       int        `json:"column,omitempty"`
	EndLine      int        `json:"end_line,omitempty"`
	EndColumn    int        `json:"end_column,omitempty"`
	Severity     string     `json:"severity"`
	Rule         string     `json:"rule"`
	Message      string     `json:"message"`
	Lifecycle    string     `json:"lifecycle"`
	CreationDate *time.Time `json:"creation_date,omitempty"`
	Assignee     string     `json:"assignee,omitempty"`
	ServerKey    string     `json:"server_key,omitempty"`

	isError bool
}

type report struct {
	Module   string        `json:"module"`
	Issues   []reportIssue `json:"issues"`
	Resolved int           `json:"resolved"`
}

func (r report) hasErrors() bool {
	for _, it := range r.Issues {
		if it.isError {
			return true
		}
	}
	return false
}

// collectReport lists the valid stored issues of files. Line and column are 1-based.
func collectReport(module *project.Module, src issueSource, files []*vfs.File) report {
	out := report{Module: module.Name, Issues: make([]reportIssue, 0)}
	for _, f := range files {
		name, ok := module.Rel(f.Path())
		if !ok {
			name = f.Path()
		}
		out.Resolved += len(src.Resolved(f))
		for _, li := range src.Issues(f) {
			if !li.Valid() {
				continue
			}
			it := reportIssue{
				File:         name,
				Severity:     li.Severity.String(),
				Rule:         li.RuleKey,
				Message:      li.Message,
				Lifecycle:    li.Lifecycle.String(),
				CreationDate: li.CreationDate,
				Assignee:     li.Assignee,
				ServerKey:    li.ServerKey,
				isError:      li.Severity.IsError(),
			}
			if !li.IsFileLevel() {
				r := li.Range()
				it.Line, it.Column = r.StartLine+1, r.StartCol+1
				it.EndLine, it.EndColumn = r.EndLine+1, r.EndCol+1
			}
			out.Issues = append(out.Issues, it)
		}
	}
	return out
}

func writeReportJSON(w io.Writer, r report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeReportPretty(w io.Writer, r report, colored bool) {
	errColor := color.New(color.FgRed, color.Bold)
	warnColor := color.New(color.FgYellow)
	infoColor := color.New(color.FgCyan)
	faint := color.New(color.Faint)
	for _, c := range []*color.Color{errColor, warnColor, infoColor, faint} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	for _, it := range r.Issues {
		loc := it.File
		if it.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", it.File, it.Line, it.Column)
		}
		sev := infoColor
		switch {
		case it.isError:
			sev = errColor
		case it.Severity == issue.SeverityMajor.String():
			sev = warnColor
		}
		fmt.Fprintf(w, "%s: %s %s [%s]", loc, sev.Sprint(it.Severity), it.Message, it.Rule)
		if it.CreationDate != nil {
			fmt.Fprint(w, faint.Sprintf(" (since %s)", it.CreationDate.Format(time.DateOnly)))
		} else if it.Lifecycle == issue.LifecycleNew.String() {
			fmt.Fprint(w, faint.Sprint(" (new)"))
		}
		if it.Assignee != "" {
			fmt.Fprint(w, faint.Sprintf(" @%s", it.Assignee))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d issue(s) in %s", len(r.Issues), r.Module)
	if r.Resolved > 0 {
		fmt.Fprintf(w, ", %d resolved", r.Resolved)
	}
	fmt.Fprintln(w)
}
