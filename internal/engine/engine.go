// Package engine is the boundary to the analysis engines that produce raw issues.
package engine

import (
	"context"
	"sync"

	"lintwatch/internal/issue"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

// Listener receives raw issues while an analysis runs. Implementations must be safe
// for concurrent use.
type Listener interface {
	Handle(raw issue.RawIssue)
}

// Result is what an engine reports besides issues.
type Result struct {
	// Failed lists files whose analysis did not complete; their issues must not be replaced.
	Failed []*issue.InputFile
}

// Analyzer runs a blocking analysis of files. Cancelling ctx interrupts it.
type Analyzer interface {
	Analyze(ctx context.Context, module *project.Module, files []*vfs.File, l Listener) (Result, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, module *project.Module, files []*vfs.File, l Listener) (Result, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, module *project.Module, files []*vfs.File, l Listener) (Result, error) {
	return f(ctx, module, files, l)
}

// Accumulator collects raw issues in arrival order.
type Accumulator struct {
	mu     sync.Mutex
	issues []issue.RawIssue
}

func (a *Accumulator) Handle(raw issue.RawIssue) {
	a.mu.Lock()
	a.issues = append(a.issues, raw)
	a.mu.Unlock()
}

// Issues returns a copy of everything collected so far.
func (a *Accumulator) Issues() []issue.RawIssue {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]issue.RawIssue, len(a.issues))
	copy(out, a.issues)
	return out
}

// Len returns the number of collected issues.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.issues)
}
