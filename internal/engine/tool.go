package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"lintwatch/internal/config"
	"lintwatch/internal/issue"
	"lintwatch/internal/project"
	"lintwatch/internal/sarif"
	"lintwatch/internal/trace"
	"lintwatch/internal/vfs"
)

// ErrNoTools is returned when the module configures no analyzer.
var ErrNoTools = errors.New("no analyzer configured")

// ToolRunner runs external tools that print SARIF and converts their results.
type ToolRunner struct {
	tools []config.AnalyzerConfig
	jobs  int
}

// NewToolRunner creates a runner. jobs <= 0 means GOMAXPROCS.
func NewToolRunner(tools []config.AnalyzerConfig, jobs int) *ToolRunner {
	return &ToolRunner{tools: tools, jobs: jobs}
}

// ForModule builds a runner from the module configuration.
func ForModule(m *project.Module) *ToolRunner {
	if m == nil || m.Config == nil {
		return NewToolRunner(nil, 0)
	}
	return NewToolRunner(m.Config.Analyzers, m.Config.Analysis.Jobs)
}

// Analyze runs every tool over files in parallel. A tool that cannot run fails
// the whole call; files named by a tool's error notifications are reported as failed.
func (r *ToolRunner) Analyze(ctx context.Context, module *project.Module, files []*vfs.File, l Listener) (Result, error) {
	if len(r.tools) == 0 {
		return Result{}, ErrNoTools
	}
	jobs := r.jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	byPath := make(map[string]*vfs.File, len(files))
	for _, f := range files {
		byPath[f.Path()] = f
	}

	var (
		mu     sync.Mutex
		failed = make(map[vfs.FileID]*issue.InputFile)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(r.tools)))
	for _, tool := range r.tools {
		g.Go(func() error {
			doc, base, err := r.runTool(gctx, module, tool, files)
			if err != nil {
				return err
			}
			emitted, bad := convert(doc, base, module.Root, byPath)
			for _, raw := range emitted {
				l.Handle(raw)
			}
			mu.Lock()
			for _, in := range bad {
				failed[in.Handle] = in
			}
			mu.Unlock()
			trace.Point(trace.FromContext(ctx), trace.ScopeTask, "tool_done", fmt.Sprintf("%s issues=%d failed=%d", tool.Name, len(emitted), len(bad)), trace.CurrentSpan(ctx))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, err
	}

	res := Result{Failed: make([]*issue.InputFile, 0, len(failed))}
	for _, in := range failed {
		res.Failed = append(res.Failed, in)
	}
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].Path < res.Failed[j].Path })
	return res, nil
}

// runTool returns the parsed SARIF and the directory its relative URIs refer to.
func (r *ToolRunner) runTool(ctx context.Context, module *project.Module, tool config.AnalyzerConfig, files []*vfs.File) (*sarif.Document, string, error) {
	base := module.Root
	paths := make([]string, 0, len(files))
	if tool.Overlay {
		dir, err := os.MkdirTemp("", "lintwatch-overlay-*")
		if err != nil {
			return nil, "", fmt.Errorf("%s: create overlay: %w", tool.Name, err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		base = filepath.ToSlash(dir)
		for _, f := range files {
			p, err := writeOverlay(dir, module, f)
			if err != nil {
				return nil, "", fmt.Errorf("%s: %w", tool.Name, err)
			}
			paths = append(paths, p)
		}
	} else {
		for _, f := range files {
			paths = append(paths, filepath.FromSlash(f.Path()))
		}
	}

	args := append(append([]string{}, tool.Args...), paths...)
	// #nosec G204 -- the command comes from the module configuration
	cmd := exec.CommandContext(ctx, tool.Command, args...)
	cmd.Dir = filepath.FromSlash(base)
	var stdout bytes.Buffer
	var stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}
	// Linters commonly exit non-zero when they report findings.
	if runErr != nil && stdout.Len() == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, "", fmt.Errorf("%s: %w", tool.Name, runErr)
		}
		return nil, "", fmt.Errorf("%s: %w: %s", tool.Name, runErr, msg)
	}
	doc, err := sarif.Read(&stdout)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", tool.Name, err)
	}
	return doc, base, nil
}

// writeOverlay materializes the current document of f under dir at its module-relative path.
func writeOverlay(dir string, module *project.Module, f *vfs.File) (string, error) {
	rel, ok := module.Rel(f.Path())
	if !ok {
		rel = filepath.Base(f.Path())
	}
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("overlay %s: %w", rel, err)
	}
	if err := os.WriteFile(dst, f.Document().Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("overlay %s: %w", rel, err)
	}
	return dst, nil
}

// convert maps SARIF results onto the submitted files. Results for other files are ignored.
func convert(doc *sarif.Document, base, root string, byPath map[string]*vfs.File) ([]issue.RawIssue, []*issue.InputFile) {
	lookup := func(uri string) (*vfs.File, bool) {
		p := sarif.ResolveURI(base, uri)
		if base != root {
			if rel, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(p)); err == nil {
				p = sarif.ResolveURI(root, filepath.ToSlash(rel))
			}
		}
		f, ok := byPath[vfs.CanonicalPath(p)]
		return f, ok
	}

	var out []issue.RawIssue
	for _, run := range doc.Runs {
		for _, res := range run.Results {
			f, ok := lookup(res.URI())
			if !ok {
				continue
			}
			out = append(out, rawIssue(f, res))
		}
	}
	var failed []*issue.InputFile
	for _, uri := range sarif.FailedFiles(doc) {
		if f, ok := lookup(uri); ok {
			failed = append(failed, issue.NewInputFile(f))
		}
	}
	return out, failed
}

func rawIssue(f *vfs.File, res sarif.Result) issue.RawIssue {
	reg := res.Region()
	raw := issue.RawIssue{
		File:      issue.NewInputFile(f),
		StartLine: reg.StartLine,
		Message:   res.Message.Text,
		Severity:  severityOf(res),
		RuleKey:   res.RuleID,
	}
	if reg.StartLine > 0 && reg.StartColumn > 0 && reg.EndColumn > 0 {
		raw.StartLineOffset = reg.StartColumn - 1
		raw.EndLine = reg.EndLine
		if raw.EndLine == 0 {
			raw.EndLine = reg.StartLine
		}
		raw.EndLineOffset = reg.EndColumn - 1
	}
	return raw
}

func severityOf(res sarif.Result) issue.Severity {
	if res.Properties.Severity != "" {
		if s, err := issue.ParseSeverity(res.Properties.Severity); err == nil {
			return s
		}
	}
	switch res.Level {
	case "error":
		return issue.SeverityCritical
	case "note":
		return issue.SeverityMinor
	case "none":
		return issue.SeverityInfo
	default:
		return issue.SeverityMajor
	}
}
