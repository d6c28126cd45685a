package issue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lintwatch/internal/job"
	"lintwatch/internal/telemetry"
	"lintwatch/internal/trace"
	"lintwatch/internal/vfs"
)

// Store receives the per-file issue map of one run.
type Store interface {
	Store(ctx context.Context, issues map[*vfs.File][]*LiveIssue)
}

// Reconciler matches stored issues with server-side issues in the background.
type Reconciler interface {
	FetchAndMatch(files []*vfs.File)
}

// Console receives processing diagnostics.
type Console interface {
	Info(msg string)
	Debug(msg string)
	Error(msg string, err error)
}

// ReadLocker provides the document read lock.
type ReadLocker interface {
	ReadLock() (release func())
}

// Processor converts raw issues to live issues and stores them.
type Processor struct {
	ws         ReadLocker
	matcher    Matcher
	store      Store
	reconciler Reconciler
	console    Console
	metrics    *telemetry.Metrics
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMetrics records processing metrics.
func WithMetrics(m *telemetry.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor wires a processor. reconciler may be nil.
func NewProcessor(ws ReadLocker, matcher Matcher, store Store, reconciler Reconciler, console Console, opts ...ProcessorOption) *Processor {
	p := &Processor{
		ws:         ws,
		matcher:    matcher,
		store:      store,
		reconciler: reconciler,
		console:    console,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process anchors raw issues in their documents and stores one list per
// submitted file. Files in failed keep their previous issues. Errors other
// than unmatched locations abort the run before anything is stored.
func (p *Processor) Process(ctx context.Context, j *job.Job, raw []RawIssue, failed []*InputFile, trigger job.Trigger) error {
	ctx, span := trace.Start(ctx, trace.ScopeTask, "process")
	defer span.End("")
	start := time.Now()

	err := func() error {
		release := p.ws.ReadLock()
		defer release()

		issues, err := p.transform(ctx, j, raw, failed)
		if err != nil {
			return err
		}
		p.store.Store(ctx, issues)

		if trigger.FetchesServerIssues() && p.reconciler != nil {
			p.console.Debug("Fetching server issues")
			p.reconciler.FetchAndMatch(j.Files())
		}
		return nil
	}()
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	p.metrics.RecordProcessed(ctx, len(raw), elapsed)
	p.console.Debug(fmt.Sprintf("Processed issues in %d ms", elapsed.Milliseconds()))
	if len(raw) == 1 {
		p.console.Info("Found 1 issue")
	} else {
		p.console.Info(fmt.Sprintf("Found %d issues", len(raw)))
	}
	span.WithExtra("issues", fmt.Sprint(len(raw)))
	return nil
}

func (p *Processor) transform(ctx context.Context, j *job.Job, raw []RawIssue, failed []*InputFile) (out map[*vfs.File][]*LiveIssue, err error) {
	defer func() {
		if err != nil {
			disposeAnchors(out)
			out = nil
		}
	}()
	tracer := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx)

	failedSet := make(map[vfs.FileID]struct{}, len(failed))
	for _, in := range failed {
		if in != nil {
			failedSet[in.Handle] = struct{}{}
		}
	}

	out = make(map[*vfs.File][]*LiveIssue, j.FileCount())
	for _, f := range j.Files() {
		if _, bad := failedSet[f.ID()]; bad {
			p.console.Info("File won't be refreshed because there were errors during analysis: " + f.Path())
			continue
		}
		out[f] = []*LiveIssue{}
	}

	for i := range raw {
		r := &raw[i]
		if r.File == nil || r.File.Path == "" {
			continue
		}
		if _, bad := failedSet[r.File.Handle]; bad {
			continue
		}
		var f *vfs.File
		f, err = p.matcher.FindFile(r.File.Handle)
		if err != nil {
			if errors.Is(err, ErrNoMatch) {
				p.console.Error("Failed to find location of issue", err)
				continue
			}
			return out, err
		}
		if !f.Valid() {
			continue
		}
		list, submitted := out[f]
		if !submitted {
			trace.Point(tracer, trace.ScopeIssue, "issue outside job", f.Path(), parent)
			continue
		}

		var anchor *vfs.RangeMarker
		if r.HasLine() {
			anchor, err = p.matcher.Match(f, r)
			if err != nil {
				if errors.Is(err, ErrNoMatch) {
					p.console.Error("Failed to find location of issue", err)
					continue
				}
				return out, err
			}
		}
		out[f] = append(list, NewLive(f, r, anchor))
	}
	return out, nil
}

func disposeAnchors(issues map[*vfs.File][]*LiveIssue) {
	for _, list := range issues {
		for _, li := range list {
			li.Anchor.Dispose()
		}
	}
}
