// Package console is the user-facing diagnostics log of an analysis session.
package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"lintwatch/internal/trace"
)

// Level of a console line.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Line is one console message.
type Line struct {
	Time  time.Time
	Level Level
	Text  string
}

// Console writes diagnostics to a writer and keeps a bounded history.
// Debug lines are dropped unless verbose. Errors are mirrored to the tracer.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	verbose   bool
	tracer    trace.Tracer
	history   []Line
	limit     int
	listeners []func(Line)

	debugColor *color.Color
	errorColor *color.Color
}

// Option configures a Console.
type Option func(*Console)

// WithVerbose enables debug lines.
func WithVerbose(v bool) Option { return func(c *Console) { c.verbose = v } }

// WithColor forces colouring on or off.
func WithColor(enabled bool) Option {
	return func(c *Console) {
		if enabled {
			c.debugColor.EnableColor()
			c.errorColor.EnableColor()
		} else {
			c.debugColor.DisableColor()
			c.errorColor.DisableColor()
		}
	}
}

// WithTracer mirrors error lines into t.
func WithTracer(t trace.Tracer) Option { return func(c *Console) { c.tracer = t } }

// WithHistory keeps the last n lines for Lines; 0 keeps none.
func WithHistory(n int) Option { return func(c *Console) { c.limit = n } }

// New creates a console writing to w; w may be nil for a history-only console.
func New(w io.Writer, opts ...Option) *Console {
	c := &Console{
		w:          w,
		tracer:     trace.Nop,
		debugColor: color.New(color.Faint),
		errorColor: color.New(color.FgRed, color.Bold),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discard returns a console that drops everything.
func Discard() *Console { return New(nil) }

// Verbose reports whether debug lines are kept.
func (c *Console) Verbose() bool {
	if c == nil {
		return false
	}
	return c.verbose
}

// Info logs an informational line.
func (c *Console) Info(msg string) { c.emit(LevelInfo, msg) }

// Debug logs a line shown only in verbose mode.
func (c *Console) Debug(msg string) {
	if c == nil || !c.verbose {
		return
	}
	c.emit(LevelDebug, msg)
}

// Error logs msg with err appended and mirrors it to the tracer.
func (c *Console) Error(msg string, err error) {
	if c == nil {
		return
	}
	text := msg
	if err != nil {
		text = fmt.Sprintf("%s: %v", msg, err)
		trace.Error(c.tracer, msg, err, 0)
	}
	c.emit(LevelError, text)
}

// OnLine registers fn for every emitted line. fn runs under the console lock
// and must not call back into the console.
func (c *Console) OnLine(fn func(Line)) {
	if c == nil || fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Lines returns a copy of the retained history.
func (c *Console) Lines() []Line {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.history...)
}

// Clear drops the retained history.
func (c *Console) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

func (c *Console) emit(level Level, text string) {
	if c == nil {
		return
	}
	line := Line{Time: time.Now(), Level: level, Text: text}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 {
		if len(c.history) >= c.limit {
			c.history = append(c.history[:0], c.history[1:]...)
		}
		c.history = append(c.history, line)
	}
	if c.w != nil {
		switch level {
		case LevelDebug:
			_, _ = c.debugColor.Fprintln(c.w, text)
		case LevelError:
			_, _ = c.errorColor.Fprintln(c.w, text)
		default:
			_, _ = fmt.Fprintln(c.w, text)
		}
	}
	for _, fn := range c.listeners {
		fn(line)
	}
}
