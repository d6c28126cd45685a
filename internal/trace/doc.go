// Package trace records spans and point events of analysis runs.
//
// Tracing is meant for diagnosing slow or stuck analyses: which task was
// running, which tool it waited on, whether the watchdog fired.
//
// # Usage
//
//	lintwatch analyze --trace=- --trace-level=detail ./...
//
// # Tracers
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: writes every event immediately (file/stderr)
//   - RingTracer: keeps the last N events for dumps on failure
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// LevelPhase emits session and task boundaries, LevelDetail adds per-file
// events, LevelDebug adds per-issue events. LevelError emits only errors.
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeTask, "analysis", 0)
//	defer span.End("")
package trace
