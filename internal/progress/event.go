package progress

import "time"

// Stage describes a phase of an analysis task.
type Stage string

const (
	StageAnalyze Stage = "analyze"
	StageProcess Stage = "process"
)

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusWorking  Status = "working"
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Event reports progress for a file, or for the whole task when File is empty.
type Event struct {
	File     string
	Stage    Stage
	Status   Status
	Text     string
	Fraction float64 // < 0 when indeterminate
	Err      error
	Elapsed  time.Duration
	// NonCancelable is set while results are being applied.
	NonCancelable bool
}

// Sink consumes progress events.
type Sink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel. Sends give up once Done is closed.
type ChannelSink struct {
	Ch   chan<- Event
	Done <-chan struct{}
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	select {
	case s.Ch <- evt:
	case <-s.Done:
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(evt Event) { f(evt) }
