package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"lintwatch/internal/analysis"
	"lintwatch/internal/progress"
	"lintwatch/internal/ui"
)

type runOutcome struct {
	handle *analysis.TaskHandle
	err    error
}

// runWithProgress runs submit in the background while the progress view
// renders the events the indicator sends to raw. stop must be the Done
// channel of that sink; it is closed once submit returned.
func runWithProgress(title string, files []string, raw <-chan progress.Event, stop chan struct{}, cancel func(), submit func() (*analysis.TaskHandle, error)) (*analysis.TaskHandle, error) {
	events := make(chan progress.Event)
	uiDone := make(chan struct{})
	go forwardEvents(raw, events, stop, uiDone)

	outcomeCh := make(chan runOutcome, 1)
	go func() {
		h, err := submit()
		outcomeCh <- runOutcome{handle: h, err: err}
		close(stop)
	}()

	model := ui.NewProgressModel(title, files, events, cancel)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	_, uiErr := program.Run()
	close(uiDone)
	if uiErr != nil {
		cancel()
	}
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.handle, uiErr
	}
	return outcome.handle, outcome.err
}

// forwardEvents copies raw into events until stop, then closes events so the
// view quits. Once the view is gone events are drained and dropped.
func forwardEvents(raw <-chan progress.Event, events chan<- progress.Event, stop, uiDone <-chan struct{}) {
	defer close(events)
	for {
		select {
		case ev := <-raw:
			select {
			case events <- ev:
			case <-uiDone:
			}
		case <-stop:
			return
		}
	}
}
