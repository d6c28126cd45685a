package analysis

import (
	"sync"

	"lintwatch/internal/progress"
)

// CancelToken joins the indicator's and the status's cancellation into one signal.
type CancelToken struct {
	ind    progress.Indicator
	status *Status
	done   chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// NewCancelToken watches ind and status until Close.
func NewCancelToken(ind progress.Indicator, status *Status) *CancelToken {
	t := &CancelToken{
		ind:    ind,
		status: status,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go t.watch(status.Canceled())
	return t
}

func (t *CancelToken) watch(statusCanceled <-chan struct{}) {
	select {
	case <-t.ind.Done():
	case <-statusCanceled:
	case <-t.stop:
		return
	}
	close(t.done)
}

// Canceled reports whether either authority canceled.
func (t *CancelToken) Canceled() bool {
	return t.ind.IsCanceled() || t.status.IsCanceled()
}

// Done is closed once either authority cancels; it stays open after Close.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Close releases the watching goroutine.
func (t *CancelToken) Close() {
	t.once.Do(func() { close(t.stop) })
}
