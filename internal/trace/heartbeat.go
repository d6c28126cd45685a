package trace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Heartbeat periodically emits heartbeat events. Heartbeats without span ends
// in between point at a stuck analyzer; the describer adds the session state
// to each beat so a stuck run shows what it was waiting on.
type Heartbeat struct {
	tracer   Tracer
	interval time.Duration
	describe atomic.Pointer[func() string]
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartHeartbeat starts the heartbeat goroutine; it returns nil when tracing is off.
func StartHeartbeat(tracer Tracer, interval time.Duration) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{
		tracer:   tracer,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Heartbeat) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	beat := 0
	for {
		select {
		case <-ticker.C:
			beat++
			detail := fmt.Sprintf("#%d", beat)
			if fn := h.describe.Load(); fn != nil {
				if state := (*fn)(); state != "" {
					detail += " " + state
				}
			}
			h.tracer.Emit(&Event{
				Time:   time.Now(),
				Seq:    NextSeq(),
				Kind:   KindHeartbeat,
				Scope:  ScopeSession,
				GID:    goroutineID(),
				Name:   "heartbeat",
				Detail: detail,
			})
		case <-h.stopCh:
			return
		}
	}
}

// Describe sets the function whose result is appended to every later beat.
// It runs on the heartbeat goroutine.
func (h *Heartbeat) Describe(fn func() string) {
	if h == nil || fn == nil {
		return
	}
	h.describe.Store(&fn)
}

type heartbeatCtxKey struct{}

// WithHeartbeat attaches h to ctx so later setup code can describe the session.
func WithHeartbeat(ctx context.Context, h *Heartbeat) context.Context {
	if h == nil {
		return ctx
	}
	return context.WithValue(ctx, heartbeatCtxKey{}, h)
}

// HeartbeatFromContext returns the heartbeat stored by WithHeartbeat, or nil.
func HeartbeatFromContext(ctx context.Context) *Heartbeat {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(heartbeatCtxKey{}).(*Heartbeat)
	return h
}

// Stop ends the goroutine and waits for it. Safe to call more than once.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}
