package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLevelFiltersScopes(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeSession, false},
		{LevelError, ScopeSession, false},
		{LevelPhase, ScopeTask, true},
		{LevelPhase, ScopeFile, false},
		{LevelDetail, ScopeFile, true},
		{LevelDetail, ScopeIssue, false},
		{LevelDebug, ScopeIssue, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(KindPoint, tc.scope); got != tc.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
	if !LevelError.ShouldEmit(KindError, ScopeIssue) {
		t.Fatalf("errors must pass LevelError")
	}
}

func TestStreamTracerNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatNDJSON)
	ctx := WithTracer(context.Background(), tr)

	ctx, task := Start(ctx, ScopeTask, "analysis")
	_, inner := Start(ctx, ScopeTask, "engine")
	inner.End("ok")
	task.WithExtra("files", "2").End("")
	Point(tr, ScopeFile, "skipped", "below level", task.ID())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	var ev jsonEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Name != "engine" || ev.ParentID != task.ID() {
		t.Fatalf("inner span = %+v, parent want %d", ev, task.ID())
	}
	if err := json.Unmarshal([]byte(lines[3]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != "end" || ev.Extra["files"] != "2" {
		t.Fatalf("end event = %+v", ev)
	}
}

func TestRingTracerWraps(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for i := 0; i < 5; i++ {
		Point(r, ScopeIssue, "p", string(rune('a'+i)), 0)
	}
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d", len(snap))
	}
	if snap[0].Detail != "c" || snap[2].Detail != "e" {
		t.Fatalf("order = %q %q %q", snap[0].Detail, snap[1].Detail, snap[2].Detail)
	}
	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatText); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), "\n") != 3 {
		t.Fatalf("dump = %q", buf.String())
	}
}

func TestMultiTracerAndError(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelError, Mode: ModeBoth, Output: &buf, Format: FormatText})
	if err != nil {
		t.Fatal(err)
	}
	Begin(tr, ScopeSession, "ignored", 0).End("")
	Error(tr, "analysis", errors.New("boom"), 0)
	if !strings.Contains(buf.String(), "! analysis (boom)") {
		t.Fatalf("output = %q", buf.String())
	}
	multi, ok := tr.(*MultiTracer)
	if !ok || len(multi.Ring().Snapshot()) != 1 {
		t.Fatalf("ring did not receive the error")
	}
}

func TestNewOffIsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("New(off) = %v, %v", tr, err)
	}
	s := Begin(tr, ScopeSession, "x", 0)
	if s.ID() != 0 {
		t.Fatalf("disabled span has id")
	}
	if FromContext(context.Background()) != Nop {
		t.Fatalf("FromContext default is not Nop")
	}
}

func TestHeartbeatStops(t *testing.T) {
	r := NewRingTracer(16, LevelPhase)
	h := StartHeartbeat(r, time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for len(r.Snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Stop()
	h.Stop()
	if len(r.Snapshot()) == 0 {
		t.Fatalf("no heartbeat recorded")
	}
}

func TestHeartbeatCarriesSessionState(t *testing.T) {
	r := NewRingTracer(64, LevelPhase)
	h := StartHeartbeat(r, time.Millisecond)
	defer h.Stop()
	ctx := WithHeartbeat(context.Background(), h)
	if HeartbeatFromContext(ctx) != h {
		t.Fatalf("heartbeat not found in context")
	}
	HeartbeatFromContext(ctx).Describe(func() string { return "analysis=running queued=2" })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range r.Snapshot() {
			if strings.HasSuffix(ev.Detail, " analysis=running queued=2") {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no heartbeat carried the described state")
}

func TestHeartbeatFromEmptyContext(t *testing.T) {
	h := HeartbeatFromContext(context.Background())
	if h != nil {
		t.Fatalf("unexpected heartbeat %v", h)
	}
	h.Describe(func() string { return "ignored" })
	if WithHeartbeat(context.Background(), nil).Value(heartbeatCtxKey{}) != nil {
		t.Fatalf("nil heartbeat stored")
	}
}

func TestParse(t *testing.T) {
	if l, err := ParseLevel("DETAIL"); err != nil || l != LevelDetail {
		t.Fatalf("ParseLevel = %v, %v", l, err)
	}
	if _, err := ParseMode("disk"); err == nil {
		t.Fatalf("ParseMode accepted disk")
	}
	if f, err := ParseFormat("ndjson"); err != nil || f != FormatNDJSON {
		t.Fatalf("ParseFormat = %v, %v", f, err)
	}
}
