package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintwatch/internal/issue"
	"lintwatch/internal/vfs"
)

type recordingPublisher struct {
	calls [][]*vfs.File
}

func (p *recordingPublisher) PublishIssuesChanged(files []*vfs.File) {
	p.calls = append(p.calls, files)
}

type recordingErrors struct {
	msgs []string
}

func (r *recordingErrors) Error(msg string, _ error) { r.msgs = append(r.msgs, msg) }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func live(t *testing.T, ws *vfs.Workspace, f *vfs.File, line int, rule, msg string) *issue.LiveIssue {
	t.Helper()
	raw := &issue.RawIssue{File: issue.NewInputFile(f), StartLine: line, RuleKey: rule, Message: msg}
	var anchor *vfs.RangeMarker
	if line > 0 {
		m, err := issue.NewDocumentMatcher(ws).Match(f, raw)
		require.NoError(t, err)
		anchor = m
	}
	return issue.NewLive(f, raw, anchor)
}

func TestFirstAnalysisHasNoCreationDate(t *testing.T) {
	ws := vfs.New()
	f, _ := ws.Open("/m/a.go", "x := 1\n")
	pub := &recordingPublisher{}
	s := New(WithPublisher(pub), WithClock(func() time.Time { return fixedNow }))

	li := live(t, ws, f, 1, "r1", "msg")
	s.Store(context.Background(), map[*vfs.File][]*issue.LiveIssue{f: {li}})

	got := s.Issues(f)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].CreationDate)
	assert.Equal(t, issue.LifecycleNew, got[0].Lifecycle)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, []*vfs.File{f}, pub.calls[0])
}

func TestTrackingAcrossRuns(t *testing.T) {
	ws := vfs.New()
	f, _ := ws.Open("/m/a.go", "a := 1\nb := 2\n")
	s := New(WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	first := live(t, ws, f, 1, "r1", "first")
	first.Assignee = "dev"
	s.Store(ctx, map[*vfs.File][]*issue.LiveIssue{f: {first, live(t, ws, f, 2, "r2", "gone")}})

	require.NoError(t, ws.Edit(f.Path(), 0, 0, "// header\n"))
	moved := live(t, ws, f, 2, "r1", "first")
	added := live(t, ws, f, 1, "r3", "fresh")
	s.Store(ctx, map[*vfs.File][]*issue.LiveIssue{f: {moved, added}})

	got := s.Issues(f)
	require.Len(t, got, 2)
	assert.Equal(t, issue.LifecycleExisting, got[0].Lifecycle)
	assert.Equal(t, "dev", got[0].Assignee)
	assert.Nil(t, got[0].CreationDate)

	assert.Equal(t, issue.LifecycleNew, got[1].Lifecycle)
	require.NotNil(t, got[1].CreationDate)
	assert.Equal(t, fixedNow, *got[1].CreationDate)

	resolved := s.Resolved(f)
	require.Len(t, resolved, 1)
	assert.Equal(t, "gone", resolved[0].Message)
	assert.Equal(t, 2, f.MarkerCount(), "markers of replaced issues must be disposed")
}

func TestMatchFallsBackToMessage(t *testing.T) {
	next := []*issue.LiveIssue{
		{RuleKey: "r", LineHash: "new", Message: "same"},
		{RuleKey: "r", LineHash: "h2", Message: "other"},
	}
	prev := []Record{
		{RuleKey: "r", LineHash: "h2", Message: "x"},
		{RuleKey: "r", LineHash: "old", Message: "same"},
		{RuleKey: "q", LineHash: "new", Message: "same"},
	}
	pairs, unmatched := Match(next, prev)
	if diff := cmp.Diff([]int{1, 0}, pairs); diff != "" {
		t.Fatalf("pairs (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{2}, unmatched)
}

func TestStoreReplacesOnlyGivenFiles(t *testing.T) {
	ws := vfs.New()
	a, _ := ws.Open("/m/a.go", "a\n")
	b, _ := ws.Open("/m/b.go", "b\n")
	s := New()
	ctx := context.Background()
	s.Store(ctx, map[*vfs.File][]*issue.LiveIssue{a: {live(t, ws, a, 1, "r", "a")}, b: {live(t, ws, b, 1, "r", "b")}})
	s.Store(ctx, map[*vfs.File][]*issue.LiveIssue{a: {}})

	assert.Empty(t, s.Issues(a))
	assert.True(t, s.Has(a))
	assert.Len(t, s.Issues(b), 1)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []*vfs.File{a, b}, s.Files())
}

func TestClearForgetsFile(t *testing.T) {
	ws := vfs.New()
	f, _ := ws.Open("/m/a.go", "a\n")
	pub := &recordingPublisher{}
	s := New(WithPublisher(pub))
	s.Store(context.Background(), map[*vfs.File][]*issue.LiveIssue{f: {live(t, ws, f, 1, "r", "m")}})
	s.Clear(f)
	assert.False(t, s.Has(f))
	assert.Equal(t, 0, f.MarkerCount())
	assert.Len(t, pub.calls, 2)
}

func TestUpdateTracked(t *testing.T) {
	ws := vfs.New()
	f, _ := ws.Open("/m/a.go", "a\n")
	s := New()
	s.Store(context.Background(), map[*vfs.File][]*issue.LiveIssue{f: {live(t, ws, f, 1, "r", "m")}})

	ok := s.UpdateTracked(f, func(li *issue.LiveIssue) { li.ServerKey = "AX-1" })
	require.True(t, ok)
	assert.Equal(t, "AX-1", s.Issues(f)[0].ServerKey)

	other, _ := ws.Open("/m/b.go", "b\n")
	assert.False(t, s.UpdateTracked(other, func(*issue.LiveIssue) {}))
}

func TestIssuesReturnsCopies(t *testing.T) {
	ws := vfs.New()
	f, _ := ws.Open("/m/a.go", "a\n")
	s := New()
	s.Store(context.Background(), map[*vfs.File][]*issue.LiveIssue{f: {live(t, ws, f, 1, "r", "m")}})
	s.Issues(f)[0].Message = "changed"
	assert.Equal(t, "m", s.Issues(f)[0].Message)
}

func TestPersistedTrackingSurvivesRestart(t *testing.T) {
	p, err := OpenPersister(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ws := vfs.New()
	f, _ := ws.Open("/m/a.go", "value := 1\n")
	first := New(WithPersister(p), WithClock(func() time.Time { return fixedNow }))
	li := live(t, ws, f, 1, "r", "m")
	li.ServerKey = "AX-9"
	first.Store(ctx, map[*vfs.File][]*issue.LiveIssue{f: {li}})

	ws2 := vfs.New()
	f2, _ := ws2.Open("/m/a.go", "value := 1\n")
	second := New(WithPersister(p), WithClock(func() time.Time { return fixedNow.Add(time.Hour) }))
	second.Store(ctx, map[*vfs.File][]*issue.LiveIssue{f2: {live(t, ws2, f2, 1, "r", "m"), live(t, ws2, f2, 1, "r2", "new")}})

	got := second.Issues(f2)
	require.Len(t, got, 2)
	assert.Equal(t, issue.LifecycleExisting, got[0].Lifecycle)
	assert.Equal(t, "AX-9", got[0].ServerKey)
	require.NotNil(t, got[1].CreationDate)
	assert.Equal(t, fixedNow.Add(time.Hour), *got[1].CreationDate)
}

func TestPersisterRoundTripAndDelete(t *testing.T) {
	p, err := OpenPersister(t.TempDir())
	require.NoError(t, err)
	created := fixedNow
	want := []Record{{RuleKey: "r", LineHash: "abc", Message: "m", Line: 3, Severity: "major", CreationDate: &created}}
	require.NoError(t, p.Save("/m/a.go", want))
	require.NoError(t, p.Save("/m/b.go", nil))

	got, ok, err := p.Load("/m/a.go")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}

	all, err := p.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/m/a.go", all[0].Path)

	require.NoError(t, p.Delete("/m/a.go"))
	_, ok, err = p.Load("/m/a.go")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, p.Delete("/m/a.go"))
}

func TestNilPersisterIsNoop(t *testing.T) {
	var p *Persister
	require.NoError(t, p.Save("/x", nil))
	_, ok, err := p.Load("/x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistErrorsAreReported(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPersister(dir)
	require.NoError(t, err)
	p.dir = dir + "/missing/sub"
	errs := &recordingErrors{}
	ws := vfs.New()
	f, _ := ws.Open("/m/a.go", "a\n")
	s := New(WithPersister(p), WithErrorReporter(errs))
	s.Store(context.Background(), map[*vfs.File][]*issue.LiveIssue{f: {}})
	require.Len(t, errs.msgs, 1)
	assert.Equal(t, "Failed to persist issues of /m/a.go", errs.msgs[0])
}
