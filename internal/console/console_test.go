package console

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintwatch/internal/trace"
)

func TestDebugOnlyWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, WithColor(false))
	c.Debug("hidden")
	c.Info("Found 1 issue")
	assert.Equal(t, "Found 1 issue\n", buf.String())

	buf.Reset()
	v := New(&buf, WithColor(false), WithVerbose(true))
	v.Debug("Processed issues in 3 ms")
	assert.Equal(t, "Processed issues in 3 ms\n", buf.String())
}

func TestErrorMirroredToTracer(t *testing.T) {
	ring := trace.NewRingTracer(8, trace.LevelError)
	c := New(nil, WithTracer(ring), WithHistory(10))
	c.Error("Error running analysis", errors.New("tool crashed"))

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, LevelError, lines[0].Level)
	assert.Equal(t, "Error running analysis: tool crashed", lines[0].Text)

	events := ring.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "tool crashed", events[0].Detail)
}

func TestHistoryBoundedAndCleared(t *testing.T) {
	c := New(nil, WithHistory(2))
	c.Info("a")
	c.Info("b")
	c.Info("c")
	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "b", lines[0].Text)
	c.Clear()
	assert.Empty(t, c.Lines())
}

func TestListeners(t *testing.T) {
	c := Discard()
	var got []string
	c.OnLine(func(l Line) { got = append(got, l.Level.String()+":"+l.Text) })
	c.Info("x")
	c.Error("y", nil)
	assert.Equal(t, []string{"info:x", "error:y"}, got)
}

func TestNilConsole(t *testing.T) {
	var c *Console
	c.Info("x")
	c.Debug("x")
	c.Error("x", errors.New("y"))
	assert.Nil(t, c.Lines())
}
