package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintwatch/internal/job"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

type recorder struct{ msgs []string }

func (r *recorder) Error(msg string, err error) { r.msgs = append(r.msgs, msg+": "+err.Error()) }

func testJob(t *testing.T) *job.Job {
	t.Helper()
	ws := vfs.New()
	f, err := ws.Open("/m/a.go", "")
	require.NoError(t, err)
	j, err := job.New(project.New("m", "/m", nil), []*vfs.File{f}, job.TriggerAction)
	require.NoError(t, err)
	return j
}

func TestDeliveryOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.Connect().OnAnalysisEnded(func(*job.Job) { order = append(order, "first") })
	bus.Connect().
		OnAnalysisEnded(func(*job.Job) { order = append(order, "second.a") }).
		OnAnalysisEnded(func(*job.Job) { order = append(order, "second.b") })

	bus.PublishAnalysisEnded(testJob(t))
	assert.Equal(t, []string{"first", "second.a", "second.b"}, order)
}

func TestDisconnectAndClose(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	c := bus.Connect().OnIssuesChanged(func([]*vfs.File) { calls++ })
	bus.PublishIssuesChanged(nil)
	c.Disconnect()
	c.Disconnect()
	bus.PublishIssuesChanged(nil)
	assert.Equal(t, 1, calls)

	bus.Connect().OnStatusChanged(func(StatusChanged) { calls++ })
	bus.Close()
	bus.PublishStatusChanged(StatusChanged{From: "stopped", To: "running"})
	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Connections())

	bus.Connect().OnStatusChanged(func(StatusChanged) { calls++ })
	bus.PublishStatusChanged(StatusChanged{})
	assert.Equal(t, 1, calls)
}

func TestPanickingListenerIsRecovered(t *testing.T) {
	rec := &recorder{}
	bus := NewBus(rec)
	reached := false
	bus.Connect().OnAnalysisEnded(func(*job.Job) { panic(errors.New("bad listener")) })
	bus.Connect().OnAnalysisEnded(func(*job.Job) { reached = true })

	bus.PublishAnalysisEnded(testJob(t))
	assert.True(t, reached)
	require.Len(t, rec.msgs, 1)
	assert.Contains(t, rec.msgs[0], "bad listener")
}
