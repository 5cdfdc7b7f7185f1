package orchd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	var m Metrics
	m.FramesReceived.Add(5)
	m.TasksSubmitted.Add(3)
	m.TasksDispatched.Add(3)
	m.TasksCompleted.Add(2)
	m.TasksFailed.Add(1)
	m.StatusRefused.Add(1)

	s := m.Snapshot()
	assert.Equal(t, uint64(5), s.FramesReceived)
	assert.Equal(t, uint64(3), s.TasksSubmitted)
	assert.Equal(t, uint64(1), s.InFlight())
	assert.Equal(t, uint64(1), s.StatusRefused)
}

func TestMetricsInFlightNeverUnderflows(t *testing.T) {
	s := MetricsSnapshot{TasksDispatched: 1, TasksCompleted: 2}
	assert.Equal(t, uint64(0), s.InFlight())
}

func TestMetricsString(t *testing.T) {
	var m Metrics
	m.TasksSubmitted.Add(7)

	out := m.Snapshot().String()
	assert.True(t, strings.Contains(out, "submitted=7"), "got %q", out)
	assert.True(t, strings.Contains(out, "in_flight=0"), "got %q", out)
}
