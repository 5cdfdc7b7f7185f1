package orchd

import (
	"fmt"
	"sync/atomic"
)

// Metrics tracks operational statistics for a running orchestrator
type Metrics struct {
	// Transport counters
	FramesReceived atomic.Uint64 // Frames delivered to the message handler
	FramesDropped  atomic.Uint64 // Frames that failed to decode
	RepliesSent    atomic.Uint64 // Replies written back to clients
	ReplyFailures  atomic.Uint64 // Replies lost after retries

	// Task counters
	TasksSubmitted  atomic.Uint64 // Accepted submissions
	TasksDispatched atomic.Uint64 // Tasks moved from queue to a slot
	TasksCompleted  atomic.Uint64 // Completions observed and logged
	TasksFailed     atomic.Uint64 // Completions carrying the error bit
	ParseFailures   atomic.Uint64 // Submissions refused by the tokenizer

	// Status subprogram counters
	StatusServed  atomic.Uint64 // Status requests dispatched
	StatusRefused atomic.Uint64 // Status requests refused for capacity
}

// MetricsSnapshot is a point-in-time copy of all counters
type MetricsSnapshot struct {
	FramesReceived  uint64
	FramesDropped   uint64
	RepliesSent     uint64
	ReplyFailures   uint64
	TasksSubmitted  uint64
	TasksDispatched uint64
	TasksCompleted  uint64
	TasksFailed     uint64
	ParseFailures   uint64
	StatusServed    uint64
	StatusRefused   uint64
}

// Snapshot returns a consistent-enough copy for reporting
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FramesReceived:  m.FramesReceived.Load(),
		FramesDropped:   m.FramesDropped.Load(),
		RepliesSent:     m.RepliesSent.Load(),
		ReplyFailures:   m.ReplyFailures.Load(),
		TasksSubmitted:  m.TasksSubmitted.Load(),
		TasksDispatched: m.TasksDispatched.Load(),
		TasksCompleted:  m.TasksCompleted.Load(),
		TasksFailed:     m.TasksFailed.Load(),
		ParseFailures:   m.ParseFailures.Load(),
		StatusServed:    m.StatusServed.Load(),
		StatusRefused:   m.StatusRefused.Load(),
	}
}

// InFlight returns the number of dispatched tasks not yet completed
func (s MetricsSnapshot) InFlight() uint64 {
	if s.TasksCompleted > s.TasksDispatched {
		return 0
	}
	return s.TasksDispatched - s.TasksCompleted
}

// String renders the snapshot for a debug dump
func (s MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"frames=%d dropped=%d submitted=%d dispatched=%d completed=%d failed=%d parse_failures=%d status_served=%d status_refused=%d in_flight=%d",
		s.FramesReceived, s.FramesDropped, s.TasksSubmitted, s.TasksDispatched,
		s.TasksCompleted, s.TasksFailed, s.ParseFailures, s.StatusServed,
		s.StatusRefused, s.InFlight())
}
