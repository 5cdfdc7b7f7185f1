package task

import (
	"math"

	"golang.org/x/sys/unix"
)

// Stage identifies one of the recorded lifecycle timestamps of a task.
// Stamps set on a task are non-decreasing in this order.
type Stage int

const (
	// StageSent is the submitting client's clock at submission time. It is
	// the only stamp not taken on the server; it is comparable only against
	// StageArrived for the same message, both machines being the same one.
	StageSent Stage = iota
	// StageArrived is when the orchestrator received the submission.
	StageArrived
	// StageDispatched is when the task moved from the queue to a slot.
	StageDispatched
	// StageEnded is when the runner finished awaiting every stage.
	StageEnded
	// StageCompleted is when the orchestrator observed the completion.
	StageCompleted

	// NumStages is the number of recorded stages.
	NumStages
)

func (s Stage) String() string {
	switch s {
	case StageSent:
		return "sent"
	case StageArrived:
		return "arrived"
	case StageDispatched:
		return "dispatched"
	case StageEnded:
		return "ended"
	case StageCompleted:
		return "completed"
	}
	return "unknown"
}

// Stamp is a monotonic clock reading. The zero value means "not set";
// CLOCK_MONOTONIC starts at boot so a genuine all-zero reading cannot occur
// in practice.
type Stamp struct {
	Sec  int64
	Nsec int64
}

// Now reads the monotonic clock.
func Now() Stamp {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return Stamp{}
	}
	return Stamp{Sec: ts.Sec, Nsec: ts.Nsec}
}

// IsZero reports whether the stamp is unset.
func (s Stamp) IsZero() bool {
	return s.Sec == 0 && s.Nsec == 0
}

// Before reports whether s reads earlier than o.
func (s Stamp) Before(o Stamp) bool {
	if s.Sec != o.Sec {
		return s.Sec < o.Sec
	}
	return s.Nsec < o.Nsec
}

// MicrosSince returns the elapsed microseconds from earlier to s, or NaN
// when either stamp is unset.
func (s Stamp) MicrosSince(earlier Stamp) float64 {
	if s.IsZero() || earlier.IsZero() {
		return math.NaN()
	}
	sec := float64(s.Sec - earlier.Sec)
	nsec := float64(s.Nsec - earlier.Nsec)
	return sec*1e6 + nsec/1e3
}
