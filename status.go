package orchd

import (
	"github.com/behrlich/go-orchd/internal/fifo"
	"github.com/behrlich/go-orchd/internal/joblog"
	"github.com/behrlich/go-orchd/internal/runner"
	"github.com/behrlich/go-orchd/internal/task"
	"github.com/behrlich/go-orchd/internal/wire"
)

// statusSnapshot is the immutable state a status stream works from. It is
// captured while the orchestrator loop handles the request, so the stream
// never races the schedulers: log records past logCount and scheduler
// changes after the capture are simply invisible to it.
type statusSnapshot struct {
	clientPID int
	logPath   string
	logCount  uint32
	running   []*task.Tagged
	queued    []*task.Tagged
}

// newStatusTask wraps a snapshot stream as a procedure task for the status
// scheduler.
func (s *Server) newStatusTask(clientPID int) *task.Tagged {
	running, queued := s.main.Snapshot()
	snap := &statusSnapshot{
		clientPID: clientPID,
		logPath:   s.log.Path(),
		logCount:  s.log.Count(),
		running:   running,
		queued:    queued,
	}
	return task.NewStatus(func(slot int) int {
		return s.streamStatus(snap, slot)
	})
}

// streamStatus sends the snapshot to the requesting client: completed tasks
// from the log, then the running slots, then the queue. It runs in its own
// goroutine and finishes with a completion notification so the orchestrator
// reclaims the status slot.
func (s *Server) streamStatus(snap *statusSnapshot, slot int) int {
	var failed bool
	sender := fifo.NewSender(fifo.ClientPath(snap.clientPID))

	// Acquire the send direction before streaming: even an empty snapshot
	// must open and close the client's FIFO so the client sees
	// end-of-stream instead of waiting for a writer forever.
	if err := sender.Open(); err != nil {
		s.logger.Error("cannot open status stream", "pid", snap.clientPID, "error", err)
		runner.NotifyDone(fifo.NewNotifier(), slot, task.Now(), 1)
		return 1
	}

	send := func(state wire.State, t *task.Tagged, errBit uint8) bool {
		payload, err := statusLine(state, t, errBit).Encode()
		if err != nil {
			s.logger.Error("status line not encodable", "id", t.ID, "error", err)
			failed = true
			return false
		}
		if err := sender.SendRetry(payload, ReplySendTries); err != nil {
			s.logger.Error("status stream broken", "pid", snap.clientPID, "error", err)
			failed = true
			return false
		}
		return true
	}

	err := joblog.ReplayFile(snap.logPath, snap.logCount, func(t *task.Tagged, errBit uint8) bool {
		return send(wire.StateDone, t, errBit)
	})
	if err != nil {
		s.logger.Error("log replay stopped", "error", err)
		failed = true
	}

	if !failed {
		for _, t := range snap.running {
			if !send(wire.StateExecuting, t, 0) {
				break
			}
		}
	}
	if !failed {
		for _, t := range snap.queued {
			if !send(wire.StateQueued, t, 0) {
				break
			}
		}
	}

	_ = sender.Close()

	var errBit uint8
	if failed {
		errBit = 1
	}
	runner.NotifyDone(fifo.NewNotifier(), slot, task.Now(), errBit)
	if failed {
		return 1
	}
	return 0
}

// statusLine derives one wire line from a task's recorded stamps. Each of
// the four durations is NaN unless both of its endpoints were recorded.
func statusLine(state wire.State, t *task.Tagged, errBit uint8) *wire.StatusLine {
	times := t.Times()
	return &wire.StatusLine{
		State:       state,
		ID:          t.ID,
		ErrBit:      errBit,
		PipeInUS:    times[task.StageArrived].MicrosSince(times[task.StageSent]),
		WaitingUS:   times[task.StageDispatched].MicrosSince(times[task.StageArrived]),
		ExecutingUS: times[task.StageEnded].MicrosSince(times[task.StageDispatched]),
		PipeOutUS:   times[task.StageCompleted].MicrosSince(times[task.StageEnded]),
		CommandLine: t.CommandLine,
	}
}
