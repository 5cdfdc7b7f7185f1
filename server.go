// Package orchd implements a local task-orchestration service: a
// long-running orchestrator that accepts job submissions over named-pipe
// IPC, schedules them under a fixed concurrency cap, runs each job as a
// subprocess pipeline, persists completions to an append-only log, and
// answers status queries merging historical and live state.
package orchd

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-orchd/internal/fifo"
	"github.com/behrlich/go-orchd/internal/joblog"
	"github.com/behrlich/go-orchd/internal/logging"
	"github.com/behrlich/go-orchd/internal/runner"
	"github.com/behrlich/go-orchd/internal/sched"
	"github.com/behrlich/go-orchd/internal/task"
	"github.com/behrlich/go-orchd/internal/wire"
)

// Config holds the orchestrator's startup parameters.
type Config struct {
	// OutDir receives the completion log and per-task output captures.
	OutDir string

	// Slots is the concurrency cap for submitted tasks.
	Slots int

	// Policy orders the pending queue.
	Policy sched.Policy

	// StatusSlots caps concurrent status streams. Defaults to
	// DefaultStatusSlots.
	StatusSlots int
}

// Server is the orchestrator. It owns the well-known FIFO, both schedulers
// and the completion log. All scheduling state is confined to the goroutine
// running Run; runners report back by message only.
type Server struct {
	cfg     Config
	conn    *fifo.Conn
	log     *joblog.Log
	main    *sched.Scheduler
	status  *sched.Scheduler
	nextID  uint32
	metrics Metrics
	logger  *logging.Logger
	stop    atomic.Bool
}

// NewServer validates the configuration and claims the process-wide
// resources: the output directory, the completion log and the server FIFO.
func NewServer(cfg Config) (*Server, error) {
	if cfg.StatusSlots <= 0 {
		cfg.StatusSlots = DefaultStatusSlots
	}

	main, err := sched.New(cfg.Policy, cfg.Slots, cfg.OutDir)
	if err != nil {
		return nil, WrapError("STARTUP", ErrCodeInvalidArgument, err)
	}
	// Status requests are served FCFS whatever the main policy is.
	status, err := sched.New(sched.FCFS, cfg.StatusSlots, cfg.OutDir)
	if err != nil {
		return nil, WrapError("STARTUP", ErrCodeInvalidArgument, err)
	}

	log, err := joblog.Open(filepath.Join(cfg.OutDir, LogFileName), true)
	if err != nil {
		return nil, WrapError("STARTUP", ErrCodeFatalStartup, err)
	}

	conn, err := fifo.NewServer()
	if err != nil {
		_ = log.Close()
		if errors.Is(err, fifo.ErrAlreadyRunning) {
			return nil, WrapError("STARTUP", ErrCodeAlreadyExists, err)
		}
		return nil, WrapError("STARTUP", ErrCodeFatalStartup, err)
	}

	return &Server{
		cfg:    cfg,
		conn:   conn,
		log:    log,
		main:   main,
		status: status,
		nextID: 1,
		logger: logging.Default(),
	}, nil
}

// Metrics returns a snapshot of the server's counters.
func (s *Server) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Run drives the receive loop until Shutdown. Pending tasks are dispatched
// between receive cycles, whenever the stream of connected writers drains.
func (s *Server) Run() error {
	_, err := s.conn.Listen(s.onMessage, s.onIdle)
	if err != nil {
		return WrapError("LISTEN", ErrCodeIOError, err)
	}
	s.logger.Info("orchestrator stopping", "metrics", s.metrics.Snapshot())
	return nil
}

// Shutdown asks the receive loop to exit at its next idle point. Tasks
// already running keep running; their completions are lost with the loop.
func (s *Server) Shutdown() {
	s.stop.Store(true)
	// Wake the loop if it is blocked waiting for a writer. The open must
	// not block: once the loop has exited there is no reader left, and a
	// blocking open would never return.
	for i := 0; i < 100; i++ {
		f, err := os.OpenFile(fifo.ServerPath(), os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			_ = f.Close()
			return
		}
		if !errors.Is(err, unix.ENXIO) {
			return
		}
		// No reader right now: the loop is between receive cycles. Give it
		// a moment to either reopen or observe the stop flag.
		time.Sleep(10 * time.Millisecond)
	}
}

// Close releases the FIFO and the completion log.
func (s *Server) Close() error {
	err := s.conn.Close()
	if lerr := s.log.Close(); err == nil {
		err = lerr
	}
	return err
}

func (s *Server) onIdle() int {
	if s.stop.Load() {
		return 1
	}
	if n := s.main.DispatchPossible(s.startTask); n > 0 {
		s.metrics.TasksDispatched.Add(uint64(n))
		s.logger.Debug("dispatched pending tasks", "count", n)
	}
	return 0
}

func (s *Server) onMessage(payload []byte) {
	s.metrics.FramesReceived.Add(1)
	msg, err := wire.DecodeRequest(payload)
	if err != nil {
		s.metrics.FramesDropped.Add(1)
		s.logger.Error("dropping malformed message", "error", err)
		return
	}

	switch m := msg.(type) {
	case *wire.Submit:
		s.handleSubmit(m)
	case *wire.TaskDone:
		s.handleDone(m)
	case *wire.StatusRequest:
		s.handleStatus(m)
	}
}

func (s *Server) handleSubmit(m *wire.Submit) {
	t, err := task.ParseCommand(m.CommandLine, m.ExpectedMS, !m.Pipeline)
	if err != nil {
		s.metrics.ParseFailures.Add(1)
		s.logger.Debug("refusing unparsable command", "pid", m.PID, "error", err)
		s.reply(int(m.PID), (&wire.ErrorReply{Msg: "Parsing failure!"}).Encode())
		return
	}

	t.SetTime(task.StageSent, m.Sent)
	t.StampNow(task.StageArrived)
	t.ID = s.nextID
	s.nextID++

	s.main.Add(t)
	s.metrics.TasksSubmitted.Add(1)
	s.logger.Info("task accepted", "id", t.ID, "pid", m.PID, "expected_ms", m.ExpectedMS)
	s.reply(int(m.PID), (&wire.TaskIDReply{ID: t.ID}).Encode())
}

func (s *Server) handleDone(m *wire.TaskDone) {
	target := s.main
	if m.IsStatus {
		target = s.status
	}

	t, err := target.MarkDone(int(m.Slot), m.Ended)
	if err != nil {
		s.logger.Error("dropping completion for unknown slot",
			"slot", m.Slot, "is_status", m.IsStatus, "error", err)
		return
	}

	if m.IsStatus {
		s.logger.Debug("status stream finished", "slot", m.Slot)
		return
	}

	if err := s.log.Append(t, m.ErrBit); err != nil {
		s.logger.Error("completion not persisted", "id", t.ID, "error", err)
	}
	s.metrics.TasksCompleted.Add(1)
	if m.ErrBit != 0 {
		s.metrics.TasksFailed.Add(1)
	}
	s.logger.Info("task completed", "id", t.ID, "error", m.ErrBit)
}

func (s *Server) handleStatus(m *wire.StatusRequest) {
	if !s.status.CanScheduleNow() {
		s.metrics.StatusRefused.Add(1)
		s.logger.Warn("refusing status request, no free status slot", "pid", m.PID)
		s.reply(int(m.PID), (&wire.ErrorReply{Msg: "No capacity available!"}).Encode())
		return
	}

	s.status.Add(s.newStatusTask(int(m.PID)))
	// Status streams never queue: the request was admitted only because a
	// slot was free, so this dispatch always launches it.
	s.status.DispatchPossible(s.startTask)
	s.metrics.StatusServed.Add(1)
}

// startTask launches a runner for a dispatched task of either scheduler.
func (s *Server) startTask(t *task.Tagged, slot int) (int, error) {
	return runner.Start(t, slot, s.cfg.OutDir, fifo.NewNotifier())
}

// reply sends one frame back to a client, binding and releasing the send
// direction around it.
func (s *Server) reply(pid int, payload []byte) {
	if err := s.conn.OpenSending(pid); err != nil {
		s.metrics.ReplyFailures.Add(1)
		s.logger.Error("cannot open reply path", "pid", pid, "error", err)
		return
	}
	defer s.conn.CloseSending()

	if err := s.conn.SendRetry(payload, ReplySendTries); err != nil {
		s.metrics.ReplyFailures.Add(1)
		s.logger.Error("reply lost", "pid", pid, "error", err)
		return
	}
	s.metrics.RepliesSent.Add(1)
}
