// Package sched implements the fixed-capacity dispatch engine: a queue of
// pending tasks, ordered by the chosen policy, feeding a slot table of
// in-flight ones.
//
// A Scheduler is a single-threaded cooperative object. Every method must be
// called from the orchestrator's loop goroutine; runners communicate their
// completion by message, never by touching the scheduler.
package sched

import (
	"errors"
	"fmt"

	"github.com/behrlich/go-orchd/internal/logging"
	"github.com/behrlich/go-orchd/internal/pqueue"
	"github.com/behrlich/go-orchd/internal/task"
)

// Policy selects the total order of the pending queue.
type Policy int

const (
	// FCFS serves tasks in arrival order.
	FCFS Policy = iota
	// SJF serves the shortest expected duration first.
	SJF
)

// ParsePolicy maps a command-line policy name.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "fcfs":
		return FCFS, nil
	case "sjf":
		return SJF, nil
	}
	return 0, fmt.Errorf("sched: unknown policy %q", s)
}

func (p Policy) String() string {
	switch p {
	case FCFS:
		return "fcfs"
	case SJF:
		return "sjf"
	}
	return "unknown"
}

// less returns the policy's comparator.
func (p Policy) less() func(a, b *task.Tagged) bool {
	switch p {
	case SJF:
		return func(a, b *task.Tagged) bool {
			return a.ExpectedMS < b.ExpectedMS
		}
	default:
		// Arrival order; tasks lacking an arrival stamp compare equal.
		return func(a, b *task.Tagged) bool {
			at, aok := a.Time(task.StageArrived)
			bt, bok := b.Time(task.StageArrived)
			if !aok || !bok {
				return false
			}
			return at.Before(bt)
		}
	}
}

// ErrRange reports a slot index that is out of bounds or vacant.
var ErrRange = errors.New("sched: no occupied slot at index")

// StartFunc launches a runner for a dispatched task. It is handed ownership
// of the task and must eventually cause a completion notification for the
// slot. It returns the PID of the lead process, or 0 when the runner has no
// external process of its own.
type StartFunc func(t *task.Tagged, slot int) (pid int, err error)

type slot struct {
	pid  int
	task *task.Tagged // nil when vacant
}

// Scheduler owns a pending queue and a fixed table of execution slots.
type Scheduler struct {
	policy Policy
	queue  *pqueue.Queue[*task.Tagged]
	slots  []slot
	outDir string
	logger *logging.Logger
}

// New builds a scheduler with n slots writing task output under outDir.
func New(policy Policy, n int, outDir string) (*Scheduler, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sched: slot count %d out of range", n)
	}
	if outDir == "" {
		return nil, errors.New("sched: output directory not set")
	}
	return &Scheduler{
		policy: policy,
		queue:  pqueue.New(policy.less()),
		slots:  make([]slot, n),
		outDir: outDir,
		logger: logging.Default(),
	}, nil
}

// OutDir returns the directory task output files are created under.
func (s *Scheduler) OutDir() string {
	return s.outDir
}

// Policy returns the scheduling policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Add clone-inserts a task into the pending queue.
func (s *Scheduler) Add(t *task.Tagged) {
	s.queue.Push(t.Clone())
}

// CanScheduleNow reports whether any slot is vacant.
func (s *Scheduler) CanScheduleNow() bool {
	return s.vacantSlot() >= 0
}

// QueueLen returns the number of pending tasks.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}

// DispatchPossible moves tasks from the queue into vacant slots until one or
// the other runs out, launching a runner per task via start. It returns the
// number of tasks launched. A task whose runner cannot start is diagnosed
// and dropped, never requeued.
func (s *Scheduler) DispatchPossible(start StartFunc) int {
	launched := 0
	for s.queue.Len() > 0 {
		idx := s.vacantSlot()
		if idx < 0 {
			break
		}
		t, _ := s.queue.PopMin()
		t.StampNow(task.StageDispatched)
		pid, err := start(t, idx)
		if err != nil {
			s.logger.Error("dropping task, runner failed to start", "id", t.ID, "error", err)
			continue
		}
		s.slots[idx] = slot{pid: pid, task: t}
		launched++
	}
	return launched
}

// MarkDone records a completion for the given slot: stamps the task's end
// and completion times, vacates the slot and hands the task's ownership to
// the caller.
func (s *Scheduler) MarkDone(idx int, ended task.Stamp) (*task.Tagged, error) {
	if idx < 0 || idx >= len(s.slots) || s.slots[idx].task == nil {
		return nil, fmt.Errorf("%w: %d", ErrRange, idx)
	}
	t := s.slots[idx].task
	s.slots[idx] = slot{}
	t.SetTime(task.StageEnded, ended)
	t.StampNow(task.StageCompleted)
	return t, nil
}

// Running iterates the occupied slots. Iteration stops when fn returns
// false. The tasks stay owned by the scheduler.
func (s *Scheduler) Running(fn func(idx, pid int, t *task.Tagged) bool) {
	for i := range s.slots {
		if s.slots[i].task == nil {
			continue
		}
		if !fn(i, s.slots[i].pid, s.slots[i].task) {
			return
		}
	}
}

// Queued iterates the pending tasks in arbitrary heap order.
func (s *Scheduler) Queued(fn func(t *task.Tagged) bool) {
	s.queue.Each(fn)
}

// Snapshot deep-copies the running and queued tasks, in that grouping, for
// a reader that outlives this call's locking discipline (the status
// streamer works exclusively from such a snapshot).
func (s *Scheduler) Snapshot() (running, queued []*task.Tagged) {
	s.Running(func(_, _ int, t *task.Tagged) bool {
		running = append(running, t.Clone())
		return true
	})
	s.Queued(func(t *task.Tagged) bool {
		queued = append(queued, t.Clone())
		return true
	})
	return running, queued
}

func (s *Scheduler) vacantSlot() int {
	for i := range s.slots {
		if s.slots[i].task == nil {
			return i
		}
	}
	return -1
}
