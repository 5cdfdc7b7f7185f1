// Package task defines parsed jobs and the identity and timing metadata the
// orchestrator attaches to them.
package task

import (
	"errors"

	"github.com/behrlich/go-orchd/internal/shlex"
)

// Program is the argv of a single pipeline stage. The first element is the
// executable name and is always present.
type Program []string

// Clone returns an independent copy of the argv.
func (p Program) Clone() Program {
	out := make(Program, len(p))
	copy(out, p)
	return out
}

// Proc is the payload of a procedure task. It runs in its own goroutine,
// receives the slot it occupies, and returns an exit code. The procedure is
// responsible for its own completion notification.
type Proc func(slot int) int

// ProcCommandLine is the command line recorded for procedure tasks.
const ProcCommandLine = "status"

// Task is either a pipeline of programs or a procedure reference. Pipelines
// clone by deep copy; procedures clone by reference.
type Task struct {
	pipeline []Program
	proc     Proc
}

// NewPipeline builds a pipeline task. The stage list must be non-empty.
func NewPipeline(stages []Program) Task {
	return Task{pipeline: stages}
}

// NewProc builds a procedure task.
func NewProc(fn Proc) Task {
	return Task{proc: fn}
}

// IsProc reports whether the task is a procedure reference.
func (t Task) IsProc() bool {
	return t.proc != nil
}

// Pipeline returns the pipeline stages. Nil for procedure tasks.
func (t Task) Pipeline() []Program {
	return t.pipeline
}

// Proc returns the procedure. Nil for pipeline tasks.
func (t Task) Proc() Proc {
	return t.proc
}

// Clone deep-copies a pipeline task; a procedure task shares its reference.
func (t Task) Clone() Task {
	if t.proc != nil {
		return t
	}
	stages := make([]Program, len(t.pipeline))
	for i, p := range t.pipeline {
		stages[i] = p.Clone()
	}
	return Task{pipeline: stages}
}

// ErrNotSinglestage reports a pipeline where exactly one program was
// required.
var ErrNotSinglestage = errors.New("task: command must be a single program")

// Tagged is a task bundled with the identity, expected duration and
// timestamps the orchestrator tracks for it.
type Tagged struct {
	ID          uint32
	CommandLine string
	ExpectedMS  uint32

	task  Task
	times [NumStages]Stamp
}

// New wraps a task with its command line and expected duration. The ID is
// assigned later by the orchestrator.
func New(t Task, commandLine string, expectedMS uint32) *Tagged {
	return &Tagged{
		CommandLine: commandLine,
		ExpectedMS:  expectedMS,
		task:        t,
	}
}

// ParseCommand tokenizes commandLine and wraps the result. With singleStage
// set, a pipeline of more than one program is rejected; the error then, like
// any tokenizer error, indicates a bad command rather than an internal
// failure.
func ParseCommand(commandLine string, expectedMS uint32, singleStage bool) (*Tagged, error) {
	stages, err := shlex.Split(commandLine)
	if err != nil {
		return nil, err
	}
	if singleStage && len(stages) != 1 {
		return nil, ErrNotSinglestage
	}
	progs := make([]Program, len(stages))
	for i, argv := range stages {
		progs[i] = Program(argv)
	}
	return New(NewPipeline(progs), commandLine, expectedMS), nil
}

// NewStatus wraps a procedure as a tagged task with the fixed placeholder
// command line.
func NewStatus(fn Proc) *Tagged {
	return New(NewProc(fn), ProcCommandLine, 0)
}

// Task returns the wrapped task.
func (t *Tagged) Task() Task {
	return t.task
}

// Clone returns an independent copy. Pipeline payloads are deep-copied.
func (t *Tagged) Clone() *Tagged {
	out := *t
	out.task = t.task.Clone()
	return &out
}

// Time returns the stamp for a stage and whether it has been set.
func (t *Tagged) Time(s Stage) (Stamp, bool) {
	if s < 0 || s >= NumStages {
		return Stamp{}, false
	}
	st := t.times[s]
	return st, !st.IsZero()
}

// SetTime records a stamp for a stage. An unset (zero) stamp clears it.
func (t *Tagged) SetTime(s Stage, st Stamp) {
	if s < 0 || s >= NumStages {
		return
	}
	t.times[s] = st
}

// StampNow records the current monotonic clock for a stage.
func (t *Tagged) StampNow(s Stage) {
	t.SetTime(s, Now())
}

// Times returns all stage stamps in stage order. Unset stages are zero.
func (t *Tagged) Times() [NumStages]Stamp {
	return t.times
}

// SetTimes restores all stage stamps at once, as read back from the log.
func (t *Tagged) SetTimes(times [NumStages]Stamp) {
	t.times = times
}
