// Package runner executes one dispatched task: it spawns the pipeline's
// stages as subprocesses, awaits them all, and reports completion back to
// the orchestrator over the FIFO transport.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/behrlich/go-orchd/internal/logging"
	"github.com/behrlich/go-orchd/internal/task"
	"github.com/behrlich/go-orchd/internal/wire"
)

// DoneSendTries bounds the completion notification's send attempts. A lost
// notification loses the slot forever.
const DoneSendTries = 16

const outFileMode = 0o640

// Notifier delivers completion frames to the orchestrator. Satisfied by
// *fifo.Sender.
type Notifier interface {
	SendRetry(payload []byte, maxTries int) error
	Close() error
}

// Start launches the task occupying the given slot and returns the lead
// stage's PID (0 when no stage started or the task is a procedure).
// Once Start returns without error, completion is always reported on n from
// a background goroutine, whatever happens to the stages. When it returns an
// error (a pipe between stages could not be created), no stage was started
// and nothing is reported.
//
// Procedure tasks are invoked directly; they own their completion protocol,
// so n is unused for them.
func Start(t *task.Tagged, slot int, outDir string, n Notifier) (int, error) {
	if t.Task().IsProc() {
		proc := t.Task().Proc()
		go proc(slot)
		return 0, nil
	}
	return startPipeline(t, slot, outDir, n)
}

func startPipeline(t *task.Tagged, slot int, outDir string, n Notifier) (int, error) {
	stdout := openCapture(filepath.Join(outDir, fmt.Sprintf("%d.out", t.ID)), os.Stdout)
	stderr := openCapture(filepath.Join(outDir, fmt.Sprintf("%d.err", t.ID)), os.Stderr)

	stages := t.Task().Pipeline()
	cmds := make([]*exec.Cmd, len(stages))
	var parentEnds []*os.File
	var prevRead *os.File

	for i, prog := range stages {
		cmd := exec.Command(prog[0], prog[1:]...)
		cmd.Stderr = stderr
		if i > 0 {
			cmd.Stdin = prevRead
		}
		if i == len(stages)-1 {
			cmd.Stdout = stdout
		} else {
			r, w, err := os.Pipe()
			if err != nil {
				closeAll(parentEnds)
				closeCapture(stdout, stderr)
				return 0, fmt.Errorf("runner: creating pipe after stage %d: %w", i, err)
			}
			cmd.Stdout = w
			parentEnds = append(parentEnds, r, w)
			prevRead = r
		}
		cmds[i] = cmd
	}

	var errs *multierror.Error
	started := make([]*exec.Cmd, 0, len(cmds))
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			// Mirror what an exec failure inside the stage would leave
			// behind: a diagnostic in the error capture and a failed task.
			fmt.Fprintf(stderr, "%s: %v\n", stages[i][0], err)
			errs = multierror.Append(errs, fmt.Errorf("stage %d (%s): %w", i, stages[i][0], err))
			continue
		}
		started = append(started, cmd)
	}

	// The parent's pipe ends must all close once the stages hold their
	// copies; a surviving writer would hold the next stage's stdin open
	// forever.
	closeAll(parentEnds)

	leadPID := 0
	if len(started) > 0 && started[0] == cmds[0] {
		leadPID = cmds[0].Process.Pid
	}

	go func() {
		for _, cmd := range started {
			if err := cmd.Wait(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		ended := task.Now()
		closeCapture(stdout, stderr)

		var errBit uint8
		if errs.ErrorOrNil() != nil {
			errBit = 1
			logging.Debug("task finished with failures", "id", t.ID, "error", errs)
		}
		notifyDone(n, slot, ended, false, errBit)
	}()

	return leadPID, nil
}

// notifyDone sends the completion frame with retry and releases the
// notifier.
func notifyDone(n Notifier, slot int, ended task.Stamp, isStatus bool, errBit uint8) {
	msg := wire.TaskDone{
		Slot:     uint32(slot),
		Ended:    ended,
		IsStatus: isStatus,
		ErrBit:   errBit,
	}
	if err := n.SendRetry(msg.Encode(), DoneSendTries); err != nil {
		logging.Error("completion notification lost", "slot", slot, "error", err)
	}
	_ = n.Close()
}

// NotifyDone reports a finished slot on behalf of a procedure task.
func NotifyDone(n Notifier, slot int, ended task.Stamp, errBit uint8) {
	notifyDone(n, slot, ended, true, errBit)
}

// openCapture opens a truncated capture file, falling back to the inherited
// stream when the file cannot be created.
func openCapture(path string, fallback *os.File) *os.File {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, outFileMode)
	if err != nil {
		logging.Warn("cannot open capture file, using inherited stream", "path", path, "error", err)
		return fallback
	}
	return f
}

func closeCapture(files ...*os.File) {
	for _, f := range files {
		if f == nil || f == os.Stdout || f == os.Stderr {
			continue
		}
		_ = f.Close()
	}
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
