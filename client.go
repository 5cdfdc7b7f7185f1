package orchd

import (
	"errors"
	"os"

	"github.com/behrlich/go-orchd/internal/fifo"
	"github.com/behrlich/go-orchd/internal/task"
	"github.com/behrlich/go-orchd/internal/wire"
)

// StatusInfo is one task's state as reported by a status stream. The four
// durations are microseconds; a duration is NaN when one of its endpoints
// was never recorded (a queued task has no executing time).
type StatusInfo struct {
	State       string
	ID          uint32
	Failed      bool
	PipeInUS    float64
	WaitingUS   float64
	ExecutingUS float64
	PipeOutUS   float64
	CommandLine string
}

// Submit sends one command to the orchestrator and waits for its verdict.
// With pipeline unset, a command parsing to more than one program is
// refused. A refusal carries ErrCodeRemote; inspect it with RemoteMessage.
func Submit(commandLine string, expectedMS uint32, pipeline bool) (uint32, error) {
	msg := wire.Submit{
		Pipeline:    pipeline,
		PID:         int32(os.Getpid()),
		Sent:        task.Now(),
		ExpectedMS:  expectedMS,
		CommandLine: commandLine,
	}
	payload, err := msg.Encode()
	if err != nil {
		return 0, WrapError("SUBMIT", ErrCodeMessageTooLong, err)
	}

	reply, err := roundTrip("SUBMIT", payload, nil)
	if err != nil {
		return 0, err
	}

	switch r := reply.(type) {
	case *wire.TaskIDReply:
		return r.ID, nil
	case *wire.ErrorReply:
		return 0, NewRemoteError("SUBMIT", r.Msg)
	}
	return 0, NewError("SUBMIT", ErrCodeIOError, "no reply from server")
}

// Status requests a snapshot of server state and feeds every reported task
// to fn until the stream ends or fn returns false.
func Status(fn func(StatusInfo) bool) error {
	msg := wire.StatusRequest{PID: int32(os.Getpid())}

	var refused *wire.ErrorReply
	stop := false
	reply, err := roundTrip("STATUS", msg.Encode(), func(decoded any) bool {
		switch r := decoded.(type) {
		case *wire.ErrorReply:
			refused = r
			return false
		case *wire.StatusLine:
			if stop {
				return true
			}
			if !fn(statusInfo(r)) {
				stop = true
			}
			return true
		}
		return true
	})
	if err != nil {
		return err
	}
	if refused != nil {
		return NewRemoteError("STATUS", refused.Msg)
	}
	if r, ok := reply.(*wire.ErrorReply); ok {
		return NewRemoteError("STATUS", r.Msg)
	}
	return nil
}

// roundTrip performs one request cycle: connect, send, then receive until
// the server closes its side of the stream. With each set, every decoded
// reply is handed to it (a false return ends interest but keeps draining);
// without it, the first reply is kept and returned.
func roundTrip(op string, payload []byte, each func(any) bool) (any, error) {
	conn, err := fifo.NewClient()
	if err != nil {
		if errors.Is(err, fifo.ErrServerNotRunning) {
			return nil, WrapError(op, ErrCodeNotFound, err)
		}
		return nil, WrapError(op, ErrCodeFatalStartup, err)
	}
	defer conn.Close()

	if err := conn.SendRetry(payload, ReplySendTries); err != nil {
		return nil, WrapError(op, ErrCodeBrokenPipe, err)
	}

	var first any
	_, err = conn.Listen(
		func(p []byte) {
			decoded, derr := wire.DecodeReply(p)
			if derr != nil {
				return
			}
			if first == nil {
				first = decoded
			}
			if each != nil {
				each(decoded)
			}
		},
		func() int { return 1 },
	)
	if err != nil {
		return nil, WrapError(op, ErrCodeIOError, err)
	}
	return first, nil
}

func statusInfo(line *wire.StatusLine) StatusInfo {
	return StatusInfo{
		State:       line.State.String(),
		ID:          line.ID,
		Failed:      line.ErrBit != 0,
		PipeInUS:    line.PipeInUS,
		WaitingUS:   line.WaitingUS,
		ExecutingUS: line.ExecutingUS,
		PipeOutUS:   line.PipeOutUS,
		CommandLine: line.CommandLine,
	}
}
