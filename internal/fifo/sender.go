package fifo

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-orchd/internal/logging"
)

// retryDelay spaces out reattempts after a failed send so a peer that is
// re-creating its FIFO has a chance to finish.
const retryDelay = 10 * time.Millisecond

// Sender is a write-only handle on a single FIFO. The destination is opened
// lazily on first use; open blocks until the peer holds the read side.
//
// Runner and status goroutines each create their own Sender, so completion
// notifications never share a descriptor with the orchestrator's replies.
type Sender struct {
	path string
	f    *os.File
}

// NewSender returns a lazy write handle for the FIFO at path.
func NewSender(path string) *Sender {
	return &Sender{path: path}
}

// NewNotifier returns a Sender aimed at the orchestrator's FIFO. This is the
// channel runners report completion on.
func NewNotifier() *Sender {
	return NewSender(ServerPath())
}

// Open acquires the write side now instead of at the first Send, blocking
// until the peer holds the read side. A stream of zero messages still needs
// the open/close pair: the peer's receive loop only wakes up and reaches
// end-of-stream once a writer has come and gone.
func (s *Sender) Open() error {
	if s.f != nil {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

// Send frames the payload and writes it with a single write(2). Payloads
// must be within (0, MaxPayload] so the write is atomic.
func (s *Sender) Send(payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return ErrPayloadSize
	}
	if err := s.Open(); err != nil {
		return err
	}
	frame := appendFrame(make([]byte, 0, FrameHeader+len(payload)), payload)
	_, err := s.f.Write(frame)
	return err
}

// SendRetry sends like Send but survives a peer re-creating its FIFO: on a
// broken or interrupted write the destination is reopened and the send
// reattempted, up to maxTries attempts in total. Callers that cannot afford
// a lost message (completion notifications cost the orchestrator a slot
// forever) use this instead of Send.
func (s *Sender) SendRetry(payload []byte, maxTries int) error {
	var err error
	for attempt := 0; attempt < maxTries; attempt++ {
		if attempt > 0 {
			s.reopen()
			time.Sleep(retryDelay)
		}
		err = s.Send(payload)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		logging.Debug("send failed, retrying", "path", s.path, "attempt", attempt+1, "error", err)
	}
	return ErrTimeout
}

// Close releases the write descriptor. The Sender may be reused; the next
// Send reopens the destination.
func (s *Sender) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *Sender) reopen() {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
}

// retryable reports whether a send failure may be cured by reopening the
// destination FIFO.
func retryable(err error) bool {
	return errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.ENOENT) ||
		errors.Is(err, os.ErrClosed)
}
