package fifo

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-orchd/internal/logging"
)

// Role distinguishes the two endpoint kinds.
type Role int

const (
	// Server owns the well-known FIFO and replies to many clients.
	Server Role = iota
	// Client owns a PID-derived FIFO and talks to the one server.
	Client
)

// Conn is one endpoint of the transport. A server Conn starts with no send
// destination: it learns where to reply from the PID inside each received
// message and binds the write side with OpenSending. A client Conn sends to
// the server from construction.
//
// Conn is owned by a single goroutine; concurrent senders use their own
// Sender instead.
type Conn struct {
	role    Role
	ownPath string
	send    *Sender
	peerPID int
	logger  *logging.Logger
}

// NewServer creates the server endpoint. The well-known FIFO must not exist
// yet; a stale or concurrent instance surfaces as ErrAlreadyRunning.
func NewServer() (*Conn, error) {
	path := ServerPath()
	if err := mkfifo(path, serverMode); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("fifo: creating %s: %w", path, err)
	}
	return &Conn{
		role:    Server,
		ownPath: path,
		logger:  logging.Default(),
	}, nil
}

// NewClient creates this process's endpoint and checks that the server FIFO
// exists. The write side is not opened here; the first send opens it.
// ErrServerNotRunning means no server FIFO exists.
func NewClient() (*Conn, error) {
	path := ClientPath(os.Getpid())
	if err := mkfifo(path, clientMode); err != nil && !errors.Is(err, unix.EEXIST) {
		return nil, fmt.Errorf("fifo: creating %s: %w", path, err)
	}
	send := NewSender(ServerPath())
	if _, err := os.Stat(ServerPath()); err != nil {
		_ = os.Remove(path)
		return nil, ErrServerNotRunning
	}
	return &Conn{
		role:    Client,
		ownPath: path,
		send:    send,
		logger:  logging.Default(),
	}, nil
}

// Role returns the endpoint kind.
func (c *Conn) Role() Role {
	return c.role
}

// Send writes one framed payload to the current destination.
func (c *Conn) Send(payload []byte) error {
	if c.send == nil {
		return ErrNoPeer
	}
	return c.send.Send(payload)
}

// SendRetry writes one framed payload, reopening the destination on broken
// or interrupted writes, up to maxTries attempts.
func (c *Conn) SendRetry(payload []byte, maxTries int) error {
	if c.send == nil {
		return ErrNoPeer
	}
	return c.send.SendRetry(payload, maxTries)
}

// OpenSending binds a server Conn's write side to the FIFO of the client
// with the given PID. It must be paired with CloseSending.
func (c *Conn) OpenSending(pid int) error {
	if c.role != Server {
		return fmt.Errorf("fifo: OpenSending on a %v endpoint", c.role)
	}
	if c.send != nil {
		c.CloseSending()
	}
	c.send = NewSender(ClientPath(pid))
	c.peerPID = pid
	return nil
}

// CloseSending releases the write side bound by OpenSending.
func (c *Conn) CloseSending() {
	if c.role != Server || c.send == nil {
		return
	}
	_ = c.send.Close()
	c.send = nil
	c.peerPID = 0
}

// Close releases the endpoint and unlinks its FIFO.
func (c *Conn) Close() error {
	if c.send != nil {
		_ = c.send.Close()
		c.send = nil
	}
	return os.Remove(c.ownPath)
}

// Listen drives the receive loop. Each cycle blocks opening the owned FIFO
// until a writer appears, then decodes frames in arrival order, invoking
// onMessage per payload. When the stream reaches EOF the descriptor is
// closed and onIdle runs; a non-zero return ends the loop with that value.
//
// A frame with a bad signature or an impossible length desynchronizes the
// stream: the rest of the current stream is drained and discarded, and the
// loop reopens.
func (c *Conn) Listen(onMessage func(payload []byte), onIdle func() int) (int, error) {
	buf := make([]byte, recvBufSize)
	for {
		f, err := os.OpenFile(c.ownPath, os.O_RDONLY, 0)
		if err != nil {
			return 0, fmt.Errorf("fifo: opening %s for reading: %w", c.ownPath, err)
		}

		pending := 0
		for {
			n, rerr := f.Read(buf[pending:])
			if n > 0 {
				pending += n
				consumed, bad := c.deliverFrames(buf[:pending], onMessage)
				if bad {
					drain(f)
					pending = 0
					break
				}
				copy(buf, buf[consumed:pending])
				pending -= consumed
			}
			if rerr != nil {
				if rerr != io.EOF {
					c.logger.Error("read failed on receive FIFO", "path", c.ownPath, "error", rerr)
				}
				break
			}
		}
		if pending > 0 {
			// Writers went away mid-frame; the remainder can never complete.
			c.logger.Warn("discarding incomplete frame at end of stream", "bytes", pending)
		}
		_ = f.Close()

		if rc := onIdle(); rc != 0 {
			return rc, nil
		}
	}
}

// deliverFrames decodes and dispatches every whole frame in data. It
// returns the number of bytes consumed and whether the stream is
// desynchronized beyond recovery within this read cycle.
func (c *Conn) deliverFrames(data []byte, onMessage func([]byte)) (int, bool) {
	off := 0
	for len(data)-off >= FrameHeader {
		sig := getUint32(data[off:])
		length := getUint32(data[off+4:])
		if sig != signature || length == 0 || length > MaxPayload {
			c.logger.Error("invalid frame, resynchronizing",
				"signature", fmt.Sprintf("%#x", sig), "length", length)
			return off, true
		}
		total := FrameHeader + int(length)
		if len(data)-off < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, data[off+FrameHeader:off+total])
		onMessage(payload)
		off += total
	}
	return off, false
}

// drain consumes the rest of a desynchronized stream so the next open
// starts clean.
func drain(f *os.File) {
	var sink [PipeBuf]byte
	for {
		if _, err := f.Read(sink[:]); err != nil {
			return
		}
	}
}

func (r Role) String() string {
	switch r {
	case Server:
		return "server"
	case Client:
		return "client"
	}
	return "unknown"
}
