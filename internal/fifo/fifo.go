// Package fifo implements the framed message transport between clients and
// the orchestrator over local named pipes.
//
// Every message travels as one frame: a 4-byte signature, a 4-byte payload
// length, then the payload. A whole frame never exceeds PIPE_BUF, so a frame
// written with a single write(2) is atomic even with many concurrent
// writers; frames from different writers may interleave but never tear.
package fifo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	// PipeBuf is the POSIX atomic pipe write limit on Linux.
	PipeBuf = 4096

	// FrameHeader is the byte length of the signature + length prefix.
	FrameHeader = 8

	// MaxPayload is the largest payload that still fits an atomic frame.
	MaxPayload = PipeBuf - FrameHeader

	signature uint32 = 0xFEEDFEED

	// recvBufSize leaves room for several whole frames per read.
	recvBufSize = 4 * PipeBuf

	serverName = "orchestrator.fifo"
	serverMode = 0o620
	clientMode = 0o622
)

// Dir is the directory holding every endpoint's FIFO. Overridable for tests.
var Dir = "/tmp"

// ServerPath returns the well-known path of the orchestrator's FIFO.
func ServerPath() string {
	return filepath.Join(Dir, serverName)
}

// ClientPath returns the FIFO path for the client with the given PID.
func ClientPath(pid int) string {
	return filepath.Join(Dir, fmt.Sprintf("client%d.fifo", pid))
}

var (
	// ErrAlreadyRunning means the server FIFO already exists.
	ErrAlreadyRunning = errors.New("fifo: server endpoint already exists")

	// ErrServerNotRunning means the server FIFO does not exist.
	ErrServerNotRunning = errors.New("fifo: server endpoint not found")

	// ErrTimeout means every send attempt failed.
	ErrTimeout = errors.New("fifo: send retries exhausted")

	// ErrPayloadSize means the payload is empty or larger than MaxPayload.
	ErrPayloadSize = errors.New("fifo: payload length out of range")

	// ErrNoPeer means a server send was attempted with no destination open.
	ErrNoPeer = errors.New("fifo: no send destination open")
)

// appendFrame appends the framed payload to dst.
func appendFrame(dst, payload []byte) []byte {
	var hdr [FrameHeader]byte
	putUint32(hdr[0:4], signature)
	putUint32(hdr[4:8], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// mkfifo creates the FIFO at path with the given mode, overriding the umask
// so the advertised permissions are the effective ones.
func mkfifo(path string, mode uint32) error {
	if err := unix.Mkfifo(path, mode); err != nil {
		return err
	}
	return os.Chmod(path, os.FileMode(mode))
}
