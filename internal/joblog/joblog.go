// Package joblog implements the append-only completion log: one fixed-size
// binary record per finished task.
//
// Records are written with a single call each and never modified afterward.
// A reader is bounded by the writer's in-process record count, so a reader
// handed a count at snapshot time can never observe records appended later
// even though the file on disk keeps growing.
package joblog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/behrlich/go-orchd/internal/logging"
	"github.com/behrlich/go-orchd/internal/task"
)

const (
	// RecordSize is the fixed on-disk size of one record. It fits well
	// inside an OS page, so a single write cannot tear.
	RecordSize = recordHeaderLen + MaxCommand

	// MaxCommand bounds the zero-padded command buffer of a record.
	MaxCommand = 2048

	// Record layout, little-endian:
	//   0  id          uint32
	//   4  cmd length  uint32
	//   8  expected ms uint32
	//   12 error bit   uint8
	//   13 pad         [3]uint8
	//   16 stamps      5 x (sec int64, nsec int64)
	//   96 command     [MaxCommand]uint8, zero padded
	recordHeaderLen = 96

	fileMode = 0o640
)

// ErrInvalidSequence reports a record that cannot be deserialized; replay
// stops and the file offset is parked at the end.
var ErrInvalidSequence = errors.New("joblog: invalid record sequence")

// Log is an open completion log. Writable logs truncate on open and track
// the count of records written during this process lifetime. A read-only
// log has written nothing, so its count is zero and ReadAll delivers no
// records; readers of an existing file use ReplayFile with an explicit limit.
type Log struct {
	f        *os.File
	path     string
	writable bool
	count    uint32
}

// Open opens the log at path. Writable mode creates and truncates.
func Open(path string, writable bool) (*Log, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, fileMode)
	if err != nil {
		return nil, fmt.Errorf("joblog: opening %s: %w", path, err)
	}
	return &Log{f: f, path: path, writable: writable}, nil
}

// Path returns the log's file path.
func (l *Log) Path() string {
	return l.path
}

// Count returns the number of records written by this process.
func (l *Log) Count() uint32 {
	return l.count
}

// Close releases the descriptor.
func (l *Log) Close() error {
	return l.f.Close()
}

// Append serializes the task into a zeroed fixed-size record and writes it
// with one call.
func (l *Log) Append(t *task.Tagged, errBit uint8) error {
	if !l.writable {
		return fmt.Errorf("joblog: append to read-only log %s", l.path)
	}
	rec, err := marshalRecord(t, errBit)
	if err != nil {
		return err
	}
	if _, err := l.f.WriteAt(rec, int64(l.count)*RecordSize); err != nil {
		return fmt.Errorf("joblog: appending record %d: %w", l.count, err)
	}
	l.count++
	return nil
}

// ReadAll streams records from the start of the file, at most Count of
// them, stopping early when fn returns false.
func (l *Log) ReadAll(fn func(t *task.Tagged, errBit uint8) bool) error {
	return replay(l.f, l.count, fn)
}

// ReplayFile streams up to limit records from the log at path through fn.
// Readers working from a snapshot pass the count captured with it, so
// records appended after the snapshot stay invisible.
func ReplayFile(path string, limit uint32, fn func(t *task.Tagged, errBit uint8) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("joblog: opening %s: %w", path, err)
	}
	defer f.Close()
	return replay(f, limit, fn)
}

func replay(f *os.File, limit uint32, fn func(t *task.Tagged, errBit uint8) bool) error {
	buf := make([]byte, RecordSize)
	for i := uint32(0); i < limit; i++ {
		if _, err := f.ReadAt(buf, int64(i)*RecordSize); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				logging.Error("log truncated mid-record", "record", i)
				_, _ = f.Seek(0, io.SeekEnd)
				return ErrInvalidSequence
			}
			return fmt.Errorf("joblog: reading record %d: %w", i, err)
		}
		t, errBit, err := unmarshalRecord(buf)
		if err != nil {
			logging.Error("log record failed to deserialize", "record", i, "error", err)
			_, _ = f.Seek(0, io.SeekEnd)
			return ErrInvalidSequence
		}
		if !fn(t, errBit) {
			return nil
		}
	}
	return nil
}

func marshalRecord(t *task.Tagged, errBit uint8) ([]byte, error) {
	if len(t.CommandLine) > MaxCommand {
		return nil, fmt.Errorf("joblog: command of %d bytes exceeds record buffer", len(t.CommandLine))
	}
	buf := make([]byte, RecordSize)
	put32(buf[0:4], t.ID)
	put32(buf[4:8], uint32(len(t.CommandLine)))
	put32(buf[8:12], t.ExpectedMS)
	buf[12] = errBit
	times := t.Times()
	for i := 0; i < int(task.NumStages); i++ {
		off := 16 + i*16
		put64(buf[off:off+8], uint64(times[i].Sec))
		put64(buf[off+8:off+16], uint64(times[i].Nsec))
	}
	copy(buf[recordHeaderLen:], t.CommandLine)
	return buf, nil
}

func unmarshalRecord(buf []byte) (*task.Tagged, uint8, error) {
	cmdLen := get32(buf[4:8])
	if cmdLen > MaxCommand {
		return nil, 0, fmt.Errorf("joblog: command length %d exceeds record buffer", cmdLen)
	}
	var times [task.NumStages]task.Stamp
	for i := 0; i < int(task.NumStages); i++ {
		off := 16 + i*16
		times[i] = task.Stamp{
			Sec:  int64(get64(buf[off : off+8])),
			Nsec: int64(get64(buf[off+8 : off+16])),
		}
	}
	t := task.New(task.Task{}, string(buf[recordHeaderLen:recordHeaderLen+cmdLen]), get32(buf[8:12]))
	t.ID = get32(buf[0:4])
	t.SetTimes(times)
	return t, buf[12], nil
}

func put32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func get32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func put64(b []byte, v uint64) {
	put32(b[0:4], uint32(v))
	put32(b[4:8], uint32(v>>32))
}

func get64(b []byte) uint64 {
	return uint64(get32(b[0:4])) | uint64(get32(b[4:8]))<<32
}
