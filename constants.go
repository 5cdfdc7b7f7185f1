package orchd

import (
	"github.com/behrlich/go-orchd/internal/fifo"
	"github.com/behrlich/go-orchd/internal/joblog"
	"github.com/behrlich/go-orchd/internal/wire"
)

// Re-export constants for public API
const (
	// PipeBuf is the atomic pipe write limit bounding every frame.
	PipeBuf = fifo.PipeBuf

	// MaxMessageSize is the largest payload a single frame carries.
	MaxMessageSize = fifo.MaxPayload

	// MaxCommandLine is the longest submittable command.
	MaxCommandLine = wire.MaxCommandLine

	// LogRecordSize is the fixed on-disk size of a completion record.
	LogRecordSize = joblog.RecordSize

	// LogFileName is the completion log's name under the output directory.
	LogFileName = "log.bin"

	// DefaultStatusSlots caps concurrently streaming status requests.
	DefaultStatusSlots = 32

	// ReplySendTries bounds the attempts for client requests, server replies
	// and status lines. Completion notifications use runner.DoneSendTries.
	ReplySendTries = 8
)
