// Package integration exercises the full submit/execute/status cycle
// against a live orchestrator over real FIFOs.
package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchd "github.com/behrlich/go-orchd"
	"github.com/behrlich/go-orchd/internal/fifo"
	"github.com/behrlich/go-orchd/internal/sched"
)

const (
	waitTimeout = 15 * time.Second
	waitTick    = 20 * time.Millisecond
)

func startOrchestrator(t *testing.T, slots int, policy sched.Policy) (*orchd.Server, string) {
	t.Helper()

	oldDir := fifo.Dir
	fifo.Dir = t.TempDir()
	t.Cleanup(func() { fifo.Dir = oldDir })

	outDir := t.TempDir()
	srv, err := orchd.NewServer(orchd.Config{
		OutDir: outDir,
		Slots:  slots,
		Policy: policy,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()
	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Error("orchestrator did not stop")
		}
		_ = srv.Close()
	})
	return srv, outDir
}

func TestSubmitExecuteStatusCycle(t *testing.T) {
	srv, outDir := startOrchestrator(t, 2, sched.FCFS)

	// A single program and a pipeline, submitted back to back.
	id, err := orchd.Submit("echo hi", 100, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	id, err = orchd.Submit("printf ab | tr a X", 100, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id)

	require.Eventually(t, func() bool {
		return srv.Metrics().TasksCompleted >= 2
	}, waitTimeout, waitTick)

	out, err := os.ReadFile(filepath.Join(outDir, "1.out"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(out))

	out, err = os.ReadFile(filepath.Join(outDir, "2.out"))
	require.NoError(t, err)
	assert.Equal(t, "Xb", string(out))

	// Both tasks must now report DONE with full timing.
	done := map[uint32]orchd.StatusInfo{}
	require.NoError(t, orchd.Status(func(info orchd.StatusInfo) bool {
		if info.State == "DONE" {
			done[info.ID] = info
		}
		return true
	}))
	require.Len(t, done, 2)
	assert.Equal(t, "echo hi", done[1].CommandLine)
	assert.Equal(t, "printf ab | tr a X", done[2].CommandLine)
	assert.False(t, done[1].Failed)
	assert.GreaterOrEqual(t, done[1].ExecutingUS, 0.0)
}

func TestRefusalsDoNotDisturbAcceptedWork(t *testing.T) {
	srv, outDir := startOrchestrator(t, 1, sched.FCFS)

	// A pipeline where a single program was demanded is refused outright.
	_, err := orchd.Submit("a | b", 100, false)
	msg, ok := orchd.RemoteMessage(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "Parsing failure!", msg)

	// The refusal must not burn a task id or a log record.
	id, err := orchd.Submit("echo ok", 100, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	require.Eventually(t, func() bool {
		return srv.Metrics().TasksCompleted >= 1
	}, waitTimeout, waitTick)

	info, err := os.Stat(filepath.Join(outDir, orchd.LogFileName))
	require.NoError(t, err)
	assert.Equal(t, int64(orchd.LogRecordSize), info.Size())
}

func TestConcurrentSlotsRunInParallel(t *testing.T) {
	srv, _ := startOrchestrator(t, 2, sched.FCFS)

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := orchd.Submit("sleep 1", 1000, false)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return srv.Metrics().TasksCompleted >= 2
	}, waitTimeout, waitTick)

	// Two one-second sleeps on two slots take well under two sequential
	// seconds.
	assert.Less(t, time.Since(start), 2*time.Second)
}
