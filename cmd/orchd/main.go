// Command orchd runs the task orchestrator.
//
// Usage:
//
//	orchd [-v] <out_dir> <slots> <fcfs|sjf>
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	orchd "github.com/behrlich/go-orchd"
	"github.com/behrlich/go-orchd/internal/logging"
	"github.com/behrlich/go-orchd/internal/sched"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-v] <out_dir> <slots> <fcfs|sjf>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) != 3 {
		usage()
		return 1
	}

	outDir := args[0]
	slots, err := strconv.Atoi(args[1])
	if err != nil || slots < 1 {
		fmt.Fprintf(os.Stderr, "invalid slot count %q\n", args[1])
		return 1
	}
	policy, err := sched.ParsePolicy(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid policy %q (want fcfs or sjf)\n", args[2])
		return 1
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create output directory: %v\n", err)
		return 1
	}

	srv, err := orchd.NewServer(orchd.Config{
		OutDir: outDir,
		Slots:  slots,
		Policy: policy,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("shutting down on signal", "signal", sig)
		srv.Shutdown()
	}()

	logging.Info("orchestrator running",
		"out_dir", outDir, "slots", slots, "policy", policy)

	if err := srv.Run(); err != nil {
		logging.Error("orchestrator failed", "error", err)
		return 1
	}
	return 0
}
