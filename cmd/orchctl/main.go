// Command orchctl submits tasks to a running orchestrator and queries its
// status.
//
// Usage:
//
//	orchctl execute <expected_ms> -u <command line>   submit one program
//	orchctl execute <expected_ms> -p <command line>   submit a pipeline
//	orchctl status                                    list task states
//	orchctl help
//
// Exit codes: 0 on success, 1 on usage or client-side failure, 2 when the
// server refused the request.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	orchd "github.com/behrlich/go-orchd"
)

const (
	exitOK     = 0
	exitUsage  = 1
	exitServer = 2
)

func usage(w *os.File) {
	fmt.Fprintf(w, `usage:
  %[1]s execute <expected_ms> -u <command line>
  %[1]s execute <expected_ms> -p <command line>
  %[1]s status
  %[1]s help
`, os.Args[0])
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return exitUsage
	}

	switch args[0] {
	case "execute":
		return execute(args[1:])
	case "status":
		return status(args[1:])
	case "help":
		usage(os.Stdout)
		return exitOK
	}
	usage(os.Stderr)
	return exitUsage
}

func execute(args []string) int {
	if len(args) < 3 {
		usage(os.Stderr)
		return exitUsage
	}

	expected, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid expected time %q\n", args[0])
		return exitUsage
	}

	var pipeline bool
	switch args[1] {
	case "-u":
		pipeline = false
	case "-p":
		pipeline = true
	default:
		usage(os.Stderr)
		return exitUsage
	}

	commandLine := strings.Join(args[2:], " ")

	id, err := orchd.Submit(commandLine, uint32(expected), pipeline)
	if err != nil {
		return reportError(err)
	}
	fmt.Printf("Task %d scheduled\n", id)
	return exitOK
}

func status(args []string) int {
	if len(args) != 0 {
		usage(os.Stderr)
		return exitUsage
	}

	count := 0
	err := orchd.Status(func(info orchd.StatusInfo) bool {
		failed := " "
		if info.Failed {
			failed = "!"
		}
		fmt.Printf("%5d %-9s %s in=%.1fus wait=%.1fus exec=%.1fus out=%.1fus  %s\n",
			info.ID, info.State, failed,
			info.PipeInUS, info.WaitingUS, info.ExecutingUS, info.PipeOutUS,
			info.CommandLine)
		count++
		return true
	})
	if err != nil {
		return reportError(err)
	}
	if count == 0 {
		fmt.Println("no tasks")
	}
	return exitOK
}

func reportError(err error) int {
	if msg, ok := orchd.RemoteMessage(err); ok {
		fmt.Fprintln(os.Stderr, msg)
		return exitServer
	}
	fmt.Fprintln(os.Stderr, err)
	return exitUsage
}
