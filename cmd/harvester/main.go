package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/harvester-cli/cmd"
	"github.com/xkilldash9x/harvester-cli/internal/observability"
)

const panicLogFile = "panic.log"

// Swapped out in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(exitCode(cmd.Execute(ctx)))
}

// exitCode maps the command error to a process status. An interrupt is a
// clean shutdown; Execute has already logged anything else.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	default:
		return 1
	}
}

// handlePanic records a crash to panic.log so that scheduled runs leave a
// trace even when stderr is not collected.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	report := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(report), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: could not write %s: %v\n%s\n", panicLogFile, err, report)
	} else {
		fmt.Fprintf(os.Stderr, "\nCRASH DETECTED. Details logged to %s\n", panicLogFile)
	}
	osExit(1)
}
