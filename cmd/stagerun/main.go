package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/zen-systems/stagerun/pkg/pipeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// usageError marks errors caused by how stagerun was invoked.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// reportedError wraps an error the console printer has already shown.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// execute runs the CLI and returns the process exit status.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(&app{stdin: stdin, stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var reported *reportedError
	if !errors.As(err, &reported) {
		fmt.Fprintf(stderr, "stagerun: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var failed *pipeline.FailedCommandError
	var usage *usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &failed):
		return failed.ExitStatus()
	case errors.As(err, &usage), pipeline.IsUsageError(err):
		return 2
	default:
		return 1
	}
}
