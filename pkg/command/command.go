package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// WaitDelay bounds how long a cancelled command may keep its output pipes
// open before they are closed and its process is killed.
const WaitDelay = 5 * time.Second

// Command is a single invocable unit of stage work.
type Command interface {
	// Execute runs the command and returns its exit code. A non-nil error
	// means the command could not be started at all; a command that ran and
	// failed reports a non-zero exit code with a nil error.
	Execute(ctx context.Context, env Env) (int, error)

	// Describe returns the command line as shown to the user.
	Describe() string
}

// Env is the execution environment handed to a command.
type Env struct {
	Workdir string
	Environ []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

func (e Env) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e Env) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}

// Options holds per-command settings shared by process commands.
type Options struct {
	// Dir is resolved against Env.Workdir when relative.
	Dir string
	Env map[string]string
}

// Shell runs a command line through sh -c.
type Shell struct {
	line string
	opts Options
}

// NewShell creates a shell command.
func NewShell(line string, opts Options) (*Shell, error) {
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("shell command requires a command line")
	}
	return &Shell{line: line, opts: opts}, nil
}

// Describe returns the command line.
func (c *Shell) Describe() string {
	return c.line
}

// Execute runs the command line.
func (c *Shell) Execute(ctx context.Context, env Env) (int, error) {
	return runProcess(ctx, env, c.opts, []string{"sh", "-c", c.line})
}

// Exec runs a program directly with an argument vector.
type Exec struct {
	argv []string
	opts Options
}

// NewExec creates an exec command.
func NewExec(argv []string, opts Options) (*Exec, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("exec command requires a program")
	}
	return &Exec{argv: append([]string{}, argv...), opts: opts}, nil
}

// Describe returns the argument vector joined for display.
func (c *Exec) Describe() string {
	parts := make([]string, len(c.argv))
	for i, arg := range c.argv {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'") {
			arg = strconv.Quote(arg)
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}

// Execute runs the program.
func (c *Exec) Execute(ctx context.Context, env Env) (int, error) {
	return runProcess(ctx, env, c.opts, c.argv)
}

func runProcess(ctx context.Context, env Env, opts Options, argv []string) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = ResolveDir(env.Workdir, opts.Dir)
	cmd.Env = mergeEnviron(env.Environ, opts.Env)
	cmd.Stdin = env.Stdin
	cmd.Stdout = env.stdout()
	cmd.Stderr = env.stderr()
	group := setProcessGroup(cmd, env.Stdin)
	cmd.Cancel = func() error { return terminate(cmd, group) }
	cmd.WaitDelay = WaitDelay

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	// The command exited cleanly but left a background process holding its
	// output open.
	if errors.Is(err, exec.ErrWaitDelay) {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitCode(exitErr), nil
	}
	return -1, fmt.Errorf("failed to run %s: %w", argv[0], err)
}

// exitCode maps a process exit to a shell-style status; signal deaths
// report 128+signal.
func exitCode(exitErr *exec.ExitError) int {
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return -1
}

// ResolveDir joins dir onto workdir unless dir is absolute.
func ResolveDir(workdir, dir string) string {
	if dir == "" {
		return workdir
	}
	if filepath.IsAbs(dir) || workdir == "" {
		return dir
	}
	return filepath.Join(workdir, dir)
}

func mergeEnviron(base []string, extra map[string]string) []string {
	environ := append(os.Environ(), base...)
	if len(extra) == 0 {
		return environ
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		environ = append(environ, k+"="+extra[k])
	}
	return environ
}
