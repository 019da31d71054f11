//go:build unix

package command

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/mattn/go-isatty"
)

// setProcessGroup starts the command in its own process group so
// cancellation reaches every process it spawned. Commands reading from a
// terminal stay in the foreground group, where the terminal's own interrupt
// reaches them, since a background group reading the terminal is stopped.
func setProcessGroup(cmd *exec.Cmd, stdin io.Reader) bool {
	if f, ok := stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return false
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return true
}

// terminate sends SIGTERM to the command, or to its whole process group.
func terminate(cmd *exec.Cmd, group bool) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if group {
		pid = -pid
	}
	err := syscall.Kill(pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
