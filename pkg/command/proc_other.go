//go:build !unix

package command

import (
	"io"
	"os/exec"
)

func setProcessGroup(*exec.Cmd, io.Reader) bool { return false }

func terminate(cmd *exec.Cmd, _ bool) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
