package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var errEmptyCommand = errors.New("command is empty")

// UnknownStageError reports a stage name that is not registered.
type UnknownStageError struct {
	Name string
	// Referrer is the stage that named Name as a prerequisite; empty when the
	// name came from the caller's target list.
	Referrer string
}

func (e *UnknownStageError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("stage %s requires unknown stage %s", e.Referrer, e.Name)
	}
	return fmt.Sprintf("unknown stage %s", e.Name)
}

// CyclicStageError reports a prerequisite cycle. Path starts and ends with
// the same stage.
type CyclicStageError struct {
	Path []string
}

func (e *CyclicStageError) Error() string {
	return fmt.Sprintf("prerequisite cycle: %s", strings.Join(e.Path, " -> "))
}

// FailedCommandError reports the command that stopped a run.
type FailedCommandError struct {
	Stage    string
	Command  string
	ExitCode int
	// Err is set when the command could not be started or the run was
	// interrupted.
	Err error
}

func (e *FailedCommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: command %q failed: %v", e.Stage, e.Command, e.Err)
	}
	return fmt.Sprintf("stage %s: command %q exited with status %d", e.Stage, e.Command, e.ExitCode)
}

func (e *FailedCommandError) Unwrap() error { return e.Err }

// ExitStatus returns a process exit status for the failure, never zero.
func (e *FailedCommandError) ExitStatus() int {
	if e.ExitCode > 0 && e.ExitCode < 256 {
		return e.ExitCode
	}
	return 1
}

// ManifestError lists the problems found in a stage manifest.
type ManifestError struct {
	Path     string
	Problems []string
}

func (e *ManifestError) Error() string {
	source := e.Path
	if source == "" {
		source = "manifest"
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", source, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems:\n  - %s", source, len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// IsUsageError reports whether err stems from caller input or pipeline
// definition rather than a command failure.
func IsUsageError(err error) bool {
	var unknown *UnknownStageError
	var cyclic *CyclicStageError
	var manifest *ManifestError
	var render *RenderError
	return errors.As(err, &unknown) || errors.As(err, &cyclic) || errors.As(err, &manifest) || errors.As(err, &render)
}

// RenderError reports a command template that could not be expanded.
type RenderError struct {
	Stage    string
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("stage %s: render %q: %v", e.Stage, e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
