package pipeline

import (
	"fmt"
	"io"

	"github.com/zen-systems/stagerun/pkg/command"
)

// Observer receives synchronous notifications while a run progresses.
// Implementations must return quickly; they run inline with execution.
type Observer interface {
	RunStarted(order []*Stage)
	StageStarted(stage *Stage, index, total int)
	// CommandStarted is called immediately before a command is invoked.
	// echo reports whether the command line should be shown.
	CommandStarted(stage *Stage, cmd command.Command, echo bool)
	CommandFinished(stage *Stage, result CommandResult)
	StageFinished(stage *Stage, result *StageResult)
	RunFinished(result *RunResult, err error)
}

// NopObserver is a no-op Observer.
type NopObserver struct{}

func (NopObserver) RunStarted([]*Stage) {}
func (NopObserver) StageStarted(*Stage, int, int) {}
func (NopObserver) CommandStarted(*Stage, command.Command, bool) {}
func (NopObserver) CommandFinished(*Stage, CommandResult) {}
func (NopObserver) StageFinished(*Stage, *StageResult) {}
func (NopObserver) RunFinished(*RunResult, error) {}

// EchoObserver prints each echoed command line verbatim, like make does.
type EchoObserver struct {
	NopObserver
	W io.Writer
}

// CommandStarted prints the command line when echo is set.
func (o EchoObserver) CommandStarted(_ *Stage, cmd command.Command, echo bool) {
	if echo && o.W != nil {
		fmt.Fprintln(o.W, cmd.Describe())
	}
}
