package pipeline

import "github.com/zen-systems/stagerun/pkg/command"

// Stage represents a single named unit of build work.
type Stage struct {
	Name          string
	Description   string
	Prerequisites []string
	Commands      []command.Command

	// VerbositySensitive stages echo their command lines only when the run
	// is verbose. Other stages always echo.
	VerbositySensitive bool
}

// Echoes reports whether the stage's command lines are printed before they
// run for the given verbosity.
func (s *Stage) Echoes(verbose bool) bool {
	return verbose || !s.VerbositySensitive
}

// Preparer is implemented by commands that need to be resolved before a run
// starts, such as templated manifest commands.
type Preparer interface {
	Prepare() error
}

// Prepare resolves every command of the stage that needs it.
func (s *Stage) Prepare() error {
	for _, cmd := range s.Commands {
		p, ok := cmd.(Preparer)
		if !ok {
			continue
		}
		if err := p.Prepare(); err != nil {
			return err
		}
	}
	return nil
}
