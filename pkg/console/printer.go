package console

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zen-systems/stagerun/pkg/command"
	"github.com/zen-systems/stagerun/pkg/pipeline"
)

// Options configures a Printer.
type Options struct {
	// Verbose adds stage banners and a success summary.
	Verbose bool
	// Theme is "dark", "light" or empty for detection.
	Theme string
}

// Printer renders run progress for a terminal. Command echo goes to out,
// alongside the commands' own output. Banners and summaries go to status.
type Printer struct {
	out     io.Writer
	status  io.Writer
	styles  *StyleSet
	echo    *StyleSet
	verbose bool
}

var _ pipeline.Observer = (*Printer)(nil)

// NewPrinter returns a printer writing to out and status. Colour is only
// used when the respective writer is a terminal.
func NewPrinter(out, status io.Writer, opts Options) *Printer {
	theme := DetectTheme(opts.Theme)
	return &Printer{
		out:     out,
		status:  status,
		styles:  NewStyleSet(lipgloss.NewRenderer(status), theme),
		echo:    NewStyleSet(lipgloss.NewRenderer(out), theme),
		verbose: opts.Verbose,
	}
}

// RunStarted is a no-op; banners are per stage.
func (p *Printer) RunStarted(order []*pipeline.Stage) {}

// StageStarted prints a "==> [i/n] stage" banner when verbose.
func (p *Printer) StageStarted(stage *pipeline.Stage, index, total int) {
	if !p.verbose {
		return
	}
	counter := p.styles.Counter.Render(fmt.Sprintf("[%d/%d]", index+1, total))
	fmt.Fprintf(p.status, "%s %s %s\n", p.styles.Banner.Render("==>"), counter, p.styles.StageName.Render(stage.Name))
}

// CommandStarted echoes the command line exactly as it will run.
func (p *Printer) CommandStarted(_ *pipeline.Stage, cmd command.Command, echo bool) {
	if !echo {
		return
	}
	fmt.Fprintln(p.out, renderLines(p.echo.Command, cmd.Describe()))
}

// CommandFinished is a no-op; failures are reported once the run ends.
func (p *Printer) CommandFinished(*pipeline.Stage, pipeline.CommandResult) {}

// StageFinished prints the stage's duration when verbose.
func (p *Printer) StageFinished(stage *pipeline.Stage, result *pipeline.StageResult) {
	if !p.verbose || !result.Succeeded {
		return
	}
	fmt.Fprintf(p.status, "    %s %s %s\n",
		p.styles.SuccessTxt.Render("ok"),
		stage.Name,
		p.styles.DimTxt.Render(formatDuration(result.Duration)))
}

// RunFinished prints the failure, dry-run or success summary.
func (p *Printer) RunFinished(result *pipeline.RunResult, err error) {
	if err != nil {
		p.Error(err)
		if result != nil && result.EvidenceDir != "" {
			fmt.Fprintf(p.status, "%s %s\n", p.styles.DimTxt.Render("evidence:"), result.EvidenceDir)
		}
		return
	}
	if result == nil {
		return
	}

	if result.DryRun {
		commands := 0
		for _, s := range result.Stages {
			commands += len(s.Commands)
		}
		fmt.Fprintln(p.status, p.styles.WarningTxt.Render(
			fmt.Sprintf("dry run: %d stages, %d commands, nothing executed", len(result.Stages), commands)))
		return
	}
	if p.verbose {
		fmt.Fprintf(p.status, "%s %d stages succeeded in %s\n",
			p.styles.SuccessTxt.Render("done:"), len(result.Stages), formatDuration(result.Duration))
		if result.EvidenceDir != "" {
			fmt.Fprintf(p.status, "%s %s\n", p.styles.DimTxt.Render("evidence:"), result.EvidenceDir)
		}
	}
}

// Error reports err on the status writer.
func (p *Printer) Error(err error) {
	var failed *pipeline.FailedCommandError
	if errors.As(err, &failed) && failed.Err == nil {
		fmt.Fprintf(p.status, "%s stage %s failed\n  %s\n  %s\n",
			p.styles.ErrorTxt.Render("error:"),
			p.styles.StageName.Render(failed.Stage),
			failed.Command,
			p.styles.DimTxt.Render(fmt.Sprintf("exited with status %d", failed.ExitCode)))
		return
	}
	fmt.Fprintf(p.status, "%s %v\n", p.styles.ErrorTxt.Render("error:"), err)
}

// Plan writes the resolved execution order with each stage's commands.
func (p *Printer) Plan(order []*pipeline.Stage) {
	for i, stage := range order {
		fmt.Fprintf(p.out, "%s %s\n",
			p.echo.Counter.Render(fmt.Sprintf("%2d.", i+1)),
			p.echo.StageName.Render(stage.Name))
		for _, cmd := range stage.Commands {
			fmt.Fprintf(p.out, "      %s\n", renderLines(p.echo.Command, cmd.Describe()))
		}
	}
}

// Stages lists the pipeline's stages in registration order, followed by
// any target aliases.
func (p *Printer) Stages(pl *pipeline.Pipeline, aliases map[string]string) {
	stages := pl.Stages()
	width := 0
	for _, s := range stages {
		width = max(width, len(s.Name))
	}
	for name := range aliases {
		width = max(width, len(name))
	}

	if pl.Description != "" {
		fmt.Fprintln(p.out, p.echo.Heading.Render(pl.Description))
		fmt.Fprintln(p.out)
	}
	name := p.echo.StageName.Width(width + 2)
	for _, s := range stages {
		line := name.Render(s.Name) + s.Description
		if len(s.Prerequisites) > 0 {
			line += " " + p.echo.DimTxt.Render("(needs "+strings.Join(s.Prerequisites, ", ")+")")
		}
		if s.Name == pl.Default {
			line += " " + p.echo.DimTxt.Render("[default]")
		}
		fmt.Fprintln(p.out, strings.TrimRight(line, " "))
	}

	if len(aliases) == 0 {
		return
	}
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.echo.Heading.Render("Aliases"))
	for _, k := range keys {
		fmt.Fprintf(p.out, "%s-> %s\n", name.Render(k), aliases[k])
	}
}

// renderLines styles each line of text on its own, keeping tabs and line
// widths as they are.
func renderLines(style lipgloss.Style, text string) string {
	style = style.Inline(true).TabWidth(lipgloss.NoTabConversion)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
