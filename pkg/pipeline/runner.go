package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/zen-systems/stagerun/pkg/command"
	"github.com/zen-systems/stagerun/pkg/evidence"
)

// RunOptions configures pipeline execution. It is fixed for the lifetime of
// a Runner.
type RunOptions struct {
	Workdir string
	Verbose bool
	// DryRun echoes every resolved command without executing any.
	DryRun  bool
	Environ []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *slog.Logger
	// Observer defaults to an EchoObserver on Stdout.
	Observer Observer
	// Evidence, when set, receives run and stage records.
	Evidence     *evidence.Writer
	ManifestFile string
	Version      string
}

// RunResult captures pipeline outputs.
type RunResult struct {
	RunID       string
	EvidenceDir string
	Targets     []string
	Order       []string
	Stages      []*StageResult
	DryRun      bool
	Duration    time.Duration
}

// Succeeded reports whether every executed stage succeeded.
func (r *RunResult) Succeeded() bool {
	for _, s := range r.Stages {
		if !s.Succeeded {
			return false
		}
	}
	return len(r.Stages) == len(r.Order)
}

// StageResult captures execution results for a stage.
type StageResult struct {
	Name      string
	Commands  []CommandResult
	Succeeded bool
	Duration  time.Duration
}

// CommandResult captures one command invocation.
type CommandResult struct {
	Stage    string
	Command  string
	ExitCode int
	Echoed   bool
	Skipped  bool
	Err      error
	Duration time.Duration
}

// Runner executes stages of a pipeline.
type Runner struct {
	pipeline *Pipeline
	opts     RunOptions
	log      *slog.Logger
	observer Observer
}

// NewRunner validates p and returns a runner bound to opts.
func NewRunner(p *Pipeline, opts RunOptions) (*Runner, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if opts.Workdir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		opts.Workdir = cwd
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	observer := opts.Observer
	if observer == nil {
		observer = EchoObserver{W: opts.Stdout}
	}

	return &Runner{pipeline: p, opts: opts, log: logger, observer: observer}, nil
}

// Run executes the pipeline for targets with the given options.
func Run(ctx context.Context, p *Pipeline, targets []string, opts RunOptions) (*RunResult, error) {
	r, err := NewRunner(p, opts)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, targets)
}

// Plan resolves targets and prepares every command in the closure without
// executing anything.
func (r *Runner) Plan(targets []string) ([]*Stage, error) {
	targets, err := r.targets(targets)
	if err != nil {
		return nil, err
	}
	order, err := r.pipeline.Resolve(targets)
	if err != nil {
		return nil, err
	}
	for _, stage := range order {
		if err := stage.Prepare(); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Run resolves targets and executes the resulting stages in order, stopping
// at the first command that fails. Caller errors (unknown stages, template
// failures) are reported before any command runs and return a nil result.
// A command failure returns the partial result together with a
// *FailedCommandError.
func (r *Runner) Run(ctx context.Context, targets []string) (*RunResult, error) {
	targets, err := r.targets(targets)
	if err != nil {
		return nil, err
	}
	order, err := r.Plan(targets)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(order))
	for i, s := range order {
		names[i] = s.Name
	}
	r.log.Debug("resolved execution order", "targets", targets, "order", names)

	start := time.Now()
	result := &RunResult{
		Targets: append([]string{}, targets...),
		Order:   names,
		DryRun:  r.opts.DryRun,
	}

	var runRecord evidence.RunRecord
	if w := r.opts.Evidence; w != nil {
		result.RunID = w.RunID()
		result.EvidenceDir = w.RunDir()
		runRecord = r.startRecord(w, result)
		if err := w.WriteRun(runRecord); err != nil {
			return nil, fmt.Errorf("write run evidence: %w", err)
		}
	}

	r.observer.RunStarted(order)

	var runErr error
	for i, stage := range order {
		stageResult, err := r.runStage(ctx, stage, i, len(order))
		result.Stages = append(result.Stages, stageResult)
		if err != nil {
			runErr = err
			break
		}
	}
	result.Duration = time.Since(start)

	if w := r.opts.Evidence; w != nil {
		r.finishRecord(w, runRecord, result, runErr)
	}

	if runErr != nil {
		r.log.Info("pipeline failed", "error", runErr, "duration", result.Duration)
	} else {
		r.log.Info("pipeline succeeded", "stages", len(result.Stages), "duration", result.Duration)
	}
	r.observer.RunFinished(result, runErr)
	return result, runErr
}

func (r *Runner) targets(targets []string) ([]string, error) {
	if len(targets) > 0 {
		return targets, nil
	}
	if r.pipeline.Default != "" {
		return []string{r.pipeline.Default}, nil
	}
	return nil, fmt.Errorf("no targets given and pipeline %s has no default", r.pipeline.Name)
}

func (r *Runner) runStage(ctx context.Context, stage *Stage, index, total int) (*StageResult, error) {
	start := time.Now()
	result := &StageResult{Name: stage.Name}
	echo := r.opts.DryRun || stage.Echoes(r.opts.Verbose)

	r.log.Info("stage started", "stage", stage.Name, "index", index+1, "total", total)
	r.observer.StageStarted(stage, index, total)

	env := command.Env{
		Workdir: r.opts.Workdir,
		Environ: r.opts.Environ,
		Stdin:   r.opts.Stdin,
		Stdout:  r.opts.Stdout,
		Stderr:  r.opts.Stderr,
	}
	var capture *lockedBuffer
	if r.opts.Evidence != nil && !r.opts.DryRun {
		capture = &lockedBuffer{}
		env.Stdout = io.MultiWriter(r.opts.Stdout, capture)
		env.Stderr = io.MultiWriter(r.opts.Stderr, capture)
	}

	var stageErr error
	for _, cmd := range stage.Commands {
		if err := ctx.Err(); err != nil {
			stageErr = &FailedCommandError{Stage: stage.Name, Command: cmd.Describe(), ExitCode: -1, Err: err}
			break
		}

		r.observer.CommandStarted(stage, cmd, echo)
		cmdResult := CommandResult{Stage: stage.Name, Command: cmd.Describe(), Echoed: echo}
		if r.opts.DryRun {
			cmdResult.Skipped = true
			result.Commands = append(result.Commands, cmdResult)
			r.observer.CommandFinished(stage, cmdResult)
			continue
		}

		cmdStart := time.Now()
		code, err := cmd.Execute(ctx, env)
		cmdResult.Duration = time.Since(cmdStart)
		cmdResult.ExitCode = code
		if err == nil && code != 0 && ctx.Err() != nil {
			err = ctx.Err()
		}
		cmdResult.Err = err
		result.Commands = append(result.Commands, cmdResult)
		r.observer.CommandFinished(stage, cmdResult)

		r.log.Debug("command finished", "stage", stage.Name, "command", cmdResult.Command,
			"exit_code", code, "duration", cmdResult.Duration)

		if err != nil || code != 0 {
			stageErr = &FailedCommandError{Stage: stage.Name, Command: cmdResult.Command, ExitCode: code, Err: err}
			break
		}
	}

	result.Succeeded = stageErr == nil
	result.Duration = time.Since(start)
	r.observer.StageFinished(stage, result)

	if w := r.opts.Evidence; w != nil {
		r.writeStageRecord(w, result, capture)
	}
	return result, stageErr
}

func (r *Runner) startRecord(w *evidence.Writer, result *RunResult) evidence.RunRecord {
	record := evidence.RunRecord{
		ID:           w.RunID(),
		Timestamp:    time.Now().UTC(),
		Pipeline:     r.pipeline.Name,
		ManifestFile: r.opts.ManifestFile,
		Targets:      result.Targets,
		Order:        result.Order,
		Workdir:      r.opts.Workdir,
		Verbose:      r.opts.Verbose,
		DryRun:       r.opts.DryRun,
		ToolVersions: map[string]string{"go": runtime.Version()},
	}
	if r.opts.Version != "" {
		record.ToolVersions["stagerun"] = r.opts.Version
	}
	git, err := evidence.GitState(r.opts.Workdir)
	if err != nil {
		r.log.Warn("could not read git state", "workdir", r.opts.Workdir, "error", err)
	}
	record.Git = git
	return record
}

func (r *Runner) finishRecord(w *evidence.Writer, record evidence.RunRecord, result *RunResult, runErr error) {
	record.Succeeded = runErr == nil
	record.DurationMillis = result.Duration.Milliseconds()
	if runErr != nil {
		failure := &evidence.FailureRecord{Error: runErr.Error()}
		if fc, ok := runErr.(*FailedCommandError); ok {
			failure.Stage = fc.Stage
			failure.Command = fc.Command
			failure.ExitCode = fc.ExitCode
		}
		record.Failure = failure
	}
	if err := w.WriteRun(record); err != nil {
		r.log.Warn("could not write run evidence", "error", err)
	}
}

func (r *Runner) writeStageRecord(w *evidence.Writer, result *StageResult, capture *lockedBuffer) {
	record := evidence.StageRecord{
		Name:           result.Name,
		Succeeded:      result.Succeeded,
		DurationMillis: result.Duration.Milliseconds(),
	}
	for _, c := range result.Commands {
		cr := evidence.CommandRecord{
			Command:        c.Command,
			ExitCode:       c.ExitCode,
			Echoed:         c.Echoed,
			DurationMillis: c.Duration.Milliseconds(),
		}
		if c.Err != nil {
			cr.Error = c.Err.Error()
		}
		record.Commands = append(record.Commands, cr)
	}
	if capture != nil && capture.Len() > 0 {
		ref, sha, err := w.WriteBlob("output", capture.Bytes())
		if err != nil {
			r.log.Warn("could not write stage output", "stage", result.Name, "error", err)
		} else {
			record.OutputRef = ref
			record.OutputSHA256 = sha
		}
	}
	if err := w.WriteStage(record); err != nil {
		r.log.Warn("could not write stage evidence", "stage", result.Name, "error", err)
	}
}

// lockedBuffer serialises writes from a command's stdout and stderr copiers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte{}, b.buf.Bytes()...)
}
