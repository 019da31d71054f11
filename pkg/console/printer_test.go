package console

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/stagerun/pkg/command"
	"github.com/zen-systems/stagerun/pkg/pipeline"
)

func testPipeline(t *testing.T, failing string) *pipeline.Pipeline {
	t.Helper()
	stage := func(name string, sensitive bool, needs ...string) *pipeline.Stage {
		code := 0
		if name == failing {
			code = 3
		}
		return &pipeline.Stage{
			Name:               name,
			Description:        "run " + name,
			Prerequisites:      needs,
			VerbositySensitive: sensitive,
			Commands:           []command.Command{command.NewMock(nil, name+" --check", code)},
		}
	}
	p, err := pipeline.NewWithStages("collection",
		stage("help", false),
		stage("venv", true),
		stage("install", true, "venv"),
	)
	require.NoError(t, err)
	p.Default = "help"
	p.Description = "Docker collection pipeline"
	return p
}

func TestQuietRunEchoesOnlyInsensitiveStages(t *testing.T) {
	t.Setenv("STAGERUN_THEME", "")
	var out, status bytes.Buffer
	printer := NewPrinter(&out, &status, Options{})

	p := testPipeline(t, "")
	_, err := pipeline.Run(context.Background(), p, []string{"install", "help"},
		pipeline.RunOptions{Workdir: t.TempDir(), Stdout: &out, Stderr: &status, Observer: printer})
	require.NoError(t, err)

	assert.Equal(t, "help --check\n", out.String())
	assert.Empty(t, status.String())
}

func TestVerboseRunPrintsBannersAndSummary(t *testing.T) {
	var out, status bytes.Buffer
	printer := NewPrinter(&out, &status, Options{Verbose: true})

	p := testPipeline(t, "")
	_, err := pipeline.Run(context.Background(), p, []string{"install"},
		pipeline.RunOptions{Workdir: t.TempDir(), Verbose: true, Stdout: &out, Stderr: &status, Observer: printer})
	require.NoError(t, err)

	assert.Equal(t, "venv --check\ninstall --check\n", out.String())
	assert.Contains(t, status.String(), "==> [1/2] venv")
	assert.Contains(t, status.String(), "==> [2/2] install")
	assert.Contains(t, status.String(), "ok install")
	assert.Contains(t, status.String(), "done: 2 stages succeeded")
}

func TestFailureSummary(t *testing.T) {
	var out, status bytes.Buffer
	printer := NewPrinter(&out, &status, Options{})

	p := testPipeline(t, "venv")
	_, err := pipeline.Run(context.Background(), p, []string{"install"},
		pipeline.RunOptions{Workdir: t.TempDir(), Stdout: &out, Stderr: &status, Observer: printer})
	require.Error(t, err)

	assert.Empty(t, out.String())
	assert.Equal(t, "error: stage venv failed\n  venv --check\n  exited with status 3\n", status.String())
}

func TestErrorWithCause(t *testing.T) {
	var status bytes.Buffer
	printer := NewPrinter(&bytes.Buffer{}, &status, Options{})

	printer.Error(&pipeline.FailedCommandError{Stage: "test", Command: "pytest", ExitCode: -1, Err: errors.New("interrupted")})
	assert.Equal(t, "error: stage test: command \"pytest\" failed: interrupted\n", status.String())
}

func TestDryRunSummary(t *testing.T) {
	var out, status bytes.Buffer
	printer := NewPrinter(&out, &status, Options{})

	p := testPipeline(t, "venv")
	_, err := pipeline.Run(context.Background(), p, []string{"install"},
		pipeline.RunOptions{Workdir: t.TempDir(), DryRun: true, Stdout: &out, Stderr: &status, Observer: printer})
	require.NoError(t, err)

	assert.Equal(t, "venv --check\ninstall --check\n", out.String())
	assert.Equal(t, "dry run: 2 stages, 2 commands, nothing executed\n", status.String())
}

func TestEchoKeepsCommandTextVerbatim(t *testing.T) {
	var out, status bytes.Buffer
	printer := NewPrinter(&out, &status, Options{})

	line := "printf 'a\\tb'\t# tab\nshort"
	p, err := pipeline.NewWithStages("raw", &pipeline.Stage{
		Name:     "block",
		Commands: []command.Command{command.NewMock(nil, line, 0)},
	})
	require.NoError(t, err)

	_, err = pipeline.Run(context.Background(), p, []string{"block"},
		pipeline.RunOptions{Workdir: t.TempDir(), DryRun: true, Stdout: &out, Stderr: &status, Observer: printer})
	require.NoError(t, err)
	assert.Equal(t, line+"\n", out.String())

	out.Reset()
	printer.Plan(p.Stages())
	assert.Equal(t, " 1. block\n      "+line+"\n", out.String())
}

func TestPlan(t *testing.T) {
	var out bytes.Buffer
	printer := NewPrinter(&out, &bytes.Buffer{}, Options{})

	p := testPipeline(t, "")
	order, err := p.Resolve([]string{"install"})
	require.NoError(t, err)

	printer.Plan(order)
	assert.Equal(t, " 1. venv\n      venv --check\n 2. install\n      install --check\n", out.String())
}

func TestStagesListing(t *testing.T) {
	var out bytes.Buffer
	printer := NewPrinter(&out, &bytes.Buffer{}, Options{})

	printer.Stages(testPipeline(t, ""), map[string]string{"setup": "install"})

	expected := "Docker collection pipeline\n\n" +
		"help     run help [default]\n" +
		"venv     run venv\n" +
		"install  run install (needs venv)\n" +
		"\n" +
		"Aliases\n" +
		"setup    -> install\n"
	assert.Equal(t, expected, out.String())
}

func TestDetectTheme(t *testing.T) {
	t.Setenv("STAGERUN_THEME", "")
	t.Setenv("COLORFGBG", "")
	assert.Equal(t, "dark", DetectTheme("").Name)
	assert.Equal(t, "light", DetectTheme("light").Name)

	t.Setenv("COLORFGBG", "0;15")
	assert.Equal(t, "light", DetectTheme("").Name)

	t.Setenv("STAGERUN_THEME", "dark")
	assert.Equal(t, "dark", DetectTheme("").Name)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "12ms", formatDuration(12345*time.Microsecond))
	assert.Equal(t, "1.23s", formatDuration(1234*time.Millisecond))
}
