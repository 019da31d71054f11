package collection

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/stagerun/pkg/galaxy"
	"github.com/zen-systems/stagerun/pkg/pipeline"
)

func stageNames(stages []*pipeline.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name
	}
	return out
}

func build(t *testing.T, opts pipeline.BuildOptions) *pipeline.Pipeline {
	t.Helper()
	m, err := Manifest()
	require.NoError(t, err)
	p, err := m.Build(opts)
	require.NoError(t, err)
	return p
}

func TestManifestDeclaresEveryStage(t *testing.T) {
	p := build(t, pipeline.BuildOptions{})
	assert.Equal(t, StageNames, stageNames(p.Stages()))
	assert.Equal(t, "help", p.Default)
}

func TestPrerequisites(t *testing.T) {
	p := build(t, pipeline.BuildOptions{})

	tests := map[string][]string{
		"install":        {"venv"},
		"lint-check":     {"ruff-lint-check", "yaml-lint-check", "ansible-lint-check"},
		"build-docs":     {"sphinx", "autodoc", "jekyll", "readme"},
		"run-docs":       {"build-docs", "jekyll-serve"},
		"galaxy-install": {"galaxy-build"},
		"galaxy-publish": {"galaxy-build"},
		"all":            {"install", "lint-check", "typecheck", "test", "build-docs"},
		"typecheck":      nil,
		"clean":          nil,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			s, ok := p.Stage(name)
			require.True(t, ok)
			if want == nil {
				assert.Empty(t, s.Prerequisites)
				return
			}
			assert.Equal(t, want, s.Prerequisites)
		})
	}
}

func TestAllResolvesInDeclaredOrder(t *testing.T) {
	p := build(t, pipeline.BuildOptions{})
	order, err := p.Resolve([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"venv", "install",
		"ruff-lint-check", "yaml-lint-check", "ansible-lint-check", "lint-check",
		"typecheck", "test",
		"sphinx", "autodoc", "jekyll", "readme", "build-docs",
		"all",
	}, stageNames(order))
}

func TestEveryStageRendersWithGalaxyMetadata(t *testing.T) {
	coll := &galaxy.Collection{Namespace: "community", Name: "docker_setup", Version: "2.0.1"}
	p := build(t, pipeline.BuildOptions{Galaxy: coll})

	r, err := pipeline.NewRunner(p, pipeline.RunOptions{Workdir: t.TempDir(), Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	order, err := r.Plan(StageNames)
	require.NoError(t, err)
	assert.Len(t, order, len(StageNames))

	s, _ := p.Stage("galaxy-publish")
	require.Len(t, s.Commands, 1)
	assert.Equal(t, "ansible-galaxy collection publish dist/community-docker_setup-2.0.1.tar.gz", s.Commands[0].Describe())
}

func TestGalaxyStagesNeedMetadata(t *testing.T) {
	p := build(t, pipeline.BuildOptions{})
	r, err := pipeline.NewRunner(p, pipeline.RunOptions{Workdir: t.TempDir(), Stdout: &bytes.Buffer{}})
	require.NoError(t, err)

	_, err = r.Plan([]string{"all"})
	require.NoError(t, err)

	_, err = r.Plan([]string{"galaxy-install"})
	var renderErr *pipeline.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "galaxy-install", renderErr.Stage)
}

func TestVerboseAddsPytestFlag(t *testing.T) {
	for verbose, want := range map[bool]string{false: "pytest tests", true: "pytest -v tests"} {
		p := build(t, pipeline.BuildOptions{Verbose: verbose})
		r, err := pipeline.NewRunner(p, pipeline.RunOptions{Workdir: t.TempDir(), Stdout: &bytes.Buffer{}})
		require.NoError(t, err)
		order, err := r.Plan([]string{"test"})
		require.NoError(t, err)
		assert.Equal(t, want, order[0].Commands[0].Describe())
	}
}

func TestCleanRemovesBuildOutputs(t *testing.T) {
	workdir := t.TempDir()
	for _, dir := range []string{".venv/bin", "dist", "docs/api", "docs/_site", "roles/docker"} {
		require.NoError(t, os.MkdirAll(filepath.Join(workdir, dir), 0755))
	}

	p := build(t, pipeline.BuildOptions{Workdir: workdir})
	_, err := pipeline.Run(context.Background(), p, []string{"clean"},
		pipeline.RunOptions{Workdir: workdir, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)

	for _, dir := range []string{".venv", "dist", "docs/api", "docs/_site"} {
		assert.NoDirExists(t, filepath.Join(workdir, dir))
	}
	assert.DirExists(t, filepath.Join(workdir, "roles/docker"))
	assert.DirExists(t, filepath.Join(workdir, "docs"))
}

func TestReadmeCopiesIntoDocs(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "README.md"), []byte("# docker collection\n"), 0644))

	p := build(t, pipeline.BuildOptions{Workdir: workdir, Vars: map[string]string{"docs_dir": "site"}})
	_, err := pipeline.Run(context.Background(), p, []string{"readme"},
		pipeline.RunOptions{Workdir: workdir, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(workdir, "site", "index.md"))
	require.NoError(t, err)
	assert.Equal(t, "# docker collection\n", string(data))
}

func TestHelpIsDefaultAndAlwaysEchoes(t *testing.T) {
	p := build(t, pipeline.BuildOptions{})

	var out bytes.Buffer
	_, err := pipeline.Run(context.Background(), p, nil, pipeline.RunOptions{Workdir: t.TempDir(), Stdout: &out})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "help\n")
	for _, name := range StageNames {
		assert.Contains(t, out.String(), name)
	}
}

func TestSourceIsACopy(t *testing.T) {
	a := Source()
	a[0] = '#'
	assert.NotEqual(t, a[0], Source()[0])
}
