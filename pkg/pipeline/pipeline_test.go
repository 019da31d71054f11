package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(name string, needs ...string) *Stage {
	return &Stage{Name: name, Prerequisites: needs, VerbositySensitive: true}
}

func names(stages []*Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name
	}
	return out
}

func TestResolvePlacesPrerequisitesFirst(t *testing.T) {
	p, err := NewWithStages("test",
		stage("venv"),
		stage("install", "venv"),
		stage("ruff-lint-check"),
		stage("yaml-lint-check"),
		stage("ansible-lint-check"),
		stage("lint-check", "ruff-lint-check", "yaml-lint-check", "ansible-lint-check"),
		stage("typecheck"),
		stage("test"),
		stage("sphinx"),
		stage("build-docs", "sphinx"),
		stage("all", "install", "lint-check", "typecheck", "test", "build-docs"),
	)
	require.NoError(t, err)

	order, err := p.Resolve([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"venv", "install",
		"ruff-lint-check", "yaml-lint-check", "ansible-lint-check", "lint-check",
		"typecheck", "test",
		"sphinx", "build-docs",
		"all",
	}, names(order))

	pos := make(map[string]int)
	for i, s := range order {
		pos[s.Name] = i
	}
	for _, s := range order {
		for _, req := range s.Prerequisites {
			assert.Less(t, pos[req], pos[s.Name], "%s must precede %s", req, s.Name)
		}
	}
}

func TestResolveDeduplicatesOverlappingChains(t *testing.T) {
	p, err := NewWithStages("test",
		stage("galaxy-build"),
		stage("galaxy-install", "galaxy-build"),
		stage("galaxy-publish", "galaxy-build"),
		stage("release", "galaxy-install", "galaxy-publish", "galaxy-build"),
	)
	require.NoError(t, err)

	order, err := p.Resolve([]string{"galaxy-publish", "release", "galaxy-publish", "galaxy-build"})
	require.NoError(t, err)
	assert.Equal(t, []string{"galaxy-build", "galaxy-publish", "galaxy-install", "release"}, names(order))
}

func TestResolveUnknownTarget(t *testing.T) {
	p, err := NewWithStages("test", stage("venv"))
	require.NoError(t, err)

	_, err = p.Resolve([]string{"venv", "deploy"})
	var unknown *UnknownStageError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "deploy", unknown.Name)
	assert.Empty(t, unknown.Referrer)
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	p := New("test")
	require.NoError(t, p.Register(stage("venv")))
	assert.Error(t, p.Register(stage("venv")))
	assert.Error(t, p.Register(stage("")))
	assert.Error(t, p.Register(nil))
	assert.Error(t, p.Register(stage("install", "")))
	assert.Equal(t, 1, p.Len())
}

func TestRegisterDetectsCycleWhenItCloses(t *testing.T) {
	p := New("test")
	require.NoError(t, p.Register(stage("a", "b")))
	require.NoError(t, p.Register(stage("b", "c")))

	err := p.Register(stage("c", "a"))
	var cyclic *CyclicStageError
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, []string{"c", "a", "b", "c"}, cyclic.Path)

	_, ok := p.Stage("c")
	assert.False(t, ok, "rejected stage must not stay registered")
}

func TestRegisterDetectsSelfReference(t *testing.T) {
	p := New("test")
	err := p.Register(stage("loop", "loop"))
	var cyclic *CyclicStageError
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, []string{"loop", "loop"}, cyclic.Path)
}

func TestValidateDetectsCycleIntroducedAfterRegistration(t *testing.T) {
	p := New("test")
	a := stage("a")
	require.NoError(t, p.Register(a))
	require.NoError(t, p.Register(stage("b", "a")))
	a.Prerequisites = []string{"b"}

	err := p.Validate()
	var cyclic *CyclicStageError
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, []string{"a", "b", "a"}, cyclic.Path)

	_, err = p.Resolve([]string{"b"})
	assert.True(t, errors.As(err, &cyclic))
}

func TestValidateUnknownPrerequisite(t *testing.T) {
	_, err := NewWithStages("test", stage("docs", "sphinx"))
	var unknown *UnknownStageError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "sphinx", unknown.Name)
	assert.Equal(t, "docs", unknown.Referrer)
	assert.True(t, IsUsageError(err))
}

func TestValidateDefault(t *testing.T) {
	p := New("test")
	require.NoError(t, p.Register(stage("help")))
	p.Default = "missing"
	assert.Error(t, p.Validate())

	p.Default = "help"
	assert.NoError(t, p.Validate())

	assert.Error(t, New("empty").Validate())
}

func TestStagesKeepRegistrationOrder(t *testing.T) {
	p, err := NewWithStages("test", stage("z"), stage("a"), stage("m", "z"))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, names(p.Stages()))
}

func TestEchoRule(t *testing.T) {
	quiet := &Stage{Name: "q", VerbositySensitive: true}
	loud := &Stage{Name: "l", VerbositySensitive: false}

	assert.False(t, quiet.Echoes(false))
	assert.True(t, quiet.Echoes(true))
	assert.True(t, loud.Echoes(false))
	assert.True(t, loud.Echoes(true))
}
