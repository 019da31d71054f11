package pipeline

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/stagerun/pkg/command"
	"github.com/zen-systems/stagerun/pkg/galaxy"
	"github.com/zen-systems/stagerun/pkg/schema"
)

// Manifest is the declarative form of a pipeline.
type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	MinVersion  string            `yaml:"min_version,omitempty"`
	Default     string            `yaml:"default,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"`
	Stages      []StageSpec       `yaml:"stages"`

	// Path is where the manifest was loaded from, for error messages.
	Path string `yaml:"-"`
}

// StageSpec declares a stage in a manifest.
type StageSpec struct {
	Name               string        `yaml:"name"`
	Description        string        `yaml:"description,omitempty"`
	Needs              []string      `yaml:"needs,omitempty"`
	VerbositySensitive *bool         `yaml:"verbosity_sensitive,omitempty"`
	Commands           []CommandSpec `yaml:"commands,omitempty"`
}

// IsVerbositySensitive defaults to true when unset.
func (s StageSpec) IsVerbositySensitive() bool {
	return s.VerbositySensitive == nil || *s.VerbositySensitive
}

// CommandSpec declares one command. A plain YAML string is shorthand for
// Run.
type CommandSpec struct {
	Run     string            `yaml:"run,omitempty"`
	Exec    []string          `yaml:"exec,omitempty"`
	Builtin string            `yaml:"builtin,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// UnmarshalYAML accepts either a scalar command line or a mapping.
func (c *CommandSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		c.Run = value.Value
		return nil
	}
	type plain CommandSpec
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = CommandSpec(p)
	return nil
}

// MarshalYAML writes plain shell commands back as scalars.
func (c CommandSpec) MarshalYAML() (any, error) {
	if c.Run != "" && c.Dir == "" && len(c.Env) == 0 {
		return c.Run, nil
	}
	type plain CommandSpec
	return plain(c), nil
}

func (c CommandSpec) kind() string {
	switch {
	case c.Run != "":
		return "run"
	case len(c.Exec) > 0:
		return "exec"
	case c.Builtin != "":
		return "builtin"
	default:
		return ""
	}
}

// raw is the unrendered command text.
func (c CommandSpec) raw() string {
	switch c.kind() {
	case "run":
		return c.Run
	case "exec":
		return fmt.Sprint(c.Exec)
	case "builtin":
		if len(c.Args) == 0 {
			return c.Builtin
		}
		return fmt.Sprintf("%s %v", c.Builtin, c.Args)
	default:
		return ""
	}
}

// LoadManifest reads a pipeline definition from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		if me, ok := err.(*ManifestError); ok {
			me.Path = path
		}
		return nil, err
	}
	m.Path = path
	return m, nil
}

// ParseManifest validates data against the manifest schema and decodes it.
func ParseManifest(data []byte) (*Manifest, error) {
	problems, err := schema.ValidateManifest(data)
	if err != nil {
		return nil, &ManifestError{Problems: []string{err.Error()}}
	}
	if len(problems) > 0 {
		return nil, &ManifestError{Problems: problems}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Problems: []string{err.Error()}}
	}
	return &m, nil
}

// Validate checks the manifest for structural errors that the schema
// cannot express.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestError{Path: m.Path, Problems: []string{"pipeline name is required"}}
	}
	if len(m.Stages) == 0 {
		return &ManifestError{Path: m.Path, Problems: []string{"pipeline must define at least one stage"}}
	}

	var problems []string
	seen := make(map[string]struct{})
	for _, stage := range m.Stages {
		if stage.Name == "" {
			problems = append(problems, "stage name is required")
			continue
		}
		if _, ok := seen[stage.Name]; ok {
			problems = append(problems, fmt.Sprintf("duplicate stage name: %s", stage.Name))
		}
		seen[stage.Name] = struct{}{}

		for i, cmd := range stage.Commands {
			if cmd.kind() == "" {
				problems = append(problems, fmt.Sprintf("stage %s command %d is empty", stage.Name, i+1))
			}
		}
	}
	if len(problems) > 0 {
		return &ManifestError{Path: m.Path, Problems: problems}
	}
	return nil
}

// CheckVersion verifies the running binary satisfies min_version, which may
// be a bare version (treated as a lower bound) or a semver constraint.
// Development builds are not checked.
func (m *Manifest) CheckVersion(version string) error {
	if m.MinVersion == "" || version == "" || version == "dev" {
		return nil
	}

	constraint, err := versionConstraint(m.MinVersion)
	if err != nil {
		return &ManifestError{Path: m.Path, Problems: []string{fmt.Sprintf("invalid min_version %q: %v", m.MinVersion, err)}}
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid stagerun version %q: %w", version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("manifest requires stagerun %s, running %s", m.MinVersion, version)
	}
	return nil
}

func versionConstraint(value string) (*semver.Constraints, error) {
	if v, err := semver.NewVersion(value); err == nil {
		return semver.NewConstraint(">= " + v.String())
	}
	return semver.NewConstraint(value)
}

// BuildOptions are the per-invocation inputs used to turn a manifest into a
// pipeline.
type BuildOptions struct {
	// Vars override manifest vars.
	Vars     map[string]string
	Galaxy   *galaxy.Collection
	Verbose  bool
	Workdir  string
	Builtins *command.Registry
	Version  string
}

// Build validates the manifest and produces a pipeline. Every command
// template is parsed and rendered here, so undefined vars fail before
// anything runs. Templates that reference galaxy metadata when none was
// loaded are rendered when their stage is prepared, so they only fail when
// that stage is selected.
func (m *Manifest) Build(opts BuildOptions) (*Pipeline, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := m.CheckVersion(opts.Version); err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(m.Vars)+len(opts.Vars))
	for k, v := range m.Vars {
		vars[k] = v
	}
	for k, v := range opts.Vars {
		vars[k] = v
	}
	data := TemplateData{
		Vars:    vars,
		Galaxy:  opts.Galaxy,
		Verbose: opts.Verbose,
		Workdir: opts.Workdir,
	}

	builtins := opts.Builtins
	if builtins == nil {
		builtins = command.DefaultRegistry()
	}
	builtins = builtins.Clone()

	p := New(m.Name)
	p.Description = m.Description
	p.Default = m.Default
	if _, ok := builtins.Lookup("help"); !ok {
		builtins.Register("help", helpBuiltin(p))
	}

	for _, spec := range m.Stages {
		stage := &Stage{
			Name:               spec.Name,
			Description:        spec.Description,
			Prerequisites:      append([]string{}, spec.Needs...),
			VerbositySensitive: spec.IsVerbositySensitive(),
		}
		for _, cmd := range spec.Commands {
			if cmd.kind() == "builtin" {
				if _, ok := builtins.Lookup(cmd.Builtin); !ok {
					return nil, &ManifestError{Path: m.Path, Problems: []string{
						fmt.Sprintf("stage %s uses unknown builtin %s", spec.Name, cmd.Builtin),
					}}
				}
			}
			tc := &templateCommand{
				stage:    spec.Name,
				spec:     cmd,
				data:     data,
				builtins: builtins,
			}
			if err := tc.check(); err != nil {
				return nil, err
			}
			stage.Commands = append(stage.Commands, tc)
		}
		if err := p.Register(stage); err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
