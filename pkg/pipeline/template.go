package pipeline

import (
	"context"
	"strings"
	"text/template"

	"github.com/zen-systems/stagerun/pkg/command"
	"github.com/zen-systems/stagerun/pkg/galaxy"
)

// TemplateData is exposed to manifest command templates.
type TemplateData struct {
	Vars    map[string]string
	Galaxy  *galaxy.Collection
	Verbose bool
	Workdir string
}

// templateCommand renders a manifest command on Prepare and delegates to the
// concrete command it produces.
type templateCommand struct {
	stage    string
	spec     CommandSpec
	data     TemplateData
	builtins *command.Registry
	resolved command.Command
}

func (c *templateCommand) Describe() string {
	if c.resolved != nil {
		return c.resolved.Describe()
	}
	return c.spec.raw()
}

func (c *templateCommand) Prepare() error {
	if c.resolved != nil {
		return nil
	}

	env := make(map[string]string, len(c.spec.Env))
	for k, v := range c.spec.Env {
		rendered, err := c.render(v)
		if err != nil {
			return err
		}
		env[k] = rendered
	}
	dir, err := c.render(c.spec.Dir)
	if err != nil {
		return err
	}
	opts := command.Options{Dir: dir, Env: env}

	var resolved command.Command
	switch c.spec.kind() {
	case "run":
		line, err := c.render(c.spec.Run)
		if err != nil {
			return err
		}
		resolved, err = command.NewShell(line, opts)
		if err != nil {
			return &RenderError{Stage: c.stage, Template: c.spec.Run, Err: err}
		}
	case "exec":
		argv, err := c.renderAll(c.spec.Exec)
		if err != nil {
			return err
		}
		resolved, err = command.NewExec(argv, opts)
		if err != nil {
			return &RenderError{Stage: c.stage, Template: c.spec.raw(), Err: err}
		}
	case "builtin":
		args, err := c.renderAll(c.spec.Args)
		if err != nil {
			return err
		}
		fn, _ := c.builtins.Lookup(c.spec.Builtin)
		resolved, err = command.NewBuiltin(c.spec.Builtin, args, fn)
		if err != nil {
			return &RenderError{Stage: c.stage, Template: c.spec.raw(), Err: err}
		}
	default:
		return &RenderError{Stage: c.stage, Template: c.spec.raw(), Err: errEmptyCommand}
	}

	c.resolved = resolved
	return nil
}

// check parses every template of the command and, unless it depends on
// galaxy metadata that is absent, renders it. Commands that reference
// .Galaxy without metadata only fail when their stage is prepared.
func (c *templateCommand) check() error {
	texts := c.templates()
	needsGalaxy := false
	for _, text := range texts {
		if !strings.Contains(text, "{{") {
			continue
		}
		if _, err := c.parse(text); err != nil {
			return err
		}
		if strings.Contains(text, ".Galaxy") {
			needsGalaxy = true
		}
	}
	if needsGalaxy && c.data.Galaxy == nil {
		return nil
	}
	return c.Prepare()
}

// templates lists every templated field of the command.
func (c *templateCommand) templates() []string {
	texts := []string{c.spec.Run, c.spec.Dir}
	texts = append(texts, c.spec.Exec...)
	texts = append(texts, c.spec.Args...)
	for _, v := range c.spec.Env {
		texts = append(texts, v)
	}
	return texts
}

func (c *templateCommand) Execute(ctx context.Context, env command.Env) (int, error) {
	if err := c.Prepare(); err != nil {
		return -1, err
	}
	return c.resolved.Execute(ctx, env)
}

func (c *templateCommand) render(text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := c.parse(text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, c.data); err != nil {
		return "", &RenderError{Stage: c.stage, Template: text, Err: err}
	}
	return sb.String(), nil
}

func (c *templateCommand) parse(text string) (*template.Template, error) {
	tmpl, err := template.New(c.stage).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, &RenderError{Stage: c.stage, Template: text, Err: err}
	}
	return tmpl, nil
}

func (c *templateCommand) renderAll(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		rendered, err := c.render(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}
