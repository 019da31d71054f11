package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Func is the body of a builtin command.
type Func func(ctx context.Context, env Env, args []string) error

// Builtin runs an in-process function as a command.
type Builtin struct {
	name string
	args []string
	fn   Func
}

// NewBuiltin creates a builtin command.
func NewBuiltin(name string, args []string, fn Func) (*Builtin, error) {
	if name == "" {
		return nil, fmt.Errorf("builtin command requires a name")
	}
	if fn == nil {
		return nil, fmt.Errorf("builtin %s has no implementation", name)
	}
	return &Builtin{name: name, args: append([]string{}, args...), fn: fn}, nil
}

// Describe returns the builtin invocation.
func (b *Builtin) Describe() string {
	if len(b.args) == 0 {
		return b.name
	}
	return b.name + " " + strings.Join(b.args, " ")
}

// Execute runs the builtin. Errors from the function are reported on
// stderr and mapped to exit status 1.
func (b *Builtin) Execute(ctx context.Context, env Env) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if err := b.fn(ctx, env, b.args); err != nil {
		fmt.Fprintf(env.stderr(), "%s: %v\n", b.name, err)
		return 1, nil
	}
	return 0, nil
}

// Registry maps builtin names to implementations.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// DefaultRegistry returns a registry with the filesystem builtins.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("rmtree", removeTree)
	r.Register("mkdir", makeDirs)
	r.Register("copy", copyFile)
	return r
}

// Register adds or replaces a builtin.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Lookup returns the builtin registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered builtin names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy that can be extended without touching r.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	for name, fn := range r.funcs {
		c.funcs[name] = fn
	}
	return c
}

func removeTree(_ context.Context, env Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	for _, arg := range args {
		target, err := confinedPath(env.Workdir, arg)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}
	return nil
}

func makeDirs(_ context.Context, env Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	for _, arg := range args {
		target, err := confinedPath(env.Workdir, arg)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies src to dest. A dest ending in a separator, or naming an
// existing directory, receives the file under its base name.
func copyFile(_ context.Context, env Env, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: copy <src> <dest>")
	}
	src, err := confinedPath(env.Workdir, args[0])
	if err != nil {
		return err
	}
	dest, err := confinedPath(env.Workdir, args[1])
	if err != nil {
		return err
	}
	if strings.HasSuffix(args[1], "/") {
		dest = filepath.Join(dest, filepath.Base(src))
	} else if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, filepath.Base(src))
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", args[0])
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
