package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zen-systems/stagerun/pkg/collection"
	"github.com/zen-systems/stagerun/pkg/config"
	"github.com/zen-systems/stagerun/pkg/console"
	"github.com/zen-systems/stagerun/pkg/evidence"
	"github.com/zen-systems/stagerun/pkg/galaxy"
	"github.com/zen-systems/stagerun/pkg/pipeline"
)

// DefaultManifestFile is picked up from the workdir when no manifest is
// configured.
const DefaultManifestFile = "stages.yaml"

// app holds the streams and flag values shared by every command.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configFile string
	sets       []string
	theme      string
}

// session is a loaded configuration and pipeline for one invocation.
type session struct {
	cfg      *config.Config
	log      *slog.Logger
	workdir  string
	manifest *pipeline.Manifest
	pipeline *pipeline.Pipeline
	aliases  *config.TargetAliases
	printer  *console.Printer
}

func (a *app) load(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return nil, &usageError{err}
	}
	logger := config.SetupLogger(cfg, a.stderr)

	workdir, err := filepath.Abs(cfg.Workdir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(workdir); err != nil || !info.IsDir() {
		return nil, &usageError{fmt.Errorf("workdir %s is not a directory", cfg.Workdir)}
	}

	vars, err := a.vars(cfg)
	if err != nil {
		return nil, err
	}

	manifest, err := loadManifest(workdir, cfg.Manifest)
	if err != nil {
		return nil, err
	}
	logger.Debug("manifest loaded", "path", manifest.Path, "stages", len(manifest.Stages))

	coll, err := galaxy.Load(workdir)
	if err != nil {
		logger.Warn("ignoring collection metadata", "error", err)
	}

	p, err := manifest.Build(pipeline.BuildOptions{
		Vars:    vars,
		Galaxy:  coll,
		Verbose: cfg.Verbose,
		Workdir: workdir,
		Version: version,
	})
	if err != nil {
		return nil, err
	}

	aliases := config.NewTargetAliases(cfg.Aliases)
	names := make([]string, 0, p.Len())
	for _, s := range p.Stages() {
		names = append(names, s.Name)
	}
	for _, err := range aliases.Validate(names, false) {
		logger.Debug("alias ignored", "error", err)
	}

	return &session{
		cfg:      cfg,
		log:      logger,
		workdir:  workdir,
		manifest: manifest,
		pipeline: p,
		aliases:  aliases,
		printer:  console.NewPrinter(a.stdout, a.stderr, console.Options{Verbose: cfg.Verbose, Theme: a.theme}),
	}, nil
}

// vars merges config file vars with --set overrides.
func (a *app) vars(cfg *config.Config) (map[string]string, error) {
	vars := make(map[string]string, len(cfg.Vars)+len(a.sets))
	for k, v := range cfg.Vars {
		vars[k] = v
	}
	for _, set := range a.sets {
		key, value, ok := strings.Cut(set, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, &usageError{fmt.Errorf("invalid --set %q, want KEY=VALUE", set)}
		}
		vars[strings.TrimSpace(key)] = value
	}
	return vars, nil
}

// loadManifest reads the configured manifest, the workdir's stages.yaml, or
// the embedded collection pipeline, in that order.
func loadManifest(workdir, path string) (*pipeline.Manifest, error) {
	if path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(workdir, path)
		}
		return pipeline.LoadManifest(path)
	}

	local := filepath.Join(workdir, DefaultManifestFile)
	if _, err := os.Stat(local); err == nil {
		return pipeline.LoadManifest(local)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return collection.Manifest()
}

// targets maps command-line names to stages. Registered stage names win
// over aliases.
func (s *session) targets(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if _, ok := s.pipeline.Stage(arg); ok {
			out[i] = arg
			continue
		}
		out[i] = s.aliases.Resolve(arg)
	}
	return out
}

func (s *session) runOptions(a *app, dryRun bool) (pipeline.RunOptions, error) {
	opts := pipeline.RunOptions{
		Workdir:      s.workdir,
		Verbose:      s.cfg.Verbose,
		DryRun:       dryRun,
		Environ:      os.Environ(),
		Stdin:        a.stdin,
		Stdout:       a.stdout,
		Stderr:       a.stderr,
		Logger:       s.log,
		Observer:     s.printer,
		ManifestFile: s.manifest.Path,
		Version:      version,
	}
	if s.cfg.Evidence.Enabled && !dryRun {
		w, err := evidence.NewWriter(s.cfg.EvidenceDir(s.workdir), evidence.NewRunID())
		if err != nil {
			return opts, fmt.Errorf("create evidence directory: %w", err)
		}
		opts.Evidence = w
	}
	return opts, nil
}
