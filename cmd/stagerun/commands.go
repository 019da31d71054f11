package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zen-systems/stagerun/pkg/pipeline"
)

func newRootCmd(a *app) *cobra.Command {
	var dryRun bool

	rootCmd := &cobra.Command{
		Use:   "stagerun [targets...]",
		Short: "Declarative build-stage runner for the Docker Ansible collection",
		Long: `stagerun runs named build stages (lint, typecheck, test, docs, galaxy
packaging) together with their prerequisites, in order, stopping at the first
failing command.

Targets may be given directly: "stagerun lint-check" is "stagerun run lint-check".
Without targets the pipeline's default stage runs.`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTargets(cmd, args, dryRun)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// "help" is a pipeline stage, so cobra's help subcommand is hidden away;
	// --help still works.
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "path to a config file (default: .stagerun.yaml in the workdir)")
	pf.BoolP("verbose", "v", false, "echo every command before running it")
	pf.StringP("workdir", "C", ".", "directory the pipeline runs in")
	pf.StringP("file", "f", "", "stage manifest (default: stages.yaml in the workdir, else the built-in collection pipeline)")
	pf.StringArrayVar(&a.sets, "set", nil, "override a manifest var, KEY=VALUE (repeatable)")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&a.theme, "theme", "", "console theme: dark or light")

	addRunFlags(rootCmd, &dryRun)

	rootCmd.AddCommand(runCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(planCmd(a))
	rootCmd.AddCommand(validateCmd(a))
	rootCmd.AddCommand(attestCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func addRunFlags(cmd *cobra.Command, dryRun *bool) {
	cmd.Flags().BoolVarP(dryRun, "dry-run", "n", false, "print the commands that would run without running them")
	cmd.Flags().Bool("evidence", false, "write run evidence records")
}

func runCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run [targets...]",
		Short: "Run stages and their prerequisites",
		Long: `Resolves the targets' prerequisites depth-first, runs each stage once in
order and stops at the first command that exits non-zero. The exit status is
that command's.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTargets(cmd, args, dryRun)
		},
	}
	addRunFlags(cmd, &dryRun)
	return cmd
}

func (a *app) runTargets(cmd *cobra.Command, args []string, dryRun bool) error {
	s, err := a.load(cmd)
	if err != nil {
		return err
	}

	targets := s.targets(args)
	if len(targets) > 0 {
		if _, err := s.pipeline.Resolve(targets); err != nil {
			return err
		}
	}

	opts, err := s.runOptions(a, dryRun)
	if err != nil {
		return err
	}
	result, err := pipeline.Run(cmd.Context(), s.pipeline, targets, opts)
	if err != nil && result != nil {
		return &reportedError{err}
	}
	return err
}

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stages and target aliases",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.load(cmd)
			if err != nil {
				return err
			}
			s.printer.Stages(s.pipeline, s.aliases.ListAliases())
			return nil
		},
	}
}

func planCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [targets...]",
		Short: "Show the resolved execution order",
		Long:  "Resolves targets and renders every command without running anything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.load(cmd)
			if err != nil {
				return err
			}
			r, err := pipeline.NewRunner(s.pipeline, pipeline.RunOptions{Workdir: s.workdir, Logger: s.log})
			if err != nil {
				return err
			}
			order, err := r.Plan(s.targets(args))
			if err != nil {
				return err
			}
			s.printer.Plan(order)
			return nil
		},
	}
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [stages.yaml]",
		Short: "Validate a stage manifest",
		Long:  "Checks the manifest schema, prerequisites and cycles without running anything.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("file", args[0]); err != nil {
					return err
				}
			}
			s, err := a.load(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d stages.\n", s.manifest.Path, s.pipeline.Len())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stagerun version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stagerun %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
