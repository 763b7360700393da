// =============================================================================
// filament-lower - Main Entry Point
// =============================================================================
//
// Lowers timed hardware components into explicitly sequenced ones: every
// invocation is driven by a state of a generated FSM instead of by abstract
// event times.
//
// THE PIPELINE:
//   1. sexpr reads the source into nested lists
//   2. Extractor builds components (signature + commands)
//   3. Schedule solver assigns concrete times to every event and invoke
//   4. Lowering splices FSM state guards into each invoke
//   5. Verification re-solves the lowered component against the model
//   6. OPA lint policies run over the source component
//   7. The result is rendered as text, or JSON checked by the CUE contract
//
// WHEN A COMPONENT FAILS TO LOWER:
//   Run with --debug. The schedule listing shows which state each invoke
//   was placed in; a NotSupportedError names the instance and its arity.
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/filament-lower/internal/compiler"
	"github.com/robert-at-pretension-io/filament-lower/internal/config"
	"github.com/robert-at-pretension-io/filament-lower/internal/policy"
	"github.com/robert-at-pretension-io/filament-lower/internal/render"
)

var version = "0.1.0"

type options struct {
	configPath string
	backend    string
	baseline   int64
	json       bool
	lint       bool
	debug      bool
	timing     bool
	verbose    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit status.
func run(args []string, out, errOut io.Writer) int {
	root := newRootCmd(out)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(errOut, color.RedString("Error: %v", err))
		return 1
	}
	return 0
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:   "filament-lower <file>",
		Short: "Lower timed components into FSM-sequenced components",
		Long: `filament-lower schedules every event of each component in <file>,
then rewrites its invocations so they are driven by the states of a
generated FSM.

Configuration is read from, in order:
  1. ./filament.json
  2. ./.filament.json
  3. filament.json or .filament.json next to <file>
  4. ~/.config/filament/config.json

Run 'filament-lower init' to create a default configuration file.`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(cmd, out, args[0], &opts)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: search)")
	flags.StringVar(&opts.backend, "backend", "", "solver backend: native or z3")
	flags.Int64Var(&opts.baseline, "baseline", 0, "time of the interface event")
	flags.BoolVar(&opts.json, "json", false, "write JSON instead of text")
	flags.BoolVar(&opts.lint, "lint", true, "run lint policies")
	flags.BoolVar(&opts.debug, "debug", false, "print parsed forms, source components and schedules")
	flags.BoolVar(&opts.timing, "timing", false, "append stage timings to the timing JSONL file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log stage progress")

	root.AddCommand(newInitCmd(out))
	return root
}

func newInitCmd(out io.Writer) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a filament.json configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := "filament.json"
			if len(args) == 1 {
				configPath = args[0]
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
			}
			if err := config.DefaultConfig().Save(configPath); err != nil {
				return fmt.Errorf("creating config: %w", err)
			}
			fmt.Fprintf(out, "Created %s\n", configPath)
			fmt.Fprintln(out, "\nEdit this file to configure:")
			fmt.Fprintln(out, "  - Solver backend, baseline and timeout")
			fmt.Fprintln(out, "  - Extra primitive library files")
			fmt.Fprintln(out, "  - Lint rule severities")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func loadConfig(cmd *cobra.Command, path string, opts *options, log *slog.Logger) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(opts.configPath); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", opts.configPath, err)
		}
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			log.Warn("could not load config, using defaults", "error", err)
			cfg = config.DefaultConfig()
		}
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Solver.Backend = opts.backend
	}
	if flags.Changed("baseline") {
		cfg.Solver.Baseline = opts.baseline
	}
	if flags.Changed("lint") {
		cfg.Lint.Enabled = &opts.lint
	}
	if opts.json {
		cfg.Output.Format = "json"
	}
	if opts.timing {
		cfg.Analysis.Timing = true
	}
	return cfg, cfg.Validate()
}

func runLower(cmd *cobra.Command, out io.Writer, path string, opts *options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(cmd, path, opts, log)
	if err != nil {
		return err
	}

	c := compiler.New(cfg)
	c.Logger = log
	c.RootPath = filepath.Dir(path)
	report, err := c.CompileFile(cmd.Context(), path)
	if err != nil {
		return err
	}

	if cfg.Output.Format == "json" {
		return report.WriteJSON(out)
	}

	if opts.debug {
		fmt.Fprintf(out, "=== Parsed Forms ===\n")
		for _, f := range report.Forms {
			fmt.Fprintln(out, f.String())
		}
		for _, res := range report.Results {
			fmt.Fprintf(out, "\n=== Source: %s ===\n", res.Source.Name())
			fmt.Fprint(out, render.Component(res.Source))
			fmt.Fprintf(out, "\n=== Schedule: %s ===\n", res.Source.Name())
			fmt.Fprint(out, render.Model(res.Model))
		}
		fmt.Fprintf(out, "\n=== Invocation Impact ===\n")
		for _, res := range report.Results {
			fmt.Fprint(out, report.Impact(res.Source.Name()))
		}
		fmt.Fprintln(out)
	}

	var summary policy.Summary
	for i, res := range report.Results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, render.Component(res.Lowered))
		if res.Lint == nil {
			continue
		}
		for _, v := range res.Lint.Violations {
			fmt.Fprintln(out, formatViolation(v))
		}
		summary.TotalViolations += res.Lint.Summary.TotalViolations
		summary.Errors += res.Lint.Summary.Errors
		summary.Warnings += res.Lint.Summary.Warnings
		summary.Info += res.Lint.Summary.Info
	}

	if cfg.LintEnabled() && summary.TotalViolations > 0 {
		fmt.Fprintf(out, "\n=== Lint Summary ===\n")
		fmt.Fprintf(out, "  Errors:   %d\n", summary.Errors)
		fmt.Fprintf(out, "  Warnings: %d\n", summary.Warnings)
		fmt.Fprintf(out, "  Info:     %d\n", summary.Info)
	}
	if summary.Errors > 0 {
		return errLintFailed
	}
	return nil
}

var errLintFailed = errors.New("lint reported errors")

func formatViolation(v policy.Violation) string {
	icon := color.CyanString("ℹ")
	switch v.Severity {
	case "error":
		icon = color.RedString("✗")
	case "warning":
		icon = color.YellowString("⚠")
	}
	return fmt.Sprintf("%s [%s] %s.%s - %s", icon, v.Rule, v.Component, v.Subject, v.Message)
}
