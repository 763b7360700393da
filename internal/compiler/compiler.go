// Package compiler drives a source file through the whole pipeline:
// extract, solve, lower, verify, lint and render.
//
// Each stage trusts the one before it. The solver never sees a component
// the extractor rejected, and lowering never runs on a component without a
// model; any stage error aborts the file. The CUE validator guards the
// data handed to OPA and the JSON written out, so a contract drift fails
// loudly instead of silently dropping lint findings.
package compiler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/robert-at-pretension-io/filament-lower/internal/config"
	"github.com/robert-at-pretension-io/filament-lower/internal/extractor"
	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
	"github.com/robert-at-pretension-io/filament-lower/internal/library"
	"github.com/robert-at-pretension-io/filament-lower/internal/lower"
	"github.com/robert-at-pretension-io/filament-lower/internal/policy"
	"github.com/robert-at-pretension-io/filament-lower/internal/schedule"
	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
	"github.com/robert-at-pretension-io/filament-lower/internal/validator"
)

// Compiler holds the configuration shared by every file it compiles.
type Compiler struct {
	// Configuration loaded from filament.json
	Config *config.Config

	// Logger receives stage progress; nil discards it
	Logger *slog.Logger

	// Library overrides the primitive library built from Config
	Library *library.Library

	// Backend overrides the solver selected by Config
	Backend schedule.Backend

	// RootPath anchors relative library globs
	RootPath string
}

// Result is one compiled component.
type Result struct {
	Source  *ir.Component
	Model   *schedule.Model
	Lowered *ir.Component
	Lint    *policy.Result
}

// Report is the outcome of compiling one file.
type Report struct {
	Run     string
	File    string
	Forms   []sexpr.Node
	Results []Result

	dependents dependentsGraph
}

// New creates a Compiler; a nil cfg means config.DefaultConfig.
func New(cfg *config.Config) *Compiler {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Compiler{Config: cfg}
}

func (c *Compiler) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

// CompileFile reads and compiles path.
func (c *Compiler) CompileFile(ctx context.Context, path string) (*Report, error) {
	return c.compile(ctx, path, func(ex *extractor.Extractor) (extractor.Unit, error) {
		return ex.Extract(path)
	})
}

// Compile compiles source text; name labels it in logs and output.
func (c *Compiler) Compile(ctx context.Context, name string, src []byte) (*Report, error) {
	return c.compile(ctx, name, func(ex *extractor.Extractor) (extractor.Unit, error) {
		return ex.ExtractSource(src)
	})
}

func (c *Compiler) compile(ctx context.Context, file string, extract func(*extractor.Extractor) (extractor.Unit, error)) (*Report, error) {
	started := time.Now()
	report := &Report{Run: ulid.Make().String(), File: file}
	log := c.logger().With("run", report.Run, "file", file)

	timing := newTimingRecorder(report.Run, started, c.resolveTimingPath())
	defer timing.Close()
	if err := timing.Err(); err != nil {
		log.Warn("timing disabled", "error", err)
	}

	var (
		unit   extractor.Unit
		lib    *library.Library
		engine *policy.Engine
		valid  *validator.Validator
	)
	err := timing.stage("setup", file, func() error {
		var err error
		if lib, err = c.library(); err != nil {
			return err
		}
		if c.Config.LintEnabled() {
			if engine, err = policy.New(c.Config.Lint.Policies); err != nil {
				return fmt.Errorf("loading lint policies: %w", err)
			}
		}
		if c.Config.ValidateOutput() {
			if valid, err = validator.New(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = timing.stage("extract", file, func() error {
		var err error
		unit, err = extract(extractor.New())
		return err
	})
	if err != nil {
		return nil, err
	}
	report.Forms = unit.Forms
	report.dependents = buildDependentsGraph(unit.Components)
	ordered, err := callOrder(unit.Components, report.dependents)
	if err != nil {
		return nil, err
	}
	log.Debug("extracted", "components", len(unit.Components))

	for _, comp := range ordered {
		res, err := c.component(ctx, log.With("component", comp.Name()), timing, comp, lib, engine, valid)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", comp.Name(), err)
		}
		report.Results = append(report.Results, res)
	}

	if valid != nil {
		if err := valid.Validate(validator.Report, report.Output()); err != nil {
			return nil, fmt.Errorf("output contract: %w", err)
		}
	}
	timing.record("total", "stage", file, "", "ok", started, time.Since(started))
	log.Info("compiled", "components", len(report.Results), "elapsed", time.Since(started))
	return report, nil
}

func (c *Compiler) component(ctx context.Context, log *slog.Logger, timing *timingRecorder, comp *ir.Component,
	lib *library.Library, engine *policy.Engine, valid *validator.Validator) (Result, error) {
	res := Result{Source: comp}
	opts, err := c.options()
	if err != nil {
		return res, err
	}
	timeout, err := c.Config.SolverTimeout()
	if err != nil {
		return res, err
	}

	err = timing.component("solve", comp.Name(), func() error {
		solveCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			solveCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res.Model, err = schedule.Solve(solveCtx, comp, opts)
		return err
	})
	if err != nil {
		return res, err
	}
	log.Debug("solved", "states", res.Model.States, "events", res.Model.Events)

	err = timing.component("lower", comp.Name(), func() error {
		res.Lowered, err = lower.Lower(comp, res.Model, lib)
		return err
	})
	if err != nil {
		return res, err
	}

	err = timing.component("verify", comp.Name(), func() error {
		return lower.Verify(ctx, res.Lowered, res.Model, opts)
	})
	if err != nil {
		return res, err
	}

	if engine != nil {
		err = timing.component("lint", comp.Name(), func() error {
			input := policy.BuildInput(comp, policy.NewSettings(c.Config.Lint.Rules))
			if valid != nil {
				if err := valid.Validate(validator.LintInput, input); err != nil {
					return fmt.Errorf("lint input contract: %w", err)
				}
			}
			res.Lint, err = engine.Evaluate(ctx, input)
			return err
		})
		if err != nil {
			return res, err
		}
		log.Debug("linted", "violations", res.Lint.Summary.TotalViolations)
	}
	return res, nil
}

// options maps the solver config onto schedule options.
func (c *Compiler) options() (schedule.Options, error) {
	opts := schedule.Options{
		Baseline: c.Config.Solver.Baseline,
		Horizon:  c.Config.Solver.Horizon,
		Backend:  c.Backend,
	}
	if opts.Backend != nil {
		return opts, nil
	}
	switch c.Config.Solver.Backend {
	case "", "native":
		opts.Backend = schedule.Native{MaxNodes: c.Config.Solver.MaxNodes}
	case "z3":
		opts.Backend = schedule.SMT{Path: c.Config.Solver.Z3Path}
	default:
		return opts, fmt.Errorf("unknown solver backend %q", c.Config.Solver.Backend)
	}
	return opts, nil
}

// library merges the configured library files over the built-in set.
func (c *Compiler) library() (*library.Library, error) {
	if c.Library != nil {
		return c.Library, nil
	}
	lib := library.Default()
	files, err := c.Config.LibraryFiles(c.RootPath)
	if err != nil {
		return nil, fmt.Errorf("resolving library files: %w", err)
	}
	for _, f := range files {
		extra, err := library.Load(f)
		if err != nil {
			return nil, err
		}
		lib = lib.Merge(extra)
		c.logger().Debug("loaded library", "path", f, "primitives", len(extra.Names()))
	}
	return lib, nil
}
