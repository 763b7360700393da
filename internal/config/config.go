package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration for filament-lower
type Config struct {
	// Solver controls schedule solving
	Solver SolverConfig `json:"solver,omitempty"`

	// Library lists HCL primitive libraries merged over the built-in one
	Library LibraryConfig `json:"library,omitempty"`

	// Lint contains lint rule configuration
	Lint LintConfig `json:"lint,omitempty"`

	// Output controls what is printed
	Output OutputConfig `json:"output,omitempty"`

	// Analysis contains instrumentation options
	Analysis AnalysisConfig `json:"analysis,omitempty"`
}

// SolverConfig selects and tunes the constraint solver
type SolverConfig struct {
	// Backend is "native" (built in) or "z3" (external process)
	Backend string `json:"backend,omitempty"`

	// Baseline is the cycle the interface event is pinned to
	Baseline int64 `json:"baseline,omitempty"`

	// Horizon bounds every start time (0 = derived from the component)
	Horizon int64 `json:"horizon,omitempty"`

	// Z3Path is the z3 executable for the z3 backend
	Z3Path string `json:"z3Path,omitempty"`

	// Timeout bounds one solve, as a Go duration ("30s"); empty = none
	Timeout string `json:"timeout,omitempty"`

	// MaxNodes bounds the native search (0 = default)
	MaxNodes int `json:"maxNodes,omitempty"`
}

// LibraryConfig names primitive library files
type LibraryConfig struct {
	// Files is a list of glob patterns for .hcl library files
	Files []string `json:"files,omitempty"`

	// Exclude is a list of glob patterns to exclude
	Exclude []string `json:"exclude,omitempty"`
}

// LintConfig contains linting configuration
type LintConfig struct {
	// Enabled turns the lint stage on
	Enabled *bool `json:"enabled,omitempty"`

	// Rules maps rule names to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty"`

	// Policies is a directory of extra .rego files in package filament.lint
	Policies string `json:"policies,omitempty"`
}

// OutputConfig controls the printed result
type OutputConfig struct {
	// Format is "text" (rendered component) or "json"
	Format string `json:"format,omitempty"`

	// Validate checks JSON output and lint input against the CUE schema
	Validate *bool `json:"validate,omitempty"`
}

// AnalysisConfig contains instrumentation options
type AnalysisConfig struct {
	// Timing records per-stage durations
	Timing bool `json:"timing,omitempty"`

	// TimingPath is the JSONL file timings are appended to
	TimingPath string `json:"timingPath,omitempty"`
}

var (
	backends   = map[string]bool{"native": true, "z3": true}
	formats    = map[string]bool{"text": true, "json": true}
	severities = map[string]bool{"off": true, "info": true, "warning": true, "error": true}
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Solver: SolverConfig{
			Backend: "native",
			Z3Path:  "z3",
		},
		Library: LibraryConfig{
			Files:   []string{},
			Exclude: []string{},
		},
		Lint: LintConfig{
			Enabled: boolPtr(true),
			Rules:   map[string]string{},
		},
		Output: OutputConfig{
			Format:   "text",
			Validate: boolPtr(true),
		},
		Analysis: AnalysisConfig{
			TimingPath: ".filament_timing.jsonl",
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./filament.json (current working directory)
//  2. ./.filament.json (current working directory)
//  3. <dir of rootPath>/filament.json (if different from cwd)
//  4. ~/.config/filament/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	searchPaths := []string{
		filepath.Join(cwd, "filament.json"),
		filepath.Join(cwd, ".filament.json"),
	}

	// A source file's directory may carry its own config
	if rootPath != "" {
		dir := rootPath
		if info, err := os.Stat(rootPath); err == nil && !info.IsDir() {
			dir = filepath.Dir(rootPath)
		}
		if absDir, err := filepath.Abs(dir); err == nil && absDir != cwd {
			searchPaths = append(searchPaths,
				filepath.Join(absDir, "filament.json"),
				filepath.Join(absDir, ".filament.json"),
			)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "filament", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Solver.Backend == "" {
		c.Solver.Backend = def.Solver.Backend
	}
	if c.Solver.Z3Path == "" {
		c.Solver.Z3Path = def.Solver.Z3Path
	}
	if c.Library.Files == nil {
		c.Library.Files = []string{}
	}
	if c.Lint.Enabled == nil {
		c.Lint.Enabled = boolPtr(true)
	}
	if c.Lint.Rules == nil {
		c.Lint.Rules = make(map[string]string)
	}
	if c.Output.Format == "" {
		c.Output.Format = def.Output.Format
	}
	if c.Output.Validate == nil {
		c.Output.Validate = boolPtr(true)
	}
	if c.Analysis.TimingPath == "" {
		c.Analysis.TimingPath = def.Analysis.TimingPath
	}
}

// Validate rejects values no stage can act on
func (c *Config) Validate() error {
	if !backends[c.Solver.Backend] {
		return fmt.Errorf("solver.backend %q: want native or z3", c.Solver.Backend)
	}
	if c.Solver.Baseline < 0 {
		return fmt.Errorf("solver.baseline %d is negative", c.Solver.Baseline)
	}
	if c.Solver.Horizon < 0 {
		return fmt.Errorf("solver.horizon %d is negative", c.Solver.Horizon)
	}
	if _, err := c.SolverTimeout(); err != nil {
		return err
	}
	if !formats[c.Output.Format] {
		return fmt.Errorf("output.format %q: want text or json", c.Output.Format)
	}
	for rule, sev := range c.Lint.Rules {
		if !severities[sev] {
			return fmt.Errorf("lint.rules.%s: unknown severity %q", rule, sev)
		}
	}
	return nil
}

// SolverTimeout parses Solver.Timeout; zero means no timeout
func (c *Config) SolverTimeout() (time.Duration, error) {
	if c.Solver.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Solver.Timeout)
	if err != nil {
		return 0, fmt.Errorf("solver.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("solver.timeout %s is negative", d)
	}
	return d, nil
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity != "off"
	}
	return true // enabled by default
}

// LintEnabled reports whether the lint stage runs
func (c *Config) LintEnabled() bool {
	return c.Lint.Enabled == nil || *c.Lint.Enabled
}

// ValidateOutput reports whether output is checked against the schema
func (c *Config) ValidateOutput() bool {
	return c.Output.Validate == nil || *c.Output.Validate
}
