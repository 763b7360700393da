package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
)

//go:embed lint.rego
var lintModule string

// Rules lists the rules of the embedded policy with their default
// severity.
var Rules = map[string]string{
	"unused-instance": "warning",
	"unused-input":    "info",
	"width-mismatch":  "warning",
	"interface-width": "warning",
}

// Engine evaluates Rego lint policies against components
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

// Violation represents a policy violation
type Violation struct {
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation
	Summary    Summary
}

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// Input is the data structure passed to OPA
type Input struct {
	Component string     `json:"component"`
	Ports     []Port     `json:"ports"`
	Instances []Instance `json:"instances"`
	Invokes   []Invoke   `json:"invokes"`
	Connects  []Connect  `json:"connects"`
	Config    Settings   `json:"config"`
}

type Port struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Width     int    `json:"width"`
}

type Instance struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Width int    `json:"width"`
}

type Invoke struct {
	Name     string   `json:"name"`
	Function string   `json:"function"`
	Ports    []string `json:"ports"`
	Lowered  bool     `json:"lowered"`
}

// Connect carries the resolved widths of both ends; 0 means unknown.
type Connect struct {
	Dest      string `json:"dest"`
	Src       string `json:"src"`
	Guard     string `json:"guard"`
	DestWidth int    `json:"dest_width"`
	SrcWidth  int    `json:"src_width"`
}

// Settings carries per-rule severity overrides into the policy.
type Settings struct {
	Severities map[string]string `json:"severities"`
	Disabled   map[string]bool   `json:"disabled"`
}

// NewSettings splits a rule -> severity map, where "off" disables a rule.
func NewSettings(rules map[string]string) Settings {
	s := Settings{Severities: map[string]string{}, Disabled: map[string]bool{}}
	for rule, sev := range rules {
		if sev == "off" {
			s.Disabled[rule] = true
			continue
		}
		s.Severities[rule] = sev
	}
	return s
}

// New creates a policy engine from the embedded rules plus every .rego
// file in policyDir. An empty policyDir uses the embedded rules alone.
func New(policyDir string) (*Engine, error) {
	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
	}

	modules := []func(*rego.Rego){rego.Module("lint.rego", lintModule)}
	if policyDir != "" {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no policy files found in %s", policyDir)
		}
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
		}
	}

	for name, query := range map[string]string{
		"violations": "data.filament.lint.all_violations",
		"summary":    "data.filament.lint.summary",
	} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(query))
		prepared, err := rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = prepared
	}
	return engine, nil
}

// BuildInput flattens comp into the policy input.
func BuildInput(comp *ir.Component, settings Settings) Input {
	in := Input{Component: comp.Name(), Config: settings}
	for _, p := range comp.Signature.Ports() {
		in.Ports = append(in.Ports, Port{Name: p.Name, Direction: p.Direction.String(), Width: p.Width})
	}
	for _, cmd := range comp.Commands {
		switch c := cmd.(type) {
		case *ir.Instance:
			in.Instances = append(in.Instances, Instance{Name: c.Var, Type: c.Type, Width: c.Width})
		case *ir.Invoke:
			in.Invokes = append(in.Invokes, Invoke{Name: c.Var, Function: c.Function, Ports: c.Ports, Lowered: c.Lowered})
		case *ir.Connect:
			in.Connects = append(in.Connects, Connect{
				Dest:      c.Dest,
				Src:       c.Src,
				Guard:     c.Guard,
				DestWidth: width(comp, c.Dest),
				SrcWidth:  width(comp, c.Src),
			})
		case *ir.FSM:
		default:
			panic(fmt.Sprintf("policy: unknown command %T", cmd))
		}
	}
	return in
}

// width resolves the bit width of a port reference, or 0.
func width(comp *ir.Component, ref string) int {
	owner, port := ir.SplitRef(ref)
	if port == "" {
		if p, ok := comp.Signature.Port(owner); ok {
			return p.Width
		}
		return 0
	}
	if inst, ok := comp.Instance(owner); ok {
		return inst.Width
	}
	if inv, ok := comp.Invoke(owner); ok {
		if inst, ok := comp.Instance(inv.Function); ok {
			return inst.Width
		}
	}
	if f, ok := comp.FSM(); ok && f.Name == owner {
		return 1
	}
	return 0
}

// Evaluate runs the policies against the input data
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	// Convert input to map for OPA
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{}

	rs, err := e.queries["violations"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range violations {
				vmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				result.Violations = append(result.Violations, Violation{
					Rule:      getString(vmap, "rule"),
					Severity:  getString(vmap, "severity"),
					Component: getString(vmap, "component"),
					Subject:   getString(vmap, "subject"),
					Message:   getString(vmap, "message"),
				})
			}
		}
	}
	sort.Slice(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Subject < b.Subject
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		smap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
		if ok {
			result.Summary = Summary{
				TotalViolations: getInt(smap, "total_violations"),
				Errors:          getInt(smap, "errors"),
				Warnings:        getInt(smap, "warnings"),
				Info:            getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

// Lint evaluates comp with the given rule overrides.
func (e *Engine) Lint(ctx context.Context, comp *ir.Component, rules map[string]string) (*Result, error) {
	return e.Evaluate(ctx, BuildInput(comp, NewSettings(rules)))
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
