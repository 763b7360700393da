package compiler

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
	"github.com/robert-at-pretension-io/filament-lower/internal/policy"
	"github.com/robert-at-pretension-io/filament-lower/internal/render"
)

// Output is the machine-readable form of one compiled component. Its
// shape is the #Output definition in the validator schema.
type Output struct {
	Name       string             `json:"name"`
	Baseline   int64              `json:"baseline"`
	States     int                `json:"states"`
	Events     map[string]int64   `json:"events"`
	Starts     map[string]int64   `json:"starts"`
	Active     []int              `json:"active"`
	Commands   []CommandOutput    `json:"commands"`
	Rendered   string             `json:"rendered"`
	Violations []policy.Violation `json:"violations"`
}

// CommandOutput is one lowered command.
type CommandOutput struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	Var     string `json:"var,omitempty"`
	Lowered *bool  `json:"lowered,omitempty"`
}

// ReportOutput is the machine-readable form of a Report.
type ReportOutput struct {
	Run        string   `json:"run"`
	File       string   `json:"file"`
	Components []Output `json:"components"`
}

// Output converts r for JSON encoding.
func (r *Report) Output() ReportOutput {
	out := ReportOutput{Run: r.Run, File: r.File, Components: make([]Output, 0, len(r.Results))}
	for _, res := range r.Results {
		out.Components = append(out.Components, res.Output())
	}
	return out
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Output())
}

// Output converts one result for JSON encoding.
func (res Result) Output() Output {
	m := res.Model
	out := Output{
		Name:       res.Lowered.Name(),
		Baseline:   m.Baseline,
		States:     m.States,
		Events:     m.Events,
		Starts:     m.Starts,
		Active:     make([]int, len(m.Active)),
		Commands:   make([]CommandOutput, 0, len(res.Lowered.Commands)),
		Rendered:   render.Component(res.Lowered),
		Violations: []policy.Violation{},
	}
	for t := range m.Active {
		out.Active[t] = m.StateAt(t)
	}
	for _, cmd := range res.Lowered.Commands {
		out.Commands = append(out.Commands, commandOutput(cmd))
	}
	if res.Lint != nil && len(res.Lint.Violations) > 0 {
		out.Violations = res.Lint.Violations
	}
	return out
}

func commandOutput(cmd ir.Command) CommandOutput {
	var co CommandOutput
	switch c := cmd.(type) {
	case *ir.Instance:
		co.Kind = "instance"
	case *ir.Invoke:
		co.Kind = "invoke"
		lowered := c.Lowered
		co.Lowered = &lowered
	case *ir.Connect:
		co.Kind = "connect"
	case *ir.FSM:
		co.Kind = "fsm"
	default:
		panic(fmt.Sprintf("compiler: unknown command %T", cmd))
	}
	co.Text = render.Command(cmd)
	co.Var = ir.Variable(cmd)
	return co
}
