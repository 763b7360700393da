// Package render prints signatures, commands and components in the
// surface syntax a hardware backend consumes.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
	"github.com/robert-at-pretension-io/filament-lower/internal/schedule"
	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

var precedence = map[string]int{"+": 1, "-": 1, "*": 2, "/": 2}

// Expr renders an event expression in infix form: (+ G 1) is G+1 and
// (* 2 (+ G 1)) is 2*(G+1). Anything that is not a binary arithmetic
// node is printed in prefix form.
func Expr(n sexpr.Node) string {
	s, _ := infix(n)
	return s
}

// infix returns the rendering and the precedence of its top operator;
// atoms and prefix fallbacks bind tightest.
func infix(n sexpr.Node) (string, int) {
	if n.IsAtom() {
		return n.Atom, 3
	}
	prec, ok := precedence[n.Head()]
	if !ok || n.Len() != 3 {
		return n.String(), 3
	}
	op := n.Head()
	left, lp := infix(n.At(1))
	right, rp := infix(n.At(2))
	if lp < prec {
		left = "(" + left + ")"
	}
	// a-(b+c) and a/(b*c) keep their parentheses.
	if rp < prec || (rp == prec && (op == "-" || op == "/")) {
		right = "(" + right + ")"
	}
	return left + op + right, prec
}

// Range renders a liveness window: "G" for a point, "G, G+1" otherwise.
func Range(r ir.Range) string {
	if r.IsPoint() {
		return Expr(r.Lo)
	}
	return Expr(r.Lo) + ", " + Expr(r.Hi)
}

// Port renders a port declaration.
func Port(p ir.Port) string {
	if p.Direction == ir.Interface {
		return fmt.Sprintf("@interface[%s] %s: %d", p.Event, p.Name, p.Width)
	}
	return fmt.Sprintf("@[%s] %s: %d", Range(p.Liveness), p.Name, p.Width)
}

func events(sig *ir.Signature) string {
	parts := make([]string, len(sig.Events))
	for i, ev := range sig.Events {
		parts[i] = ev.Name + ": " + Expr(ev.Clocks)
	}
	return strings.Join(parts, ", ")
}

func ports(ps []ir.Port) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = Port(p)
	}
	return out
}

// Constraint renders a signature constraint (op a b) as "a op b".
func Constraint(n sexpr.Node) string {
	if !n.IsList || n.Len() != 3 {
		return n.String()
	}
	return Expr(n.At(1)) + " " + n.Head() + " " + Expr(n.At(2))
}

func where(sig *ir.Signature) string {
	if len(sig.Constraints) == 0 {
		return ""
	}
	parts := make([]string, len(sig.Constraints))
	for i, c := range sig.Constraints {
		parts[i] = Constraint(c)
	}
	return " where " + strings.Join(parts, ", ")
}

// Signature renders sig on one line.
func Signature(sig *ir.Signature) string {
	in := append([]string{Port(sig.Interface)}, ports(sig.InPorts)...)
	return fmt.Sprintf("%s<%s>(%s) -> (%s)%s",
		sig.Name, events(sig), strings.Join(in, ", "), strings.Join(ports(sig.OutPorts), ", "), where(sig))
}

// Command renders one command, terminated with a semicolon.
func Command(c ir.Command) string {
	switch c := c.(type) {
	case *ir.Instance:
		if c.Width > 0 {
			return fmt.Sprintf("%s := new %s[%d];", c.Var, c.Type, c.Width)
		}
		return fmt.Sprintf("%s := new %s;", c.Var, c.Type)
	case *ir.Invoke:
		if c.Lowered {
			return fmt.Sprintf("%s := invoke %s<%s>;", c.Var, c.Function, Range(c.Range))
		}
		return fmt.Sprintf("%s := invoke %s<%s>(%s);", c.Var, c.Function, Range(c.Range), strings.Join(c.Ports, ", "))
	case *ir.Connect:
		if c.Guarded() {
			return fmt.Sprintf("%s = %s ? %s;", c.Dest, c.Guard, c.Src)
		}
		return fmt.Sprintf("%s = %s;", c.Dest, c.Src)
	case *ir.FSM:
		return fmt.Sprintf("fsm %s[%d](%s);", c.Name, c.States, c.Trigger)
	default:
		panic(fmt.Sprintf("render: unknown command %T", c))
	}
}

// Component renders the full component block.
func Component(c *ir.Component) string {
	sig := c.Signature
	var b strings.Builder
	fmt.Fprintf(&b, "comp %s<%s>(\n", sig.Name, events(sig))
	in := append([]string{Port(sig.Interface)}, ports(sig.InPorts)...)
	for i, p := range in {
		b.WriteString("  " + p)
		if i < len(in)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, ") -> (%s)%s {\n", strings.Join(ports(sig.OutPorts), ", "), where(sig))
	for _, cmd := range c.Commands {
		b.WriteString("  " + Command(cmd) + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// Model renders a schedule for debugging.
func Model(m *schedule.Model) string {
	var b strings.Builder
	fmt.Fprintf(&b, "schedule %s (baseline %d, %d states)\n", m.Component, m.Baseline, m.States)
	for _, name := range sortedKeys(m.Events) {
		fmt.Fprintf(&b, "  event %s = %d\n", name, m.Events[name])
	}
	for _, v := range m.Vars() {
		fmt.Fprintf(&b, "  start %s = %d\n", v, m.Starts[v])
	}
	for t := range m.Active {
		fmt.Fprintf(&b, "  cycle %d: state %d\n", t, m.StateAt(t))
	}
	return b.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
