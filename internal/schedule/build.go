package schedule

import (
	"fmt"
	"sort"

	"github.com/robert-at-pretension-io/filament-lower/internal/arith"
	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

// Options controls how a component's schedule system is built.
type Options struct {
	// Baseline is the cycle the interface event is pinned to.
	Baseline int64

	// Horizon bounds every variable from above. Zero picks a bound from
	// the summed magnitudes of the constants and coefficients in the
	// component; Solve widens an automatic bound before reporting unsat.
	Horizon int64

	// States is the FSM state count N. Zero omits the activation
	// variables.
	States int

	// Events pins event variables to fixed values, typically those found
	// by an earlier solve.
	Events map[string]int64

	// Backend solves the system. Nil means Native{}.
	Backend Backend
}

// StartVar is the system variable holding the start cycle of v.
func StartVar(v string) string {
	return "start:" + v
}

// StateVar is the system variable that is 1 when state i is active at
// cycle t.
func StateVar(i, t int) string {
	return fmt.Sprintf("state:%d:%d", i, t)
}

type builder struct {
	comp   *ir.Component
	sys    *System
	events map[string]bool
}

// Build constructs the schedule constraint system of comp.
func Build(comp *ir.Component, opts Options) (*System, error) {
	sig := comp.Signature
	b := &builder{comp: comp, sys: NewSystem(), events: make(map[string]bool)}
	for _, ev := range sig.Events {
		b.events[ev.Name] = true
	}

	horizon := opts.Horizon
	if horizon <= 0 {
		h, err := autoHorizon(comp, opts)
		if err != nil {
			return nil, err
		}
		horizon = h
	}
	if opts.Baseline < 0 || opts.Baseline > horizon {
		return nil, fmt.Errorf("baseline %d outside [0, %d]", opts.Baseline, horizon)
	}

	for _, ev := range sig.Events {
		b.sys.AddVar(ev.Name, 0, horizon)
	}
	// The interface event is the reference point of the schedule.
	primary := sig.Interface.Event
	b.sys.Add(arith.Var(primary).Sub(arith.Constant(opts.Baseline)), EQ, "baseline "+primary)
	for _, name := range sortedKeys(opts.Events) {
		if !b.events[name] {
			return nil, fmt.Errorf("pinned event %q is not declared by %s", name, sig.Name)
		}
		b.sys.Add(arith.Var(name).Sub(arith.Constant(opts.Events[name])), EQ, "pinned "+name)
	}

	iface := StartVar(sig.Interface.Name)
	b.sys.AddVar(iface, 0, horizon)
	b.sys.Add(arith.Var(iface).Sub(arith.Var(primary)), EQ, "interface "+sig.Interface.Name)

	for _, p := range append(append([]ir.Port(nil), sig.InPorts...), sig.OutPorts...) {
		v := StartVar(p.Name)
		b.sys.AddVar(v, 0, horizon)
		if err := b.within(v, p.Liveness, fmt.Sprintf("%s port %s", p.Direction, p.Name)); err != nil {
			return nil, err
		}
	}

	for _, cmd := range comp.Commands {
		switch cmd := cmd.(type) {
		case *ir.Instance:
			b.sys.AddVar(StartVar(cmd.Var), 0, horizon)
		case *ir.Invoke:
			v := StartVar(cmd.Var)
			b.sys.AddVar(v, 0, horizon)
			if err := b.within(v, cmd.Range, "invoke "+cmd.Var); err != nil {
				return nil, err
			}
		case *ir.FSM:
			v := StartVar(cmd.Name)
			b.sys.AddVar(v, 0, horizon)
			b.sys.Add(arith.Var(v).Sub(arith.Var(primary)), EQ, "fsm "+cmd.Name)
		case *ir.Connect:
		default:
			panic(fmt.Sprintf("schedule: unknown command %T", cmd))
		}
	}

	// Connects last, so every owner has been declared.
	for _, cmd := range comp.Commands {
		c, ok := cmd.(*ir.Connect)
		if !ok {
			continue
		}
		dest, src := StartVar(ir.Owner(c.Dest)), StartVar(ir.Owner(c.Src))
		for _, v := range []string{dest, src} {
			if !b.sys.HasVar(v) {
				return nil, fmt.Errorf("connect %s = %s: no schedule variable for %s", c.Dest, c.Src, v)
			}
		}
		b.sys.Add(arith.Var(dest).Sub(arith.Var(src)), GE, fmt.Sprintf("connect %s = %s", c.Dest, c.Src))
	}

	for _, con := range sig.Constraints {
		if err := b.relation(con); err != nil {
			return nil, err
		}
	}

	if opts.States > 0 {
		b.activation(opts.States)
	}
	return b.sys, nil
}

// term evaluates n and checks that it only mentions declared events.
func (b *builder) term(n sexpr.Node) (arith.Term, error) {
	t, err := arith.Evaluate(n)
	if err != nil {
		return arith.Term{}, err
	}
	for _, v := range t.Vars() {
		if !b.events[v] {
			return arith.Term{}, &arith.EvalError{Expr: n.String(), Reason: fmt.Sprintf("unknown event %q", v)}
		}
	}
	return t, nil
}

// within constrains v to r: equal to a point, or inside [lo, hi].
func (b *builder) within(v string, r ir.Range, origin string) error {
	lo, err := b.term(r.Lo)
	if err != nil {
		return fmt.Errorf("%s: %w", origin, err)
	}
	if r.IsPoint() {
		b.sys.Add(arith.Var(v).Sub(lo), EQ, origin)
		return nil
	}
	hi, err := b.term(r.Hi)
	if err != nil {
		return fmt.Errorf("%s: %w", origin, err)
	}
	b.sys.Add(arith.Var(v).Sub(lo), GE, origin+" begin")
	b.sys.Add(hi.Sub(arith.Var(v)), GE, origin+" end")
	return nil
}

// relation adds a signature constraint (op a b).
func (b *builder) relation(n sexpr.Node) error {
	if !n.IsList || n.Len() != 3 {
		return &arith.EvalError{Expr: n.String(), Reason: "constraint must be (op a b)"}
	}
	a, err := b.term(n.At(1))
	if err != nil {
		return fmt.Errorf("constraint %s: %w", n, err)
	}
	c, err := b.term(n.At(2))
	if err != nil {
		return fmt.Errorf("constraint %s: %w", n, err)
	}
	diff := a.Sub(c)
	origin := "constraint " + n.String()
	switch n.Head() {
	case "<":
		b.sys.Add(diff.Add(arith.Constant(1)), LE, origin)
	case "<=":
		b.sys.Add(diff, LE, origin)
	case ">":
		b.sys.Add(diff.Sub(arith.Constant(1)), GE, origin)
	case ">=":
		b.sys.Add(diff, GE, origin)
	case "=", "==":
		b.sys.Add(diff, EQ, origin)
	default:
		return &arith.EvalError{Expr: n.String(), Reason: fmt.Sprintf("unknown relation %q", n.At(0).String())}
	}
	return nil
}

// activation adds the per-cycle FSM state variables: exactly one state is
// active in each of n cycles, and state i active implies state i+1 active
// in the next cycle.
func (b *builder) activation(n int) {
	for i := 0; i < n; i++ {
		for t := 0; t < n; t++ {
			b.sys.AddVar(StateVar(i, t), 0, 1)
		}
	}
	// Lean the search towards the single-pass diagonal.
	for i := 0; i < n; i++ {
		b.sys.PreferHigh(StateVar(i, i))
	}
	for t := 0; t < n; t++ {
		sum := arith.Constant(-1)
		for i := 0; i < n; i++ {
			sum = sum.Add(arith.Var(StateVar(i, t)))
		}
		b.sys.Add(sum, EQ, fmt.Sprintf("one state at cycle %d", t))
	}
	for i := 0; i+1 < n; i++ {
		for t := 0; t+1 < n; t++ {
			next := arith.Var(StateVar(i+1, t+1)).Sub(arith.Var(StateVar(i, t)))
			b.sys.Add(next, GE, fmt.Sprintf("state %d at cycle %d advances", i, t))
		}
	}
}

// autoHorizon bounds the values a schedule of comp can need: the baseline
// scaled by the summed coefficients plus the summed constants of every
// boundary and constraint.
func autoHorizon(comp *ir.Component, opts Options) (int64, error) {
	var exprs []sexpr.Node
	for _, p := range comp.Signature.Ports() {
		exprs = append(exprs, p.Liveness.Lo, p.Liveness.Hi)
	}
	for _, cmd := range comp.Commands {
		if inv, ok := cmd.(*ir.Invoke); ok {
			exprs = append(exprs, inv.Range.Lo, inv.Range.Hi)
		}
	}
	for _, con := range comp.Signature.Constraints {
		// Malformed constraints are reported by relation.
		if con.IsList && con.Len() == 3 {
			exprs = append(exprs, con.At(1), con.At(2))
		}
	}
	var consts, coeffs int64
	for _, e := range exprs {
		if e.IsZero() {
			continue
		}
		t, err := arith.Evaluate(e)
		if err != nil {
			return 0, err
		}
		consts += abs(t.Const)
		for _, c := range t.Coeffs {
			coeffs += abs(c)
		}
	}
	for _, v := range opts.Events {
		consts = max(consts, v)
	}
	return opts.Baseline*max(1, coeffs) + consts + int64(opts.States) + 8, nil
}

// Boundaries evaluates every port liveness boundary under events: both
// ends of in and out ports, the point of the interface port. It returns
// the distinct values in ascending order; their count is the FSM state
// count.
func Boundaries(sig *ir.Signature, events map[string]int64) ([]int64, error) {
	set := make(map[int64]bool)
	for _, p := range sig.Ports() {
		ends := []sexpr.Node{p.Liveness.Lo}
		if !p.Liveness.IsPoint() {
			ends = append(ends, p.Liveness.Hi)
		}
		for _, e := range ends {
			v, err := arith.EvaluateWith(e, events)
			if err != nil {
				return nil, fmt.Errorf("port %s: %w", p.Name, err)
			}
			set[v] = true
		}
	}
	out := make([]int64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
