package lower

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/filament-lower/internal/arith"
	"github.com/robert-at-pretension-io/filament-lower/internal/extractor"
	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
	"github.com/robert-at-pretension-io/filament-lower/internal/library"
	"github.com/robert-at-pretension-io/filament-lower/internal/schedule"
	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

const andXor = `
(comp main
  (events (event G 1))
  (ports
    (interface[1] (G) go)
    (in-port[32] (G (+ G 1)) left)
    (in-port[32] (G (+ G 1)) right)
    (in-port[32] ((+ G 1) (+ G 2)) opt)
    (out-port[32] ((+ G 2) (+ G 3)) out))
  (instantiations
    (A (new And[32]))
    (X (new Xor[32])))
  (invocations
    (a0 (A (G) left right))
    (x0 (X ((+ G 1)) a0.out opt)))
  (connect (out x0.out)))
`

const pipeline = `
(comp pipe
  (events (event G 1))
  (ports
    (interface[1] (G) go)
    (in-port[32] (G (+ G 1)) a)
    (in-port[32] (G (+ G 1)) b)
    (out-port[32] ((+ G 2) (+ G 3)) y))
  (instantiations
    (M (new Add[32]))
    (R (new Register[32])))
  (invocations
    (m0 (M (G) a b))
    (r0 (R (G (+ G 2)) m0.out)))
  (connect (y r0.out)))
`

func scheduled(t *testing.T, src string, opts schedule.Options) (*ir.Component, *schedule.Model) {
	t.Helper()
	unit, err := extractor.New().ExtractSource([]byte(src))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	comp := unit.Components[0]
	m, err := schedule.Solve(context.Background(), comp, opts)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return comp, m
}

// outline is a position-free summary of a command sequence.
func outline(cmds []ir.Command) []string {
	var out []string
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *ir.Instance:
			out = append(out, fmt.Sprintf("new %s %s", c.Var, c.Type))
		case *ir.Invoke:
			out = append(out, fmt.Sprintf("invoke %s %s lowered=%v", c.Var, c.Function, c.Lowered))
		case *ir.Connect:
			if c.Guarded() {
				out = append(out, fmt.Sprintf("%s = %s ? %s", c.Dest, c.Guard, c.Src))
			} else {
				out = append(out, fmt.Sprintf("%s = %s", c.Dest, c.Src))
			}
		case *ir.FSM:
			out = append(out, fmt.Sprintf("fsm %s[%d](%s)", c.Name, c.States, c.Trigger))
		}
	}
	return out
}

func TestLowerAndXor(t *testing.T) {
	comp, m := scheduled(t, andXor, schedule.Options{})
	before := outline(comp.Commands)

	lowered, err := Lower(comp, m, nil)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	want := []string{
		"new A And",
		"new X Xor",
		"invoke a0 A lowered=true",
		"A.left = left ? G_fsm._0",
		"A.right = right ? G_fsm._0",
		"invoke x0 X lowered=true",
		"X.left = a0.out ? G_fsm._1",
		"X.right = opt ? G_fsm._1",
		"out = x0.out",
		"fsm G_fsm[4](go)",
	}
	if diff := cmp.Diff(want, outline(lowered.Commands)); diff != "" {
		t.Errorf("lowered commands (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, outline(comp.Commands)); diff != "" {
		t.Errorf("input component was modified (-before +after):\n%s", diff)
	}
	if err := Verify(context.Background(), lowered, m, schedule.Options{}); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestLowerRegister(t *testing.T) {
	comp, m := scheduled(t, pipeline, schedule.Options{})
	lowered, err := Lower(comp, m, library.Default())
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	want := []string{
		"new M Add",
		"new R Register",
		"invoke m0 M lowered=true",
		"M.left = a ? G_fsm._0",
		"M.right = b ? G_fsm._0",
		"invoke r0 R lowered=true",
		"R.write_en = G_fsm._0",
		"R.in = m0.out ? G_fsm._0",
		"y = r0.out",
		"fsm G_fsm[4](go)",
	}
	if diff := cmp.Diff(want, outline(lowered.Commands)); diff != "" {
		t.Errorf("lowered commands (-want +got):\n%s", diff)
	}

	// Every lowered register invoke is followed by exactly two connects.
	for i, cmd := range lowered.Commands {
		inv, ok := cmd.(*ir.Invoke)
		if !ok || inv.Function != "R" {
			continue
		}
		for j := 1; j <= 2; j++ {
			if _, ok := lowered.Commands[i+j].(*ir.Connect); !ok {
				t.Errorf("command %d after %s is %T", j, inv.Var, lowered.Commands[i+j])
			}
		}
		if _, ok := lowered.Commands[i+3].(*ir.Connect); ok && ir.Owner(lowered.Commands[i+3].(*ir.Connect).Dest) == "R" {
			t.Errorf("a third connect drives R")
		}
	}
	if err := Verify(context.Background(), lowered, m, schedule.Options{}); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestLowerWithBaseline(t *testing.T) {
	comp, m := scheduled(t, andXor, schedule.Options{Baseline: 4})
	lowered, err := Lower(comp, m, nil)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	got := outline(lowered.Commands)
	if got[3] != "A.left = left ? G_fsm._0" || got[6] != "X.left = a0.out ? G_fsm._1" {
		t.Errorf("states are not relative to the baseline: %v", got)
	}
	if err := Verify(context.Background(), lowered, m, schedule.Options{}); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestLowerPreservesSchedule(t *testing.T) {
	for _, src := range []string{andXor, pipeline} {
		comp, m := scheduled(t, src, schedule.Options{})
		lowered, err := Lower(comp, m, nil)
		if err != nil {
			t.Fatalf("Lower: %v", err)
		}
		// Solve the lowered component afresh and check the producer and
		// consumer ordering of every connect, spliced ones included.
		again, err := schedule.Solve(context.Background(), lowered, schedule.Options{})
		if err != nil {
			t.Fatalf("re-solving %s: %v", comp.Name(), err)
		}
		if again.States != m.States {
			t.Errorf("%s: states %d after lowering, %d before", comp.Name(), again.States, m.States)
		}
		for _, cmd := range lowered.Commands {
			c, ok := cmd.(*ir.Connect)
			if !ok {
				continue
			}
			if again.Starts[ir.Owner(c.Dest)] < again.Starts[ir.Owner(c.Src)] {
				t.Errorf("%s: connect %s = %s runs backwards", comp.Name(), c.Dest, c.Src)
			}
		}
	}
}

func TestLowerNotSupported(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		arity int
	}{
		{
			name: "three operand mux",
			src: `(comp m (events (event G 1))
  (ports (interface[1] (G) go) (in-port[1] (G (+ G 1)) s) (in-port[8] (G (+ G 1)) a) (in-port[8] (G (+ G 1)) b))
  (instantiations (U (new Mux[8])))
  (invocations (u0 (U (G) s a b))))`,
			arity: 3,
		},
		{
			name: "single operand primitive",
			src: `(comp m (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a))
  (instantiations (N (new Not[8])))
  (invocations (n0 (N (G) a))))`,
			arity: 1,
		},
		{
			name: "register with two arguments",
			src: `(comp m (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (in-port[8] (G (+ G 1)) b))
  (instantiations (R (new Register[8])))
  (invocations (r0 (R (G) a b))))`,
			arity: 2,
		},
		{
			name: "state past the fsm",
			src: `(comp m (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (out-port[8] ((+ G 5) (+ G 6)) y))
  (instantiations (R (new Register[8])))
  (invocations (r0 (R ((+ G 5)) a)))
  (connect (y r0.out)))`,
			arity: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp, m := scheduled(t, tt.src, schedule.Options{})
			before := outline(comp.Commands)
			lowered, err := Lower(comp, m, nil)
			var ns *NotSupportedError
			if !errors.As(err, &ns) {
				t.Fatalf("expected NotSupportedError, got %v", err)
			}
			if ns.Arity != tt.arity {
				t.Errorf("Arity = %d, want %d", ns.Arity, tt.arity)
			}
			if lowered != nil {
				t.Errorf("a component was returned alongside the error")
			}
			if diff := cmp.Diff(before, outline(comp.Commands)); diff != "" {
				t.Errorf("input component was modified (-before +after):\n%s", diff)
			}
		})
	}
}

func TestLowerStateBeyondFSM(t *testing.T) {
	// Boundaries {0, 1, 5, 6} give four states, but the invoke starts at
	// cycle 5.
	src := `(comp gap (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (in-port[8] (G (+ G 1)) b) (out-port[8] ((+ G 5) (+ G 6)) y))
  (instantiations (A (new And[8])))
  (invocations (a0 (A ((+ G 5)) a b)))
  (connect (y a0.out)))`
	comp, m := scheduled(t, src, schedule.Options{})
	bounds, err := schedule.Boundaries(comp.Signature, m.Events)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{0, 1, 5, 6}, bounds); diff != "" {
		t.Fatalf("boundaries (-want +got):\n%s", diff)
	}

	_, err = Lower(comp, m, nil)
	var ns *NotSupportedError
	if !errors.As(err, &ns) {
		t.Fatalf("expected NotSupportedError, got %v", err)
	}
	want := &NotSupportedError{Var: "a0", Type: "And", Arity: 2, Reason: "starts in state 5, outside the 4-state fsm"}
	if diff := cmp.Diff(want, ns); diff != "" {
		t.Errorf("error (-want +got):\n%s", diff)
	}
}

func TestLowerFSMNameTaken(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"instance", `(comp m (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (in-port[8] (G (+ G 1)) b))
  (instantiations (G_fsm (new And[8])))
  (invocations (a0 (G_fsm (G) a b))))`},
		{"invoke", `(comp m (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (in-port[8] (G (+ G 1)) b))
  (instantiations (A (new And[8])))
  (invocations (G_fsm (A (G) a b))))`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp, m := scheduled(t, tt.src, schedule.Options{})
			lowered, err := Lower(comp, m, nil)
			if err == nil || !strings.Contains(err.Error(), `fsm name "G_fsm" is already bound`) {
				t.Fatalf("unexpected error %v", err)
			}
			if lowered != nil {
				t.Error("a component was returned alongside the error")
			}
		})
	}
}

func TestLowerUnknownTwoOperandType(t *testing.T) {
	comp, m := scheduled(t, `(comp m (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (in-port[8] (G (+ G 1)) b))
  (instantiations (C (new Custom[8])))
  (invocations (c0 (C (G) a b))))`, schedule.Options{})
	lowered, err := Lower(comp, m, nil)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	got := outline(lowered.Commands)
	if diff := cmp.Diff([]string{"C.left = a ? G_fsm._0", "C.right = b ? G_fsm._0"}, got[2:4]); diff != "" {
		t.Errorf("default operands (-want +got):\n%s", diff)
	}
}

func TestLowerLeavesComponentCalls(t *testing.T) {
	unit, err := extractor.New().ExtractSource([]byte(`
(comp inner (events (event G 1)) (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (out-port[8] (G (+ G 1)) y)))
(comp outer
  (events (event G 1))
  (ports (interface[1] (G) go) (in-port[8] (G (+ G 1)) a) (out-port[8] ((+ G 1) (+ G 2)) y))
  (invocations (i0 (inner (G) a)))
  (connect (y i0.y)))`))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	outer := unit.Components[1]
	m, err := schedule.Solve(context.Background(), outer, schedule.Options{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	lowered, err := Lower(outer, m, nil)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	want := []string{"invoke i0 inner lowered=false", "y = i0.y", "fsm G_fsm[3](go)"}
	if diff := cmp.Diff(want, outline(lowered.Commands)); diff != "" {
		t.Errorf("lowered commands (-want +got):\n%s", diff)
	}
}

func TestLowerEvalError(t *testing.T) {
	comp, m := scheduled(t, andXor, schedule.Options{})
	bad := comp.Clone()
	for _, cmd := range bad.Commands {
		if c, ok := cmd.(*ir.Invoke); ok && c.Var == "a0" {
			c.Range = ir.Point(sexpr.MustParse("(+ K 1)"))
		}
	}
	_, err := Lower(bad, m, nil)
	var ee *arith.EvalError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EvalError, got %v", err)
	}
}

func TestVerifyRejectsBrokenLowering(t *testing.T) {
	comp, m := scheduled(t, andXor, schedule.Options{})
	lowered, err := Lower(comp, m, nil)
	if err != nil {
		t.Fatal(err)
	}

	dropped := lowered.Clone()
	dropped.Commands = append(dropped.Commands[:3:3], dropped.Commands[4:]...)
	if err := Verify(context.Background(), dropped, m, schedule.Options{}); err == nil {
		t.Error("Verify accepted an invoke with one connect")
	}

	noFSM := lowered.Clone()
	noFSM.Commands = noFSM.Commands[:len(noFSM.Commands)-1]
	if err := Verify(context.Background(), noFSM, m, schedule.Options{}); err == nil {
		t.Error("Verify accepted a component without its fsm")
	}

	unlowered := comp.Clone()
	unlowered.Commands = append(unlowered.Commands, &ir.FSM{Name: "G_fsm", States: 4, Trigger: "go"})
	if err := Verify(context.Background(), unlowered, m, schedule.Options{}); err == nil {
		t.Error("Verify accepted unlowered invokes")
	}
}
