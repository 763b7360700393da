// Package lower rewrites a scheduled component so every primitive invoke
// is driven explicitly by a synthesized state machine.
package lower

import (
	"context"
	"fmt"

	"github.com/robert-at-pretension-io/filament-lower/internal/arith"
	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
	"github.com/robert-at-pretension-io/filament-lower/internal/library"
	"github.com/robert-at-pretension-io/filament-lower/internal/schedule"
)

// NotSupportedError is returned for an invoke whose primitive shape the
// pass will not wire.
type NotSupportedError struct {
	Var    string
	Type   string
	Arity  int
	Reason string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("cannot lower %s (%s with %d operands): %s", e.Var, e.Type, e.Arity, e.Reason)
}

// Default operand ports for a two-operand primitive missing from the
// library.
var defaultOperands = []string{"left", "right"}

// FSMName is the name of the state machine synthesized for comp.
func FSMName(sig *ir.Signature) string {
	return sig.Interface.Event + "_fsm"
}

// Lower returns a lowered copy of comp. comp itself is never modified.
func Lower(comp *ir.Component, model *schedule.Model, lib *library.Library) (*ir.Component, error) {
	if lib == nil {
		lib = library.Default()
	}
	sig := comp.Signature
	bounds, err := schedule.Boundaries(sig, model.Events)
	if err != nil {
		return nil, err
	}
	n := len(bounds)
	if model.States != 0 && model.States != n {
		return nil, fmt.Errorf("lowering %s: model has %d states, boundaries give %d", comp.Name(), model.States, n)
	}

	fsm := &ir.FSM{Name: FSMName(sig), States: n, Trigger: sig.Interface.Name}
	if _, taken := sig.Port(fsm.Name); taken {
		return nil, fmt.Errorf("lowering %s: fsm name %q is already a port", comp.Name(), fsm.Name)
	}
	for _, cmd := range comp.Commands {
		if _, isFSM := cmd.(*ir.FSM); !isFSM && ir.Variable(cmd) == fsm.Name {
			return nil, fmt.Errorf("lowering %s: fsm name %q is already bound", comp.Name(), fsm.Name)
		}
	}

	work := comp.Clone()
	out := make([]ir.Command, 0, 3*len(work.Commands)+1)
	for _, cmd := range work.Commands {
		switch cmd := cmd.(type) {
		case *ir.Instance, *ir.Connect:
			out = append(out, cmd)
		case *ir.FSM:
			if cmd.Name == fsm.Name {
				return nil, fmt.Errorf("lowering %s: component is already lowered", comp.Name())
			}
			out = append(out, cmd)
		case *ir.Invoke:
			inst, ok := work.Instance(cmd.Function)
			if !ok {
				// Calls to other components keep their argument list.
				out = append(out, cmd)
				continue
			}
			spliced, err := splice(cmd, inst, fsm, model, lib)
			if err != nil {
				return nil, err
			}
			cmd.Lowered = true
			out = append(out, cmd)
			out = append(out, spliced...)
		default:
			panic(fmt.Sprintf("lower: unknown command %T", cmd))
		}
	}
	out = append(out, fsm)
	return &ir.Component{Signature: sig, Commands: out}, nil
}

// state is the FSM state an invoke starts in.
func state(inv *ir.Invoke, inst *ir.Instance, fsm *ir.FSM, model *schedule.Model) (int, error) {
	lo, err := arith.EvaluateWith(inv.Range.Lo, model.Events)
	if err != nil {
		return 0, fmt.Errorf("invoke %s: %w", inv.Var, err)
	}
	k := lo - model.Baseline
	if k < 0 || k >= int64(fsm.States) {
		return 0, &NotSupportedError{
			Var:    inv.Var,
			Type:   inst.Type,
			Arity:  len(inv.Ports),
			Reason: fmt.Sprintf("starts in state %d, outside the %d-state fsm", k, fsm.States),
		}
	}
	return int(k), nil
}

func splice(inv *ir.Invoke, inst *ir.Instance, fsm *ir.FSM, model *schedule.Model, lib *library.Library) ([]ir.Command, error) {
	refuse := func(reason string, args ...any) error {
		return &NotSupportedError{Var: inv.Var, Type: inst.Type, Arity: len(inv.Ports), Reason: fmt.Sprintf(reason, args...)}
	}

	prim, known := lib.Lookup(inst.Type)
	switch {
	case known && prim.Kind == library.Register:
		if len(inv.Ports) != 1 {
			return nil, refuse("a register takes exactly one data argument")
		}
	case len(inv.Ports) > 2:
		return nil, refuse("more than two operands")
	case known && prim.Operands() != 2:
		return nil, refuse("%s has %d operand ports, only two-operand primitives are wired", prim.Name, prim.Operands())
	case len(inv.Ports) != 2:
		return nil, refuse("a combinational primitive takes exactly two operands")
	}

	k, err := state(inv, inst, fsm, model)
	if err != nil {
		return nil, err
	}
	ctl := fsm.PortFor(k)
	port := func(name string) string { return inst.Var + "." + name }

	if known && prim.Kind == library.Register {
		return []ir.Command{
			&ir.Connect{Dest: port(prim.Ports[0]), Src: ctl},
			&ir.Connect{Dest: port(prim.Ports[1]), Src: ctl, Guard: inv.Ports[0]},
		}, nil
	}
	ops := defaultOperands
	if known {
		ops = prim.Ports
	}
	return []ir.Command{
		&ir.Connect{Dest: port(ops[0]), Src: ctl, Guard: inv.Ports[0]},
		&ir.Connect{Dest: port(ops[1]), Src: ctl, Guard: inv.Ports[1]},
	}, nil
}

// Verify checks a lowered component against the model it was lowered
// with: every lowered invoke is followed by exactly its two connects, the
// fsm comes last, and the lowered schedule system still admits the
// model's event, port and invoke start times.
func Verify(ctx context.Context, lowered *ir.Component, model *schedule.Model, opts schedule.Options) error {
	cmds := lowered.Commands
	if len(cmds) == 0 {
		return fmt.Errorf("%s: no commands", lowered.Name())
	}
	fsm, ok := cmds[len(cmds)-1].(*ir.FSM)
	if !ok {
		return fmt.Errorf("%s: last command is %T, not the fsm", lowered.Name(), cmds[len(cmds)-1])
	}
	if model.States != 0 && fsm.States != model.States {
		return fmt.Errorf("%s: fsm has %d states, model %d", lowered.Name(), fsm.States, model.States)
	}

	for i, cmd := range cmds {
		inv, ok := cmd.(*ir.Invoke)
		if !ok {
			continue
		}
		if _, isInst := lowered.Instance(inv.Function); !isInst {
			continue
		}
		if !inv.Lowered {
			return fmt.Errorf("%s: invoke %s was not lowered", lowered.Name(), inv.Var)
		}
		for j := 1; j <= 2; j++ {
			if i+j >= len(cmds) {
				return fmt.Errorf("%s: invoke %s is missing its connects", lowered.Name(), inv.Var)
			}
			c, ok := cmds[i+j].(*ir.Connect)
			if !ok || ir.Owner(c.Dest) != inv.Function || ir.Owner(c.Src) != fsm.Name {
				return fmt.Errorf("%s: command %d after invoke %s is not its fsm connect", lowered.Name(), j, inv.Var)
			}
		}
		if i+3 < len(cmds) {
			if c, ok := cmds[i+3].(*ir.Connect); ok && ir.Owner(c.Src) == fsm.Name && ir.Owner(c.Dest) == inv.Function {
				return fmt.Errorf("%s: invoke %s has more than two fsm connects", lowered.Name(), inv.Var)
			}
		}
	}

	opts.States = model.States
	opts.Events = model.Events
	opts.Baseline = model.Baseline
	sys, err := schedule.Build(lowered, opts)
	if err != nil {
		return err
	}
	for _, v := range model.Vars() {
		if _, isInst := lowered.Instance(v); isInst {
			// Instances acquire fsm connects, so their start may move.
			continue
		}
		sys.Add(arith.Var(schedule.StartVar(v)).Sub(arith.Constant(model.Starts[v])), schedule.EQ, "model "+v)
	}
	backend := opts.Backend
	if backend == nil {
		backend = schedule.Native{}
	}
	a, err := backend.Solve(ctx, sys)
	if err != nil {
		return fmt.Errorf("%s: lowered schedule disagrees with the model: %w", lowered.Name(), err)
	}
	return sys.Check(a)
}
