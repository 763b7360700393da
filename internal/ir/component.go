package ir

import "fmt"

// Component is a signature plus its body. Commands refer to one another
// only by variable name, so the sequence can be rebuilt freely.
type Component struct {
	Signature *Signature
	Commands  []Command
}

// NewComponent validates cmds against sig. externs names signatures of
// other components that an Invoke may call directly.
func NewComponent(sig *Signature, cmds []Command, externs ...string) (*Component, error) {
	if sig == nil {
		return nil, schemaErr("component", "missing signature")
	}
	where := "component " + sig.Name
	c := &Component{Signature: sig, Commands: cmds}

	kinds := make(map[string]Command, len(cmds))
	for _, cmd := range cmds {
		v := Variable(cmd)
		if v == "" {
			continue
		}
		if _, dup := kinds[v]; dup {
			return nil, schemaErr(where, "variable %q bound twice", v)
		}
		if _, isPort := sig.Port(v); isPort {
			return nil, schemaErr(where, "variable %q shadows a port", v)
		}
		kinds[v] = cmd
	}

	callable := make(map[string]bool, len(externs))
	for _, e := range externs {
		callable[e] = true
	}

	resolve := func(ref, context string) error {
		owner, port := SplitRef(ref)
		if owner == "" {
			return schemaErr(where, "%s: empty port reference", context)
		}
		if port == "" {
			if _, ok := sig.Port(owner); ok {
				return nil
			}
			if _, ok := kinds[owner]; ok {
				return nil
			}
			return schemaErr(where, "%s: unknown port %q", context, ref)
		}
		if _, ok := kinds[owner]; ok {
			return nil
		}
		return schemaErr(where, "%s: unknown variable %q in %q", context, owner, ref)
	}

	for _, cmd := range cmds {
		switch cmd := cmd.(type) {
		case *Instance:
			if cmd.Type == "" {
				return nil, schemaErr(where, "instance %q has no type", cmd.Var)
			}
			if cmd.Width < 0 {
				return nil, schemaErr(where, "instance %q has width %d", cmd.Var, cmd.Width)
			}
			// Instances become callable from here on, so invokes must
			// follow the instance they use.
			callable[cmd.Var] = true
		case *Invoke:
			if !callable[cmd.Function] {
				return nil, schemaErr(where, "invoke %q calls %q, which is not a prior instance or signature", cmd.Var, cmd.Function)
			}
			for _, p := range cmd.Ports {
				if err := resolve(p, fmt.Sprintf("invoke %q", cmd.Var)); err != nil {
					return nil, err
				}
			}
		case *Connect:
			ctx := fmt.Sprintf("connect %s = %s", cmd.Dest, cmd.Src)
			if err := resolve(cmd.Dest, ctx); err != nil {
				return nil, err
			}
			if err := resolve(cmd.Src, ctx); err != nil {
				return nil, err
			}
			if cmd.Guarded() {
				if err := resolve(cmd.Guard, ctx); err != nil {
					return nil, err
				}
			}
		case *FSM:
			if cmd.States <= 0 {
				return nil, schemaErr(where, "fsm %q has %d states", cmd.Name, cmd.States)
			}
			if cmd.Trigger != sig.Interface.Name {
				return nil, schemaErr(where, "fsm %q is triggered by %q, not the interface port %q", cmd.Name, cmd.Trigger, sig.Interface.Name)
			}
		default:
			panic(fmt.Sprintf("ir: unknown command %T", cmd))
		}
	}
	return c, nil
}

// Name is the signature name.
func (c *Component) Name() string {
	return c.Signature.Name
}

// Instance looks up an instance by variable.
func (c *Component) Instance(v string) (*Instance, bool) {
	for _, cmd := range c.Commands {
		if inst, ok := cmd.(*Instance); ok && inst.Var == v {
			return inst, true
		}
	}
	return nil, false
}

// Invoke looks up an invoke by variable.
func (c *Component) Invoke(v string) (*Invoke, bool) {
	for _, cmd := range c.Commands {
		if inv, ok := cmd.(*Invoke); ok && inv.Var == v {
			return inv, true
		}
	}
	return nil, false
}

// FSM returns the synthesized state machine, if the component has been
// lowered.
func (c *Component) FSM() (*FSM, bool) {
	for _, cmd := range c.Commands {
		if f, ok := cmd.(*FSM); ok {
			return f, true
		}
	}
	return nil, false
}

// Clone copies the component. The signature is shared; it is immutable.
func (c *Component) Clone() *Component {
	cmds := make([]Command, len(c.Commands))
	for i, cmd := range c.Commands {
		cmds[i] = CloneCommand(cmd)
	}
	return &Component{Signature: c.Signature, Commands: cmds}
}
