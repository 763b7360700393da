package ir

import "fmt"

// Command is one statement of a component body. The set of variants is
// closed: *Instance, *Invoke, *Connect and *FSM.
type Command interface {
	isCommand()
}

// Instance declares a sub-module instance: VAR := new TYPE[WIDTH].
type Instance struct {
	Var   string
	Type  string
	Width int
}

// Invoke binds an instance to an activation window and argument ports.
// Lowered is set by the lowering pass; the argument list is then no longer
// part of the rendered form.
type Invoke struct {
	Var      string
	Function string
	Range    Range
	Ports    []string
	Lowered  bool
}

// Connect wires Src to Dest, optionally only while Guard holds.
type Connect struct {
	Dest  string
	Src   string
	Guard string
}

// FSM is the state machine synthesized by lowering. It counts one state
// per cycle once Trigger goes high.
type FSM struct {
	Name    string
	States  int
	Trigger string
}

func (*Instance) isCommand() {}
func (*Invoke) isCommand()   {}
func (*Connect) isCommand()  {}
func (*FSM) isCommand()      {}

// PortFor returns the control signal that is high exactly during state.
func (f *FSM) PortFor(state int) string {
	return fmt.Sprintf("%s._%d", f.Name, state)
}

// Guarded reports whether c has a guard.
func (c *Connect) Guarded() bool {
	return c.Guard != ""
}

// Variable returns the name a command binds, or "" for a Connect.
func Variable(c Command) string {
	switch c := c.(type) {
	case *Instance:
		return c.Var
	case *Invoke:
		return c.Var
	case *FSM:
		return c.Name
	case *Connect:
		return ""
	default:
		panic(fmt.Sprintf("ir: unknown command %T", c))
	}
}

// CloneCommand returns a deep copy of c.
func CloneCommand(c Command) Command {
	switch c := c.(type) {
	case *Instance:
		cp := *c
		return &cp
	case *Invoke:
		cp := *c
		cp.Ports = append([]string(nil), c.Ports...)
		return &cp
	case *Connect:
		cp := *c
		return &cp
	case *FSM:
		cp := *c
		return &cp
	default:
		panic(fmt.Sprintf("ir: unknown command %T", c))
	}
}
