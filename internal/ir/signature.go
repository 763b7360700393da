package ir

import (
	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

// Signature is a component's name, events, and ports. It is never
// modified after NewSignature returns.
type Signature struct {
	Name        string
	Events      []Event
	Interface   Port
	InPorts     []Port
	OutPorts    []Port
	Constraints []sexpr.Node
}

// NewSignature validates and assembles a signature. ports may list the
// interface, in and out ports in any order; the relative order of in and
// out ports is kept.
func NewSignature(name string, events []Event, ports []Port, constraints []sexpr.Node) (*Signature, error) {
	where := "signature " + name
	if name == "" {
		return nil, schemaErr("signature", "missing component name")
	}
	if len(events) == 0 {
		return nil, schemaErr(where, "no events declared")
	}
	eventNames := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.Name == "" {
			return nil, schemaErr(where, "event without a name")
		}
		if eventNames[ev.Name] {
			return nil, schemaErr(where, "event %q declared twice", ev.Name)
		}
		eventNames[ev.Name] = true
	}
	for _, con := range constraints {
		if con.Len() != 3 || con.Head() == "" {
			return nil, schemaErr(where, "constraint %s is not (op a b)", con)
		}
	}

	sig := &Signature{Name: name, Events: events, Constraints: constraints}
	seen := make(map[string]bool, len(ports))
	haveInterface := false
	for _, p := range ports {
		if p.Name == "" {
			return nil, schemaErr(where, "port without a name")
		}
		if seen[p.Name] {
			return nil, schemaErr(where, "port %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if p.Width <= 0 {
			return nil, schemaErr(where, "port %q has width %d", p.Name, p.Width)
		}

		switch p.Direction {
		case Interface:
			if haveInterface {
				return nil, schemaErr(where, "more than one interface port (%q and %q)", sig.Interface.Name, p.Name)
			}
			if !eventNames[p.Event] {
				return nil, schemaErr(where, "interface port %q triggers undeclared event %q", p.Name, p.Event)
			}
			if !p.Liveness.IsPoint() {
				return nil, schemaErr(where, "interface port %q must be a single event", p.Name)
			}
			haveInterface = true
			sig.Interface = p
		case In, Out:
			if p.Liveness.IsPoint() {
				return nil, schemaErr(where, "port %q needs a [begin, end] liveness", p.Name)
			}
			if p.Direction == In {
				sig.InPorts = append(sig.InPorts, p)
			} else {
				sig.OutPorts = append(sig.OutPorts, p)
			}
		default:
			return nil, schemaErr(where, "port %q has unknown direction %d", p.Name, int(p.Direction))
		}
	}
	if !haveInterface {
		return nil, schemaErr(where, "no interface port")
	}
	return sig, nil
}

// Port finds a port by name across the interface, in and out ports.
func (s *Signature) Port(name string) (Port, bool) {
	if s.Interface.Name == name {
		return s.Interface, true
	}
	for _, p := range s.InPorts {
		if p.Name == name {
			return p, true
		}
	}
	for _, p := range s.OutPorts {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Event finds a declared event.
func (s *Signature) Event(name string) (Event, bool) {
	for _, ev := range s.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

// Ports returns the interface followed by in and out ports.
func (s *Signature) Ports() []Port {
	out := make([]Port, 0, 1+len(s.InPorts)+len(s.OutPorts))
	out = append(out, s.Interface)
	out = append(out, s.InPorts...)
	out = append(out, s.OutPorts...)
	return out
}
