// Package ir is the canonical data model for timed components: events,
// liveness ranges, ports, signatures, and the command sequence of a
// component body.
package ir

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

// SchemaError reports a tree or model that has the wrong shape: bad arity,
// duplicate names, unresolved references.
type SchemaError struct {
	Where string
	Msg   string
}

func (e *SchemaError) Error() string {
	if e.Where == "" {
		return "schema error: " + e.Msg
	}
	return fmt.Sprintf("schema error in %s: %s", e.Where, e.Msg)
}

func schemaErr(where, format string, args ...any) *SchemaError {
	return &SchemaError{Where: where, Msg: fmt.Sprintf(format, args...)}
}

// Event is a named abstract clock. Clocks is the delay expression the
// event was declared with.
type Event struct {
	Name   string
	Clocks sexpr.Node
}

// Range is a liveness window [Lo, Hi]. A zero Hi denotes the single
// instant Lo.
type Range struct {
	Lo sexpr.Node
	Hi sexpr.Node
}

// Point returns the instant range at e.
func Point(e sexpr.Node) Range {
	return Range{Lo: e}
}

// Interval returns the range [lo, hi].
func Interval(lo, hi sexpr.Node) Range {
	return Range{Lo: lo, Hi: hi}
}

// IsPoint reports whether r is a single instant.
func (r Range) IsPoint() bool {
	return r.Hi.IsZero()
}

// Direction of a port.
type Direction int

const (
	In Direction = iota
	Out
	Interface
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case Interface:
		return "interface"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Port is a signature port. Interface ports name their triggering Event
// and carry a point Liveness at that event.
type Port struct {
	Name      string
	Direction Direction
	Liveness  Range
	Width     int
	Event     string
}

// Owner returns the owning variable of a port reference: "x0" for
// "x0.out", the reference itself for a bare name.
func Owner(ref string) string {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i]
	}
	return ref
}

// SplitRef splits "owner.port" into its parts. port is "" for a bare name.
func SplitRef(ref string) (owner, port string) {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}
