package extractor

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/robert-at-pretension-io/filament-lower/internal/arith"
	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

// Extractor turns component sources into the ir data model.
type Extractor struct {
	// Externs are signature names, defined elsewhere, that invokes may
	// call directly. Components in the same source are always callable.
	Externs []string
}

// Unit is one parsed source file.
type Unit struct {
	File       string
	Forms      []sexpr.Node
	Components []*ir.Component
}

// New creates a new Extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract reads and elaborates a source file.
func (e *Extractor) Extract(filePath string) (Unit, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return Unit{File: filePath}, fmt.Errorf("reading file: %w", err)
	}
	unit, err := e.ExtractSource(content)
	unit.File = filePath
	return unit, err
}

// ExtractSource elaborates every comp form in src.
func (e *Extractor) ExtractSource(src []byte) (Unit, error) {
	var unit Unit
	forms, err := sexpr.Parse(src)
	if err != nil {
		return unit, err
	}
	unit.Forms = forms

	externs := append([]string(nil), e.Externs...)
	defined := make(map[string]bool, len(forms))
	for _, f := range forms {
		if f.Head() != "comp" || f.Len() < 2 || !f.At(1).IsAtom() {
			continue
		}
		name := f.At(1).Atom
		if defined[name] {
			return unit, schemaErr(f, "component %q defined twice", name)
		}
		defined[name] = true
		externs = append(externs, name)
	}
	for _, f := range forms {
		comp, err := Component(f, externs...)
		if err != nil {
			return unit, err
		}
		unit.Components = append(unit.Components, comp)
	}
	return unit, nil
}

// Component elaborates a single (comp ...) form.
func Component(form sexpr.Node, externs ...string) (*ir.Component, error) {
	if form.Head() != "comp" {
		return nil, schemaErr(form, "expected (comp <name> ...), got %s", form)
	}
	if form.Len() < 2 || !form.At(1).IsAtom() {
		return nil, schemaErr(form, "component has no name")
	}
	name := form.At(1).Atom
	self := make([]string, 0, len(externs))
	for _, e := range externs {
		if e != name {
			self = append(self, e)
		}
	}

	var (
		events      []ir.Event
		ports       []ir.Port
		cmds        []ir.Command
		constraints []sexpr.Node
		seen        = map[string]bool{}
	)
	for _, section := range form.List[2:] {
		head := section.Head()
		if head == "" {
			return nil, schemaErr(section, "expected a section, got %s", section)
		}
		if seen[head] && head != "connect" {
			return nil, schemaErr(section, "section %q repeated", head)
		}
		seen[head] = true
		items := section.List[1:]

		var err error
		switch head {
		case "events":
			events, err = mapItems(items, parseEvent)
		case "ports":
			ports, err = mapItems(items, parsePort)
		case "instantiations":
			var xs []*ir.Instance
			xs, err = mapItems(items, parseInstance)
			for _, x := range xs {
				cmds = append(cmds, x)
			}
		case "invocations":
			var xs []*ir.Invoke
			xs, err = mapItems(items, parseInvoke)
			for _, x := range xs {
				cmds = append(cmds, x)
			}
		case "connect":
			var xs []*ir.Connect
			xs, err = mapItems(items, parseConnect)
			for _, x := range xs {
				cmds = append(cmds, x)
			}
		case "constraints":
			constraints, err = mapItems(items, parseConstraint)
		default:
			return nil, schemaErr(section, "unknown section %q", head)
		}
		if err != nil {
			return nil, err
		}
	}
	if !seen["events"] {
		return nil, schemaErr(form, "component %s has no events section", name)
	}
	if !seen["ports"] {
		return nil, schemaErr(form, "component %s has no ports section", name)
	}

	sig, err := ir.NewSignature(name, events, ports, constraints)
	if err != nil {
		return nil, err
	}
	return ir.NewComponent(sig, cmds, self...)
}

func mapItems[T any](items []sexpr.Node, fn func(sexpr.Node) (T, error)) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		v, err := fn(it)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func schemaErr(n sexpr.Node, format string, args ...any) *ir.SchemaError {
	return &ir.SchemaError{Where: n.Pos(), Msg: fmt.Sprintf(format, args...)}
}

func syntaxErr(n sexpr.Node, format string, args ...any) *sexpr.SyntaxError {
	return &sexpr.SyntaxError{Line: n.Line, Col: n.Col, Msg: fmt.Sprintf(format, args...)}
}

// (event <name> <clocks-expr>)
func parseEvent(n sexpr.Node) (ir.Event, error) {
	if n.Head() != "event" {
		return ir.Event{}, schemaErr(n, "expected (event <name> <clocks>), got %s", n)
	}
	if n.Len() != 3 || !n.At(1).IsAtom() {
		return ir.Event{}, schemaErr(n, "event takes a name and a clocks expression, got %s", n)
	}
	if !arith.IsIdent(n.At(1).Atom) {
		return ir.Event{}, schemaErr(n, "event name %q is not an identifier", n.At(1).Atom)
	}
	return ir.Event{Name: n.At(1).Atom, Clocks: n.At(2)}, nil
}

var (
	portHeadRe = regexp.MustCompile(`^(interface|in-port|out-port)(\[.*)?$`)
	widthRe    = regexp.MustCompile(`^\[(\d+)\]$`)
	typeRe     = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(\[.*)?$`)
)

// bracketWidth parses the "[N]" suffix of a port head or instance type.
func bracketWidth(n sexpr.Node, suffix string) (int, error) {
	m := widthRe.FindStringSubmatch(suffix)
	if m == nil {
		return 0, syntaxErr(n, "malformed width %q in %q", suffix, n.Atom)
	}
	w, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, syntaxErr(n, "width out of range in %q", n.Atom)
	}
	return w, nil
}

// (interface[<w>] (<event>) <name>), (in-port[<w>] (<lo> <hi>) <name>),
// (out-port[<w>] (<lo> <hi>) <name>)
func parsePort(n sexpr.Node) (ir.Port, error) {
	if !n.IsList || n.Len() == 0 || n.At(0).IsList {
		return ir.Port{}, schemaErr(n, "expected a port declaration, got %s", n)
	}
	head := n.At(0)
	m := portHeadRe.FindStringSubmatch(head.Atom)
	if m == nil {
		return ir.Port{}, schemaErr(n, "invalid direction for port: %s", n)
	}
	if m[2] == "" {
		return ir.Port{}, syntaxErr(head, "no width specified for port: %s", n)
	}
	width, err := bracketWidth(head, m[2])
	if err != nil {
		return ir.Port{}, err
	}
	if n.Len() != 3 || !n.At(2).IsAtom() {
		return ir.Port{}, schemaErr(n, "port takes a liveness and a name, got %s", n)
	}
	rng, err := parseRange(n.At(1))
	if err != nil {
		return ir.Port{}, err
	}
	p := ir.Port{Name: n.At(2).Atom, Liveness: rng, Width: width}

	switch m[1] {
	case "interface":
		p.Direction = ir.Interface
		if !rng.IsPoint() || !rng.Lo.IsAtom() || !arith.IsIdent(rng.Lo.Atom) {
			return ir.Port{}, schemaErr(n, "interface port %q must name a single event", p.Name)
		}
		p.Event = rng.Lo.Atom
	case "in-port":
		p.Direction = ir.In
	default:
		p.Direction = ir.Out
	}
	return p, nil
}

// (<lo>) or (<lo> <hi>)
func parseRange(n sexpr.Node) (ir.Range, error) {
	if !n.IsList {
		return ir.Range{}, syntaxErr(n, "expected a parenthesised range, got %s", n)
	}
	switch n.Len() {
	case 1:
		return ir.Point(n.At(0)), nil
	case 2:
		return ir.Interval(n.At(0), n.At(1)), nil
	}
	return ir.Range{}, syntaxErr(n, "incorrect number of arguments to range: %s", n)
}

// (<var> (new <Type>[<width>]))
func parseInstance(n sexpr.Node) (*ir.Instance, error) {
	if n.Len() != 2 || !n.At(0).IsAtom() {
		return nil, schemaErr(n, "expected (<var> (new <Type>[<width>])), got %s", n)
	}
	body := n.At(1)
	if body.Head() != "new" || body.Len() != 2 || !body.At(1).IsAtom() {
		return nil, schemaErr(n, "expected (new <Type>[<width>]), got %s", body)
	}
	typ := body.At(1)
	m := typeRe.FindStringSubmatch(typ.Atom)
	if m == nil {
		return nil, syntaxErr(typ, "malformed instance type %q", typ.Atom)
	}
	inst := &ir.Instance{Var: n.At(0).Atom, Type: m[1]}
	if m[2] != "" {
		w, err := bracketWidth(typ, m[2])
		if err != nil {
			return nil, err
		}
		inst.Width = w
	}
	return inst, nil
}

// (<var> (<function> (<range-expr...>) <port> ...))
func parseInvoke(n sexpr.Node) (*ir.Invoke, error) {
	if n.Len() != 2 || !n.At(0).IsAtom() {
		return nil, schemaErr(n, "expected (<var> (<function> (<range>) <port> ...)), got %s", n)
	}
	call := n.At(1)
	if !call.IsList || call.Len() < 2 || !call.At(0).IsAtom() {
		return nil, schemaErr(n, "malformed invocation %s", call)
	}
	rng, err := parseRange(call.At(1))
	if err != nil {
		return nil, err
	}
	inv := &ir.Invoke{Var: n.At(0).Atom, Function: call.At(0).Atom, Range: rng}
	for _, p := range call.List[2:] {
		if !p.IsAtom() {
			return nil, schemaErr(p, "invoke %q argument %s is not a port", inv.Var, p)
		}
		inv.Ports = append(inv.Ports, p.Atom)
	}
	return inv, nil
}

// (<dest> <src>) or (<dest> <src> <guard>)
func parseConnect(n sexpr.Node) (*ir.Connect, error) {
	if !n.IsList || (n.Len() != 2 && n.Len() != 3) {
		return nil, schemaErr(n, "expected (<dest> <src> [<guard>]), got %s", n)
	}
	for _, it := range n.List {
		if !it.IsAtom() {
			return nil, schemaErr(n, "connect endpoint %s is not a port", it)
		}
	}
	c := &ir.Connect{Dest: n.At(0).Atom, Src: n.At(1).Atom}
	if n.Len() == 3 {
		c.Guard = n.At(2).Atom
	}
	return c, nil
}

// (<op> <a> <b>)
func parseConstraint(n sexpr.Node) (sexpr.Node, error) {
	if !n.IsList || n.Len() != 3 || n.At(0).IsList {
		return sexpr.Node{}, schemaErr(n, "expected (<op> <a> <b>), got %s", n)
	}
	return n, nil
}
