// Package library describes the primitives components instantiate: which
// are sequential storage and what their operand ports are called.
// Definitions are HCL primitive blocks; a copy is embedded as the default.
package library

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

//go:embed primitives.hcl
var defaultSource []byte

// Kind classifies a primitive for lowering.
type Kind string

const (
	Register      Kind = "register"
	Combinational Kind = "combinational"
)

// Primitive is one library entry. For a Register, Ports is the write
// enable then the data input; otherwise the operands in argument order.
type Primitive struct {
	Name  string
	Kind  Kind
	Ports []string
}

// Operands is the number of invoke arguments the primitive takes.
func (p Primitive) Operands() int {
	if p.Kind == Register {
		return 1
	}
	return len(p.Ports)
}

// Library is a set of primitives keyed by type name.
type Library struct {
	prims map[string]Primitive
}

type file struct {
	Primitives []primitiveBlock `hcl:"primitive,block"`
}

type primitiveBlock struct {
	Name  string   `hcl:"name,label"`
	Kind  string   `hcl:"kind"`
	Ports []string `hcl:"ports,optional"`
}

// Default returns the embedded library.
func Default() *Library {
	lib, err := Parse(defaultSource, "primitives.hcl")
	if err != nil {
		panic(fmt.Sprintf("library: embedded primitives: %v", err))
	}
	return lib
}

// Load reads a library file.
func Load(path string) (*Library, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading library: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes HCL library source.
func Parse(src []byte, filename string) (*Library, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing library: %w", diags)
	}
	var decoded file
	if diags := gohcl.DecodeBody(f.Body, nil, &decoded); diags.HasErrors() {
		return nil, fmt.Errorf("decoding library: %w", diags)
	}

	lib := &Library{prims: make(map[string]Primitive, len(decoded.Primitives))}
	for _, b := range decoded.Primitives {
		p := Primitive{Name: b.Name, Kind: Kind(b.Kind), Ports: b.Ports}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		if _, dup := lib.prims[p.Name]; dup {
			return nil, fmt.Errorf("%s: primitive %q defined twice", filename, p.Name)
		}
		lib.prims[p.Name] = p
	}
	return lib, nil
}

func (p Primitive) validate() error {
	switch p.Kind {
	case Register:
		if len(p.Ports) != 2 {
			return fmt.Errorf("register %q needs [write_enable, data_in] ports, got %v", p.Name, p.Ports)
		}
	case Combinational:
		if len(p.Ports) == 0 {
			return fmt.Errorf("primitive %q lists no operand ports", p.Name)
		}
	default:
		return fmt.Errorf("primitive %q has unknown kind %q", p.Name, p.Kind)
	}
	seen := make(map[string]bool, len(p.Ports))
	for _, port := range p.Ports {
		if seen[port] {
			return fmt.Errorf("primitive %q repeats port %q", p.Name, port)
		}
		seen[port] = true
	}
	return nil
}

// Lookup finds a primitive by type name.
func (l *Library) Lookup(typ string) (Primitive, bool) {
	p, ok := l.prims[typ]
	return p, ok
}

// Names lists the primitives in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.prims))
	for n := range l.prims {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of l with other's definitions taking precedence.
func (l *Library) Merge(other *Library) *Library {
	out := &Library{prims: make(map[string]Primitive, len(l.prims)+len(other.prims))}
	for k, v := range l.prims {
		out.prims[k] = v
	}
	for k, v := range other.prims {
		out.prims[k] = v
	}
	return out
}
