// Package sexpr reads the generic nested-list syntax tree that component
// sources are written in.
package sexpr

import (
	"fmt"
	"strings"
)

// Node is either an atom or a list of nodes.
type Node struct {
	Atom   string
	List   []Node
	IsList bool

	// Line and Col locate the node in its source (1-based). Zero for
	// nodes built in code.
	Line int
	Col  int
}

// Atom builds an atom node.
func Atom(s string) Node {
	return Node{Atom: s}
}

// List builds a list node.
func List(items ...Node) Node {
	return Node{List: items, IsList: true}
}

// IsAtom reports whether n is an atom.
func (n Node) IsAtom() bool {
	return !n.IsList
}

// Len returns the number of list items, or 0 for an atom.
func (n Node) Len() int {
	return len(n.List)
}

// At returns the i-th list item.
func (n Node) At(i int) Node {
	return n.List[i]
}

// Head returns the first item's atom text if n is a list starting with an
// atom, or "".
func (n Node) Head() string {
	if !n.IsList || len(n.List) == 0 || n.List[0].IsList {
		return ""
	}
	return n.List[0].Atom
}

// IsZero reports whether n is the zero Node (neither a list nor a
// non-empty atom).
func (n Node) IsZero() bool {
	return !n.IsList && n.Atom == ""
}

// Pos formats the node location for error messages.
func (n Node) Pos() string {
	if n.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", n.Line, n.Col)
}

func (n Node) String() string {
	if !n.IsList {
		return n.Atom
	}
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n Node) write(b *strings.Builder) {
	if !n.IsList {
		b.WriteString(n.Atom)
		return
	}
	b.WriteByte('(')
	for i, item := range n.List {
		if i > 0 {
			b.WriteByte(' ')
		}
		item.write(b)
	}
	b.WriteByte(')')
}

// Equal compares structure and atom text, ignoring positions.
func (n Node) Equal(o Node) bool {
	if n.IsList != o.IsList {
		return false
	}
	if !n.IsList {
		return n.Atom == o.Atom
	}
	if len(n.List) != len(o.List) {
		return false
	}
	for i := range n.List {
		if !n.List[i].Equal(o.List[i]) {
			return false
		}
	}
	return true
}
