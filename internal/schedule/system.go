package schedule

import (
	"errors"
	"fmt"

	"github.com/robert-at-pretension-io/filament-lower/internal/arith"
)

// Op is the relation of a constraint's term to zero.
type Op int

const (
	LE Op = iota // term <= 0
	GE           // term >= 0
	EQ           // term == 0
)

func (o Op) String() string {
	switch o {
	case LE:
		return "<="
	case GE:
		return ">="
	case EQ:
		return "=="
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Var is a bounded integer variable. HighFirst asks a searching backend
// to try the upper bound before the lower one.
type Var struct {
	Name      string
	Lo        int64
	Hi        int64
	HighFirst bool
}

// Constraint is Term Op 0. Origin says which command or port produced it.
type Constraint struct {
	Term   arith.Term
	Op     Op
	Origin string
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s %s 0 (%s)", c.Term, c.Op, c.Origin)
}

func (c Constraint) holds(v int64) bool {
	switch c.Op {
	case LE:
		return v <= 0
	case GE:
		return v >= 0
	default:
		return v == 0
	}
}

// Assignment maps variable names to values.
type Assignment map[string]int64

// ErrUnsat is returned by a Backend when no assignment exists.
var ErrUnsat = errors.New("unsatisfiable")

// System is a set of bounded integer variables and linear constraints.
type System struct {
	Vars        []Var
	Constraints []Constraint

	index map[string]int
}

// NewSystem returns an empty system.
func NewSystem() *System {
	return &System{index: make(map[string]int)}
}

// AddVar declares name with bounds [lo, hi]. Declaring an existing
// variable narrows its bounds.
func (s *System) AddVar(name string, lo, hi int64) {
	if i, ok := s.index[name]; ok {
		v := &s.Vars[i]
		v.Lo = max(v.Lo, lo)
		v.Hi = min(v.Hi, hi)
		return
	}
	s.index[name] = len(s.Vars)
	s.Vars = append(s.Vars, Var{Name: name, Lo: lo, Hi: hi})
}

// PreferHigh marks a declared variable HighFirst.
func (s *System) PreferHigh(name string) {
	if i, ok := s.index[name]; ok {
		s.Vars[i].HighFirst = true
	}
}

// HasVar reports whether name is declared.
func (s *System) HasVar(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Add appends the constraint term op 0.
func (s *System) Add(term arith.Term, op Op, origin string) {
	s.Constraints = append(s.Constraints, Constraint{Term: term, Op: op, Origin: origin})
}

// Violation describes the first thing an assignment gets wrong.
type Violation struct {
	Var        string
	Constraint *Constraint
	Value      int64
}

func (v *Violation) Error() string {
	if v.Constraint != nil {
		return fmt.Sprintf("constraint %s violated (lhs = %d)", v.Constraint, v.Value)
	}
	return fmt.Sprintf("variable %s = %d is out of bounds", v.Var, v.Value)
}

// Check validates a against every bound and constraint.
func (s *System) Check(a Assignment) error {
	for _, v := range s.Vars {
		val, ok := a[v.Name]
		if !ok {
			return fmt.Errorf("variable %s is unassigned", v.Name)
		}
		if val < v.Lo || val > v.Hi {
			return &Violation{Var: v.Name, Value: val}
		}
	}
	for i := range s.Constraints {
		c := &s.Constraints[i]
		val, err := c.Term.Eval(a)
		if err != nil {
			return fmt.Errorf("constraint %s: %w", c, err)
		}
		if !c.holds(val) {
			return &Violation{Constraint: c, Value: val}
		}
	}
	return nil
}
