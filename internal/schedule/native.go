package schedule

import (
	"context"
	"errors"
	"fmt"
)

// Backend decides a System. Implementations return an error wrapping
// ErrUnsat when no assignment exists.
type Backend interface {
	Solve(ctx context.Context, sys *System) (Assignment, error)
}

// DefaultMaxNodes bounds the search of a Native backend.
const DefaultMaxNodes = 1 << 20

// ErrSearchLimit is returned when Native gives up before deciding.
var ErrSearchLimit = errors.New("search limit reached")

// Native is an in-process finite-domain solver: bounds propagation over
// the linear constraints, then depth-first branching on the variable with
// the smallest remaining domain. It is deterministic and prefers the
// lowest values.
type Native struct {
	// MaxNodes caps the number of search nodes; 0 means DefaultMaxNodes.
	MaxNodes int
}

type linear struct {
	idx   []int
	coeff []int64
	konst int64
	op    Op
	src   *Constraint
}

type search struct {
	ctx   context.Context
	vars  []Var
	cons  []linear
	nodes int
	limit int
}

// Solve implements Backend.
func (n Native) Solve(ctx context.Context, sys *System) (Assignment, error) {
	s := &search{ctx: ctx, vars: sys.Vars, limit: n.MaxNodes}
	if s.limit <= 0 {
		s.limit = DefaultMaxNodes
	}
	for i := range sys.Constraints {
		c := &sys.Constraints[i]
		l := linear{konst: c.Term.Const, op: c.Op, src: c}
		for _, v := range c.Term.Vars() {
			idx, ok := sys.index[v]
			if !ok {
				return nil, fmt.Errorf("constraint %s mentions undeclared variable %s", c, v)
			}
			l.idx = append(l.idx, idx)
			l.coeff = append(l.coeff, c.Term.Coeffs[v])
		}
		s.cons = append(s.cons, l)
	}

	lo := make([]int64, len(sys.Vars))
	hi := make([]int64, len(sys.Vars))
	for i, v := range sys.Vars {
		lo[i], hi[i] = v.Lo, v.Hi
		if lo[i] > hi[i] {
			return nil, fmt.Errorf("%w: variable %s has empty bounds [%d, %d]", ErrUnsat, v.Name, v.Lo, v.Hi)
		}
	}

	// A conflict found before any branching is attributable to a single
	// constraint; report it.
	if failed := s.propagate(lo, hi); failed != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsat, failed.Origin)
	}

	sol, err := s.dfs(lo, hi)
	if err != nil {
		return nil, err
	}
	if sol == nil {
		return nil, ErrUnsat
	}
	out := make(Assignment, len(sys.Vars))
	for i, v := range sys.Vars {
		out[v.Name] = sol[i]
	}
	return out, nil
}

func (s *search) dfs(lo, hi []int64) ([]int64, error) {
	s.nodes++
	if s.nodes > s.limit {
		return nil, ErrSearchLimit
	}
	if s.nodes%1024 == 0 {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
	}
	if s.propagate(lo, hi) != nil {
		return nil, nil
	}

	pick := -1
	for i := range lo {
		if lo[i] == hi[i] {
			continue
		}
		if pick < 0 || hi[i]-lo[i] < hi[pick]-lo[pick] {
			pick = i
		}
	}
	if pick < 0 {
		return lo, nil
	}

	// First branch fixes the preferred end, second excludes it.
	firstLo, firstHi := append([]int64(nil), lo...), append([]int64(nil), hi...)
	restLo, restHi := append([]int64(nil), lo...), append([]int64(nil), hi...)
	if s.vars[pick].HighFirst {
		firstLo[pick] = hi[pick]
		restHi[pick] = hi[pick] - 1
	} else {
		firstHi[pick] = lo[pick]
		restLo[pick] = lo[pick] + 1
	}

	sol, err := s.dfs(firstLo, firstHi)
	if sol != nil || err != nil {
		return sol, err
	}
	return s.dfs(restLo, restHi)
}

// propagate narrows lo/hi to a fixpoint and returns the constraint that
// emptied a domain, or nil.
func (s *search) propagate(lo, hi []int64) *Constraint {
	for changed := true; changed; {
		changed = false
		for k := range s.cons {
			c := &s.cons[k]
			var ok, moved bool
			switch c.op {
			case LE:
				ok, moved = narrow(c, 1, lo, hi)
			case GE:
				ok, moved = narrow(c, -1, lo, hi)
			default:
				var m1, m2 bool
				ok, m1 = narrow(c, 1, lo, hi)
				if ok {
					ok, m2 = narrow(c, -1, lo, hi)
				}
				moved = m1 || m2
			}
			if !ok {
				return c.src
			}
			changed = changed || moved
		}
	}
	return nil
}

// narrow enforces sign*(Σ a_i x_i + k) <= 0.
func narrow(c *linear, sign int64, lo, hi []int64) (ok, moved bool) {
	minSum := sign * c.konst
	for j, idx := range c.idx {
		minSum += minTerm(sign*c.coeff[j], lo[idx], hi[idx])
	}
	if minSum > 0 {
		return false, false
	}
	for j, idx := range c.idx {
		a := sign * c.coeff[j]
		room := -(minSum - minTerm(a, lo[idx], hi[idx]))
		if a > 0 {
			if nh := floorDiv(room, a); nh < hi[idx] {
				hi[idx] = nh
				moved = true
			}
		} else {
			if nl := ceilDiv(room, a); nl > lo[idx] {
				lo[idx] = nl
				moved = true
			}
		}
		if lo[idx] > hi[idx] {
			return false, moved
		}
	}
	return true, moved
}

func minTerm(a, lo, hi int64) int64 {
	if a > 0 {
		return a * lo
	}
	return a * hi
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}
