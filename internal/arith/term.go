package arith

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Term is a linear integer expression: Const + Σ Coeffs[v]*v.
// Zero coefficients are never stored.
type Term struct {
	Const  int64
	Coeffs map[string]int64
}

// Constant returns the term k.
func Constant(k int64) Term {
	return Term{Const: k}
}

// Var returns the term 1*name.
func Var(name string) Term {
	return Term{Coeffs: map[string]int64{name: 1}}
}

// IsConst reports whether t has no variables.
func (t Term) IsConst() bool {
	return len(t.Coeffs) == 0
}

// Vars returns the variables of t in sorted order.
func (t Term) Vars() []string {
	vars := make([]string, 0, len(t.Coeffs))
	for v := range t.Coeffs {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// Add returns t + o.
func (t Term) Add(o Term) Term {
	out := Term{Const: t.Const + o.Const}
	for v, c := range t.Coeffs {
		out.addCoeff(v, c)
	}
	for v, c := range o.Coeffs {
		out.addCoeff(v, c)
	}
	return out
}

// Sub returns t - o.
func (t Term) Sub(o Term) Term {
	return t.Add(o.Scale(-1))
}

// Scale returns k*t.
func (t Term) Scale(k int64) Term {
	out := Term{Const: t.Const * k}
	for v, c := range t.Coeffs {
		out.addCoeff(v, c*k)
	}
	return out
}

func (t *Term) addCoeff(v string, c int64) {
	if c == 0 {
		return
	}
	if t.Coeffs == nil {
		t.Coeffs = make(map[string]int64)
	}
	t.Coeffs[v] += c
	if t.Coeffs[v] == 0 {
		delete(t.Coeffs, v)
	}
	if len(t.Coeffs) == 0 {
		t.Coeffs = nil
	}
}

// Eval computes the value of t with every variable bound by env.
func (t Term) Eval(env map[string]int64) (int64, error) {
	sum := t.Const
	for _, v := range t.Vars() {
		val, ok := env[v]
		if !ok {
			return 0, &EvalError{Expr: t.String(), Reason: fmt.Sprintf("variable %q is unbound", v)}
		}
		sum += t.Coeffs[v] * val
	}
	return sum, nil
}

// Equal reports structural equality.
func (t Term) Equal(o Term) bool {
	if t.Const != o.Const || len(t.Coeffs) != len(o.Coeffs) {
		return false
	}
	for v, c := range t.Coeffs {
		if o.Coeffs[v] != c {
			return false
		}
	}
	return true
}

func (t Term) String() string {
	var b strings.Builder
	for _, v := range t.Vars() {
		c := t.Coeffs[v]
		switch {
		case b.Len() == 0 && c == 1:
		case b.Len() == 0 && c == -1:
			b.WriteString("-")
		case c == 1:
			b.WriteString("+")
		case c == -1:
			b.WriteString("-")
		case b.Len() > 0 && c > 0:
			b.WriteString("+" + strconv.FormatInt(c, 10) + "*")
		default:
			b.WriteString(strconv.FormatInt(c, 10) + "*")
		}
		b.WriteString(v)
	}
	switch {
	case b.Len() == 0:
		return strconv.FormatInt(t.Const, 10)
	case t.Const > 0:
		b.WriteString("+" + strconv.FormatInt(t.Const, 10))
	case t.Const < 0:
		b.WriteString(strconv.FormatInt(t.Const, 10))
	}
	return b.String()
}
