// Package arith evaluates event expressions such as G, (+ G 1) and integer
// literals into linear integer terms.
//
// The grammar is closed: integer literals, identifiers, and binary nodes
// (op left right) with op one of + - * /. Nothing else is accepted.
package arith

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

// EvalError reports an expression outside the evaluable grammar, or one
// that leaves linear integer arithmetic.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", e.Expr, e.Reason)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdent reports whether s is a bare identifier.
func IsIdent(s string) bool {
	return identRe.MatchString(s)
}

func isOperator(s string) bool {
	switch s {
	case "+", "-", "*", "/":
		return true
	}
	return false
}

func literal(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

// CanEvaluate reports whether n is within the evaluable grammar. It does
// not check linearity; Evaluate may still reject a product of variables.
func CanEvaluate(n sexpr.Node) bool {
	if n.IsAtom() {
		if _, ok := literal(n.Atom); ok {
			return true
		}
		return IsIdent(n.Atom)
	}
	if n.Len() != 3 || !isOperator(n.Head()) {
		return false
	}
	return CanEvaluate(n.At(1)) && CanEvaluate(n.At(2))
}

// Evaluate reduces n to a linear term.
func Evaluate(n sexpr.Node) (Term, error) {
	if n.IsAtom() {
		if v, ok := literal(n.Atom); ok {
			return Constant(v), nil
		}
		if IsIdent(n.Atom) {
			return Var(n.Atom), nil
		}
		return Term{}, &EvalError{Expr: n.String(), Reason: "not a literal or identifier"}
	}

	if n.Len() == 0 {
		return Term{}, &EvalError{Expr: n.String(), Reason: "empty expression"}
	}
	op := n.Head()
	if !isOperator(op) {
		return Term{}, &EvalError{Expr: n.String(), Reason: fmt.Sprintf("unknown operator %q", n.At(0).String())}
	}
	if n.Len() != 3 {
		return Term{}, &EvalError{Expr: n.String(), Reason: fmt.Sprintf("operator %s takes 2 operands, got %d", op, n.Len()-1)}
	}

	left, err := Evaluate(n.At(1))
	if err != nil {
		return Term{}, err
	}
	right, err := Evaluate(n.At(2))
	if err != nil {
		return Term{}, err
	}

	switch op {
	case "+":
		return left.Add(right), nil
	case "-":
		return left.Sub(right), nil
	case "*":
		switch {
		case left.IsConst():
			return right.Scale(left.Const), nil
		case right.IsConst():
			return left.Scale(right.Const), nil
		}
		return Term{}, &EvalError{Expr: n.String(), Reason: "non-linear product of event variables"}
	default:
		return divide(n, left, right)
	}
}

func divide(n sexpr.Node, left, right Term) (Term, error) {
	if !right.IsConst() {
		return Term{}, &EvalError{Expr: n.String(), Reason: "divisor is not a constant"}
	}
	d := right.Const
	if d == 0 {
		return Term{}, &EvalError{Expr: n.String(), Reason: "division by zero"}
	}
	if left.IsConst() {
		return Constant(floorDiv(left.Const, d)), nil
	}
	if left.Const%d != 0 {
		return Term{}, &EvalError{Expr: n.String(), Reason: "inexact division of an event expression"}
	}
	out := Term{Const: left.Const / d}
	for v, c := range left.Coeffs {
		if c%d != 0 {
			return Term{}, &EvalError{Expr: n.String(), Reason: "inexact division of an event expression"}
		}
		out.addCoeff(v, c/d)
	}
	return out, nil
}

// EvaluateWith evaluates n and binds its variables from env.
func EvaluateWith(n sexpr.Node, env map[string]int64) (int64, error) {
	t, err := Evaluate(n)
	if err != nil {
		return 0, err
	}
	return t.Eval(env)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
