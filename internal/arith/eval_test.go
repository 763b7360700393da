package arith

import (
	"errors"
	"testing"

	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

func TestCanEvaluate(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"G", true},
		{"42", true},
		{"-3", true},
		{"(+ G 1)", true},
		{"(* 2 (- G 1))", true},
		{"(/ G 2)", true},
		{"(+ G)", false},
		{"(+ G 1 2)", false},
		{"(% G 2)", false},
		{"()", false},
		{"(G)", false},
		{"G.out", false},
		{"(+ G os.Exit)", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if got := CanEvaluate(sexpr.MustParse(tt.src)); got != tt.want {
				t.Errorf("CanEvaluate(%s) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"G", "G"},
		{"7", "7"},
		{"(+ G 1)", "G+1"},
		{"(- (+ G 3) G)", "3"},
		{"(* 2 (+ G 1))", "2*G+2"},
		{"(* (- G 1) 3)", "3*G-3"},
		{"(/ (* 4 G) 2)", "2*G"},
		{"(/ 7 2)", "3"},
		{"(/ -7 2)", "-4"},
		{"(- H (+ G 1))", "-G+H-1"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			term, err := Evaluate(sexpr.MustParse(tt.src))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if term.String() != tt.want {
				t.Errorf("Evaluate(%s) = %s, want %s", tt.src, term, tt.want)
			}
		})
	}
}

func TestEvaluateRejects(t *testing.T) {
	for _, src := range []string{
		"()",
		"(+ G)",
		"(^ G 1)",
		"(* G G)",
		"(/ G H)",
		"(/ G 0)",
		"(/ (+ G 1) 2)",
		"(+ G x.y)",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Evaluate(sexpr.MustParse(src))
			var ee *EvalError
			if !errors.As(err, &ee) {
				t.Fatalf("expected EvalError, got %v", err)
			}
		})
	}
}

func TestEvaluateWith(t *testing.T) {
	v, err := EvaluateWith(sexpr.MustParse("(+ (* 2 G) 3)"), map[string]int64{"G": 5})
	if err != nil {
		t.Fatalf("EvaluateWith: %v", err)
	}
	if v != 13 {
		t.Errorf("got %d, want 13", v)
	}
	if _, err := EvaluateWith(sexpr.MustParse("(+ H 1)"), map[string]int64{"G": 0}); err == nil {
		t.Error("expected an unbound variable error")
	}
}

func TestTermAlgebra(t *testing.T) {
	a := Var("G").Add(Constant(2))
	b := Var("G").Scale(3).Sub(Constant(1))
	sum := a.Add(b)
	if sum.Coeffs["G"] != 4 || sum.Const != 1 {
		t.Fatalf("sum = %s", sum)
	}
	if !a.Sub(a).Equal(Constant(0)) {
		t.Errorf("a-a = %s, want 0", a.Sub(a))
	}
	if !a.Sub(a).IsConst() {
		t.Errorf("cancelled term still has variables: %v", a.Sub(a).Vars())
	}
}
