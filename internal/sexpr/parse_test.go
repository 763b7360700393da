package sexpr

import (
	"errors"
	"testing"
)

func TestParseForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{name: "atom", src: "G", want: []string{"G"}},
		{name: "nested", src: "(+ G (* 2 1))", want: []string{"(+ G (* 2 1))"}},
		{name: "brackets stay in atoms", src: "(in-port[32] (G (+ G 1)) left)", want: []string{"(in-port[32] (G (+ G 1)) left)"}},
		{name: "empty list", src: "()", want: []string{"()"}},
		{name: "comments and several forms", src: "; header\n(a b) ; trailing\n(c)\n", want: []string{"(a b)", "(c)"}},
		{name: "empty input", src: "  \n ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forms, err := Parse([]byte(tt.src))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(forms) != len(tt.want) {
				t.Fatalf("got %d forms, want %d", len(forms), len(tt.want))
			}
			for i, f := range forms {
				if f.String() != tt.want[i] {
					t.Errorf("form %d = %q, want %q", i, f.String(), tt.want[i])
				}
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		line, co int
	}{
		{name: "unclosed", src: "(comp main\n  (events", line: 2, co: 3},
		{name: "stray close", src: "(a))", line: 1, co: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("expected SyntaxError, got %v", err)
			}
			if se.Line != tt.line || se.Col != tt.co {
				t.Errorf("position = %d:%d, want %d:%d", se.Line, se.Col, tt.line, tt.co)
			}
		})
	}
}

func TestPositionsAndHelpers(t *testing.T) {
	n := MustParse("(event\n  G 1)")
	if n.Head() != "event" || n.Len() != 3 {
		t.Fatalf("unexpected shape %s", n)
	}
	g := n.At(1)
	if g.Line != 2 || g.Col != 3 {
		t.Errorf("G at %s, want 2:3", g.Pos())
	}
	if !n.Equal(List(Atom("event"), Atom("G"), Atom("1"))) {
		t.Errorf("Equal ignored structure")
	}
	if (Node{}).IsZero() != true {
		t.Errorf("zero node not reported as zero")
	}
}

func TestParseOneRejectsMultipleForms(t *testing.T) {
	if _, err := ParseOne("a b"); err == nil {
		t.Fatal("expected error for two forms")
	}
}
