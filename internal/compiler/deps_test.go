package compiler

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/filament-lower/internal/extractor"
	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
)

const calls = `
(comp top
  (events (event G 1))
  (ports (interface[1] (G) go) (in-port[4] (G (+ G 1)) x) (out-port[4] ((+ G 1) (+ G 2)) y))
  (invocations (m0 (mid (G) x)))
  (connect (y m0.o)))
(comp mid
  (events (event G 1))
  (ports (interface[1] (G) go) (in-port[4] (G (+ G 1)) a) (out-port[4] ((+ G 1) (+ G 2)) o))
  (invocations (l0 (leaf (G) a)))
  (connect (o l0.o)))
(comp side
  (events (event G 1))
  (ports (interface[1] (G) go) (in-port[4] (G (+ G 1)) a) (out-port[4] ((+ G 1) (+ G 2)) o))
  (invocations (l0 (leaf (G) a)))
  (connect (o l0.o)))
(comp leaf
  (events (event T 1))
  (ports (interface[1] (T) go) (in-port[4] (T (+ T 1)) a) (out-port[4] ((+ T 1) (+ T 2)) o)))
`

func names(comps []*ir.Component) []string {
	var out []string
	for _, c := range comps {
		out = append(out, c.Name())
	}
	return out
}

func TestCallOrderAndImpact(t *testing.T) {
	unit, err := extractor.New().ExtractSource([]byte(calls))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	deps := buildDependentsGraph(unit.Components)
	ordered, err := callOrder(unit.Components, deps)
	if err != nil {
		t.Fatalf("callOrder: %v", err)
	}
	if diff := cmp.Diff([]string{"leaf", "mid", "side", "top"}, names(ordered)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}

	report := computeImpact("leaf", deps)
	want := [][]string{{"mid", "side"}, {"top"}}
	if diff := cmp.Diff(want, report.Levels); diff != "" {
		t.Errorf("impact levels (-want +got):\n%s", diff)
	}
}

func TestCompileOrdersByCalls(t *testing.T) {
	report, err := New(testConfig()).Compile(context.Background(), "calls.fil", []byte(calls))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var got []string
	for _, res := range report.Results {
		got = append(got, res.Source.Name())
	}
	if diff := cmp.Diff([]string{"leaf", "mid", "side", "top"}, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	if impact := report.Impact("mid"); impact != "  mid\n    level 1 (1): top\n" {
		t.Errorf("Impact(mid) = %q", impact)
	}
}

func TestCompileRejectsCallCycle(t *testing.T) {
	src := `
(comp ping
  (events (event G 1))
  (ports (interface[1] (G) go) (in-port[4] (G (+ G 1)) a) (out-port[4] ((+ G 1) (+ G 2)) o))
  (invocations (p0 (pong (G) a))))
(comp pong
  (events (event G 1))
  (ports (interface[1] (G) go) (in-port[4] (G (+ G 1)) a) (out-port[4] ((+ G 1) (+ G 2)) o))
  (invocations (p0 (ping (G) a))))
`
	_, err := New(testConfig()).Compile(context.Background(), "cycle.fil", []byte(src))
	if err == nil || !strings.Contains(err.Error(), "invoke each other: ping, pong") {
		t.Fatalf("expected a cycle error, got %v", err)
	}
}
