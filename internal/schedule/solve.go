// Package schedule resolves a component's interval arithmetic into a
// concrete per-cycle schedule.
//
// Build turns a component into a System of bounded integer variables and
// linear constraints; a Backend decides it. Solve runs the two passes a
// component needs: the timing constraints alone, to fix event values and
// with them the FSM state count, then timing plus FSM activation.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
)

// UnsatisfiableError reports a component whose timing constraints have no
// solution. No partial schedule accompanies it.
type UnsatisfiableError struct {
	Component string
	Cause     error
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("unsatisfiable schedule for %s: %v", e.Component, e.Cause)
}

func (e *UnsatisfiableError) Unwrap() error {
	return e.Cause
}

// Model is a solved schedule.
type Model struct {
	Component string
	Baseline  int64
	Events    map[string]int64
	Starts    map[string]int64

	// States is the FSM state count; Active[t][i] is true when state i is
	// active at cycle t.
	States int
	Active [][]bool

	Assignment Assignment
}

// Start returns the start cycle of a command variable or port.
func (m *Model) Start(v string) (int64, bool) {
	s, ok := m.Starts[v]
	return s, ok
}

// StateAt returns the state active at cycle t, or -1.
func (m *Model) StateAt(t int) int {
	if t < 0 || t >= len(m.Active) {
		return -1
	}
	for i, on := range m.Active[t] {
		if on {
			return i
		}
	}
	return -1
}

// Vars lists the scheduled variables in order.
func (m *Model) Vars() []string {
	out := make([]string, 0, len(m.Starts))
	for v := range m.Starts {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// horizonRetries is how many times Solve widens an automatic horizon after
// an unsatisfiable timing pass.
const horizonRetries = 2

// Solve computes a schedule for comp.
func Solve(ctx context.Context, comp *ir.Component, opts Options) (*Model, error) {
	backend := opts.Backend
	if backend == nil {
		backend = Native{}
	}

	timing := opts
	timing.States = 0
	auto := opts.Horizon <= 0
	if auto {
		h, err := autoHorizon(comp, timing)
		if err != nil {
			return nil, err
		}
		timing.Horizon = h
	}
	var first Assignment
	for attempt := 0; ; attempt++ {
		sys, err := Build(comp, timing)
		if err != nil {
			return nil, err
		}
		first, err = decide(ctx, backend, comp, sys)
		var ue *UnsatisfiableError
		if auto && attempt < horizonRetries && errors.As(err, &ue) {
			timing.Horizon *= 4
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	events := make(map[string]int64, len(comp.Signature.Events))
	for _, ev := range comp.Signature.Events {
		events[ev.Name] = first[ev.Name]
	}
	bounds, err := Boundaries(comp.Signature, events)
	if err != nil {
		return nil, err
	}

	full := opts
	full.States = len(bounds)
	full.Events = events
	if auto {
		full.Horizon = timing.Horizon + int64(full.States)
	}
	sys, err := Build(comp, full)
	if err != nil {
		return nil, err
	}
	a, err := decide(ctx, backend, comp, sys)
	if err != nil {
		return nil, err
	}
	return newModel(comp, opts.Baseline, full.States, a), nil
}

func decide(ctx context.Context, backend Backend, comp *ir.Component, sys *System) (Assignment, error) {
	a, err := backend.Solve(ctx, sys)
	if errors.Is(err, ErrUnsat) {
		return nil, &UnsatisfiableError{Component: comp.Name(), Cause: err}
	}
	if err != nil {
		return nil, fmt.Errorf("solving %s: %w", comp.Name(), err)
	}
	if err := sys.Check(a); err != nil {
		return nil, fmt.Errorf("solver returned an invalid model for %s: %w", comp.Name(), err)
	}
	return a, nil
}

func newModel(comp *ir.Component, baseline int64, states int, a Assignment) *Model {
	m := &Model{
		Component:  comp.Name(),
		Baseline:   baseline,
		Events:     make(map[string]int64),
		Starts:     make(map[string]int64),
		States:     states,
		Assignment: a,
	}
	for _, ev := range comp.Signature.Events {
		m.Events[ev.Name] = a[ev.Name]
	}
	for _, p := range comp.Signature.Ports() {
		m.Starts[p.Name] = a[StartVar(p.Name)]
	}
	for _, cmd := range comp.Commands {
		if v := ir.Variable(cmd); v != "" {
			m.Starts[v] = a[StartVar(v)]
		}
	}
	m.Active = make([][]bool, states)
	for t := 0; t < states; t++ {
		m.Active[t] = make([]bool, states)
		for i := 0; i < states; i++ {
			m.Active[t][i] = a[StateVar(i, t)] == 1
		}
	}
	return m
}
