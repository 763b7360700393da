package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/filament-lower/internal/ir"
)

// dependentsGraph maps a component to the components of the same unit
// that invoke it.
type dependentsGraph map[string]map[string]bool

func buildDependentsGraph(comps []*ir.Component) dependentsGraph {
	known := make(map[string]bool, len(comps))
	for _, c := range comps {
		known[c.Name()] = true
	}
	graph := make(dependentsGraph)
	for _, c := range comps {
		for _, cmd := range c.Commands {
			inv, ok := cmd.(*ir.Invoke)
			if !ok || !known[inv.Function] {
				continue
			}
			if _, local := c.Instance(inv.Function); local {
				continue
			}
			if graph[inv.Function] == nil {
				graph[inv.Function] = make(map[string]bool)
			}
			graph[inv.Function][c.Name()] = true
		}
	}
	return graph
}

// callOrder sorts comps so every component comes after the ones it
// invokes. Ties keep source order.
func callOrder(comps []*ir.Component, dependents dependentsGraph) ([]*ir.Component, error) {
	pending := make(map[string]int, len(comps))
	for _, c := range comps {
		pending[c.Name()] += 0
		for caller := range dependents[c.Name()] {
			pending[caller]++
		}
	}

	done := make(map[string]bool, len(comps))
	out := make([]*ir.Component, 0, len(comps))
	for len(out) < len(comps) {
		progressed := false
		for _, c := range comps {
			if done[c.Name()] || pending[c.Name()] > 0 {
				continue
			}
			done[c.Name()] = true
			out = append(out, c)
			for caller := range dependents[c.Name()] {
				pending[caller]--
			}
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, c := range comps {
				if !done[c.Name()] {
					stuck = append(stuck, c.Name())
				}
			}
			return nil, fmt.Errorf("components invoke each other: %s", strings.Join(stuck, ", "))
		}
	}
	return out, nil
}

type impactReport struct {
	Root   string
	Levels [][]string
}

// computeImpact lists, level by level, the components that transitively
// invoke root.
func computeImpact(root string, dependents dependentsGraph) impactReport {
	visited := map[string]bool{root: true}
	frontier := []string{root}
	var levels [][]string

	for len(frontier) > 0 {
		var next []string
		for _, f := range frontier {
			for dep := range dependents[f] {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				next = append(next, dep)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Strings(next)
		levels = append(levels, next)
		frontier = next
	}

	return impactReport{Root: root, Levels: levels}
}

// Impact describes which components of the report are affected by a
// change to name.
func (r *Report) Impact(name string) string {
	report := computeImpact(name, r.dependents)
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s\n", report.Root))
	for i, level := range report.Levels {
		b.WriteString(fmt.Sprintf("    level %d (%d): %s\n", i+1, len(level), strings.Join(level, ", ")))
	}
	return b.String()
}
