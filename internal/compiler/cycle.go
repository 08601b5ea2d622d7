package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/registry"
)

// CycleWarning represents a loop in the trigger graph of a flow.
//
// Cycles are warnings, not errors, because they are how a flow loops:
// a router sending control back to an earlier method is a normal retry or
// iteration pattern. The engine never terminates such a loop by itself
// unless a step bound is configured.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on a registry.
//
// The algorithm:
//  1. Build the method → method trigger graph. A completion of m triggers
//     every method whose condition names m. A router additionally triggers
//     every method whose condition names one of its route labels.
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// Routers without declared routes contribute only their own-name edges, so
// loops through undeclared labels go unreported.
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(reg *registry.Registry) []CycleWarning {
	if reg == nil || reg.Len() == 0 {
		return []CycleWarning{}
	}

	specs := reg.Specs()
	graph := buildDependencyGraph(specs)

	order := make([]string, len(specs))
	for i, s := range specs {
		order[i] = s.Name
	}
	sccs := tarjanSCC(graph, order)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if isCycle(scc, graph) {
			warnings = append(warnings, toWarning(inOrder(scc, order), graph))
		}
	}
	return warnings
}

// dependencyGraph maps method → methods its completion could trigger.
type dependencyGraph map[string][]string

func buildDependencyGraph(specs []ir.MethodSpec) dependencyGraph {
	graph := make(dependencyGraph, len(specs))

	// label → routers that may emit it
	producers := make(map[string][]string)
	for _, s := range specs {
		graph[s.Name] = []string{}
		if s.IsRouter() {
			for _, l := range s.RouteLabels {
				producers[l] = append(producers[l], s.Name)
			}
		}
	}

	for _, s := range specs {
		if s.Condition == nil {
			continue
		}
		for _, member := range s.Condition.Methods {
			if _, isMethod := graph[member]; isMethod {
				graph[member] = appendUnique(graph[member], s.Name)
			}
			for _, router := range producers[member] {
				graph[router] = appendUnique(graph[router], s.Name)
			}
		}
	}
	return graph
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// sccFinder runs Tarjan's strongly-connected-components search. Roots are
// tried in registration order so the result is deterministic.
type sccFinder struct {
	graph   dependencyGraph
	next    int
	index   map[string]int
	low     map[string]int
	stack   []string
	onStack map[string]bool
	out     [][]string
}

func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	f := &sccFinder{
		graph:   graph,
		index:   make(map[string]int, len(order)),
		low:     make(map[string]int, len(order)),
		onStack: make(map[string]bool, len(order)),
	}
	for _, n := range order {
		if _, seen := f.index[n]; !seen {
			f.visit(n)
		}
	}
	return f.out
}

func (f *sccFinder) visit(v string) {
	f.index[v], f.low[v] = f.next, f.next
	f.next++
	f.stack = append(f.stack, v)
	f.onStack[v] = true

	for _, w := range f.graph[v] {
		if _, seen := f.index[w]; !seen {
			f.visit(w)
			f.low[v] = min(f.low[v], f.low[w])
		} else if f.onStack[w] {
			f.low[v] = min(f.low[v], f.index[w])
		}
	}
	if f.low[v] != f.index[v] {
		return
	}

	// v roots a component: everything above it on the stack
	i := len(f.stack) - 1
	for f.stack[i] != v {
		i--
	}
	comp := slices.Clone(f.stack[i:])
	for _, w := range comp {
		f.onStack[w] = false
	}
	f.stack = f.stack[:i]
	f.out = append(f.out, comp)
}

func isCycle(scc []string, graph dependencyGraph) bool {
	return len(scc) > 1 || slices.Contains(graph[scc[0]], scc[0])
}

// inOrder returns the members of scc in registration order.
func inOrder(scc, order []string) []string {
	out := make([]string, 0, len(scc))
	for _, n := range order {
		if slices.Contains(scc, n) {
			out = append(out, n)
		}
	}
	return out
}

func toWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		m := scc[0]
		return CycleWarning{
			Path:    []string{m, m},
			Message: fmt.Sprintf("Self-triggering method detected: %s → %s", m, m),
			Level:   "warning",
		}
	}
	path := cyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: "Potential cycle detected: " + strings.Join(path, " → "),
		Level:   "warning",
	}
}

// cyclePath walks edges inside the component from its first member,
// taking the first unvisited member each step, until it gets back to the
// start or is stuck.
func cyclePath(scc []string, graph dependencyGraph) []string {
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}

	for cur := start; ; {
		next := ""
		for _, n := range graph[cur] {
			if n == start || (!visited[n] && slices.Contains(scc, n)) {
				next = n
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		cur = next
	}
}
