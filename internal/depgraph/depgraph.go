package depgraph

import (
	"maps"
	"slices"
)

// Set of package names.
type Set map[string]struct{}

// NewSet creates a Set containing names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, name := range names {
		s[name] = struct{}{}
	}
	return s
}

func (s Set) Add(name string) { s[name] = struct{}{} }

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members of the set in ascending order.
func (s Set) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

func (s Set) Clone() Set { return maps.Clone(s) }

// Graph maps a package to the set of packages it directly depends on.
type Graph map[string]Set

// Add records that pkg depends on each of deps.
//
// pkg is given an entry even if deps is empty. Self dependencies are dropped.
func (g Graph) Add(pkg string, deps ...string) {
	set, ok := g[pkg]
	if !ok {
		set = Set{}
		g[pkg] = set
	}
	for _, dep := range deps {
		if dep == pkg {
			continue
		}
		set.Add(dep)
	}
}

// Deps returns the direct dependencies of pkg in ascending order.
func (g Graph) Deps(pkg string) []string {
	return g[pkg].Sorted()
}

// Packages returns every package with an entry, in ascending order.
func (g Graph) Packages() []string {
	return slices.Sorted(maps.Keys(g))
}

// HasEdge reports whether from directly depends on to.
func (g Graph) HasEdge(from, to string) bool {
	return g[from].Has(to)
}

// EdgeCount is the total number of edges in the graph.
func (g Graph) EdgeCount() int {
	n := 0
	for _, deps := range g {
		n += len(deps)
	}
	return n
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for pkg, deps := range g {
		out[pkg] = deps.Clone()
	}
	return out
}

// Reachable returns every package reachable from pkg through one or more edges.
//
// pkg itself is only included if it is part of a cycle.
func (g Graph) Reachable(pkg string) Set {
	seen := Set{}
	stack := g.Deps(pkg)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen.Has(next) {
			continue
		}
		seen.Add(next)
		stack = append(stack, g.Deps(next)...)
	}
	return seen
}

// Edge is a directed dependency from one package to another.
type Edge struct {
	From string
	To   string
}

func (e Edge) String() string { return e.From + " -> " + e.To }

// Evidence maps an edge to the dependency files that justify it, in first-seen order.
type Evidence map[Edge][]string

// Add records file as evidence for the edge from→to. Duplicates are ignored.
func (e Evidence) Add(from, to, file string) {
	if from == to {
		return
	}
	edge := Edge{From: from, To: to}
	if slices.Contains(e[edge], file) {
		return
	}
	e[edge] = append(e[edge], file)
}

// Files returns the evidence recorded for the edge from→to.
func (e Evidence) Files(from, to string) []string {
	return e[Edge{From: from, To: to}]
}

// For returns the evidence for every edge leaving pkg.
func (e Evidence) For(pkg string) Evidence {
	out := Evidence{}
	for edge, files := range e {
		if edge.From == pkg {
			out[edge] = slices.Clone(files)
		}
	}
	return out
}
