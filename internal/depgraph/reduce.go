package depgraph

import (
	"log/slog"
	"slices"
	"strings"
)

type reduceOptions struct {
	logger *slog.Logger
}

type Option func(*reduceOptions)

// WithLogger sets the logger used to report cycles and missing packages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *reduceOptions) {
		o.logger = logger
	}
}

// Cycle is a sequence of packages where each depends on the next, and the last depends on the first.
type Cycle []string

func (c Cycle) String() string {
	if len(c) == 0 {
		return ""
	}
	return strings.Join(c, " -> ") + " -> " + c[0]
}

// Key identifies the cycle independently of where it was entered.
func (c Cycle) Key() string {
	if len(c) == 0 {
		return ""
	}
	lowest := slices.Index(c, slices.Min(c))
	rotated := append(slices.Clone(c[lowest:]), c[:lowest]...)
	return strings.Join(rotated, "\x00")
}

// Reduction is the result of reducing a graph.
type Reduction struct {
	Graph Graph
	// Cycles found during reduction, in the order they were discovered.
	Cycles []Cycle
	// Missing packages that were referenced as dependencies but have no entry in the graph, ascending.
	Missing []string
}

// Reduce returns the transitive reduction of g.
//
// g is not modified.
func Reduce(g Graph, options ...Option) *Reduction {
	opts := &reduceOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range options {
		opt(opts)
	}
	r := &reducer{
		graph:   g,
		logger:  opts.logger,
		missing: Set{},
		cycles:  map[string]bool{},
	}
	out := &Reduction{Graph: make(Graph, len(g))}
	for _, pkg := range g.Packages() {
		out.Graph[pkg] = r.reducePackage(pkg)
	}
	out.Cycles = r.found
	out.Missing = r.missing.Sorted()
	return out
}

type reducer struct {
	graph   Graph
	logger  *slog.Logger
	missing Set
	cycles  map[string]bool
	found   []Cycle
}

// walk is the state of the traversal from one direct dependency of root.
type walk struct {
	root    string
	removed Set
	visited Set
	path    []string
	cyclic  bool
}

func (r *reducer) reducePackage(pkg string) Set {
	reduced := r.graph[pkg].Clone()
	for _, dep := range r.graph.Deps(pkg) {
		if !reduced.Has(dep) {
			// Already reachable through an earlier dependency.
			continue
		}
		w := &walk{
			root:    pkg,
			removed: Set{},
			visited: Set{},
			path:    []string{pkg},
		}
		r.descend(w, dep)
		if w.cyclic {
			continue
		}
		for node := range w.removed {
			delete(reduced, node)
		}
	}
	return reduced
}

func (r *reducer) descend(w *walk, node string) {
	if i := slices.Index(w.path, node); i >= 0 {
		w.cyclic = true
		r.reportCycle(Cycle(slices.Clone(w.path[i:])))
		return
	}
	if len(w.path) >= 2 && r.graph.HasEdge(w.root, node) {
		w.removed.Add(node)
	}
	if w.visited.Has(node) {
		return
	}
	w.visited.Add(node)
	deps, ok := r.graph[node]
	if !ok {
		r.reportMissing(node)
		return
	}
	w.path = append(w.path, node)
	for _, dep := range deps.Sorted() {
		r.descend(w, dep)
	}
	w.path = w.path[:len(w.path)-1]
}

func (r *reducer) reportCycle(cycle Cycle) {
	key := cycle.Key()
	if r.cycles[key] {
		return
	}
	r.cycles[key] = true
	r.found = append(r.found, cycle)
	r.logger.Warn("Dependency cycle detected", "cycle", cycle.String())
}

func (r *reducer) reportMissing(pkg string) {
	if r.missing.Has(pkg) {
		return
	}
	r.missing.Add(pkg)
	r.logger.Info("No dependency information for package, treating it as a leaf", "package", pkg)
}
