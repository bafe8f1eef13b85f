// Package depgraph holds the package dependency graph used to decide which packages need to be checked out, and
// reduces that graph to its minimal form.
//
// A graph maps each package to the set of packages it directly depends on. A dependency that has no entry of its
// own is a leaf: typically a base product that is never scanned locally.
//
// The rules applied when reducing a graph are:
//
//  1. Self dependencies never exist. They are dropped when an edge is added.
//  2. For every package P, an edge P→N is removed if N is also reachable from P through a path of length two or
//     more, starting with another direct dependency D of P.
//  3. Walking a path that returns to a package already on the path is a cycle. The cycle is reported and that path
//     is abandoned. Edges that would have been removed through a D whose walk met a cycle are kept, removals found
//     through the other direct dependencies of P still apply.
//  4. A dependency without an entry of its own is reported once and treated as having no dependencies.
//
// Reduction never changes which packages are reachable from which.
package depgraph
