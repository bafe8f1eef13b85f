// Package checkout decides which packages must be checked out to keep a partially checked out source area
// buildable, and checks them out.
//
// Two policies are available:
//
//  1. Staleness: a package that includes a file from a checked out package, where that file has been modified since
//     the package was checked out, is offered for checkout.
//  2. Reachability: a package that is not checked out, but sits on a dependency chain between two checked out
//     packages, is offered for checkout along with every other missing package on that chain.
//
// A package is offered at most once per run, and is treated as checked out as soon as it has been offered.
package checkout

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"time"

	"github.com/alecthomas/errors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrbtools/mrbdeps/internal/config"
	"github.com/mrbtools/mrbdeps/internal/depdb"
	"github.com/mrbtools/mrbdeps/internal/depgraph"
	"github.com/mrbtools/mrbdeps/internal/logging"
)

const (
	// DefaultFudge absorbs timestamp imprecision between a file and its package directory.
	DefaultFudge     = time.Second * 5
	defaultCacheSize = 4096
)

// Policy selects which decision rules are applied.
type Policy int

const (
	// PolicyBoth applies PolicyStaleness followed by PolicyReachability.
	PolicyBoth Policy = iota
	PolicyStaleness
	PolicyReachability
)

func (p Policy) String() string {
	switch p {
	case PolicyBoth:
		return "both"
	case PolicyStaleness:
		return "staleness"
	case PolicyReachability:
		return "reachability"
	default:
		return "unknown"
	}
}

func (p *Policy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "both":
		*p = PolicyBoth
	case "staleness":
		*p = PolicyStaleness
	case "reachability":
		*p = PolicyReachability
	default:
		return errors.Errorf("unknown checkout policy %q", text)
	}
	return nil
}

// Action taken when a package is offered for checkout.
type Action int

const (
	// ActionCheckout invokes the checkout.
	ActionCheckout Action = iota
	// ActionReport only reports that the checkout is needed.
	ActionReport
)

// Offer of a package for checkout.
type Offer struct {
	Package string
	// Trigger is the modified file (staleness) or checked out package (reachability) responsible.
	Trigger string
	Policy  Policy
}

// Failure of a checkout.
type Failure struct {
	Package string
	Outcome Outcome
	Err     error
}

// Report of everything the engine decided during a run.
type Report struct {
	Offered  []Offer
	Failures []Failure
	Cycles   []depgraph.Cycle
	// Missing packages referenced as dependencies without a database entry of their own.
	Missing []string
}

// Packages returns the name of every offered package, in the order offered.
func (r *Report) Packages() []string {
	out := make([]string, 0, len(r.Offered))
	for _, offer := range r.Offered {
		out = append(out, offer.Package)
	}
	return out
}

type fileKey struct {
	pkg  string
	file string
}

type Engine struct {
	db        *depdb.Database
	local     depgraph.Set
	notified  depgraph.Set
	invoker   Invoker
	fsys      fs.FS
	action    Action
	fudge     time.Duration
	cacheSize int
	modified  *lru.Cache[fileKey, bool]
	logger    *slog.Logger
	report    *Report
	missing   depgraph.Set
	cycles    depgraph.Set
}

type Option func(*Engine)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithAction selects what happens when a package is offered. The default is ActionCheckout.
func WithAction(action Action) Option {
	return func(e *Engine) { e.action = action }
}

// WithFudge overrides DefaultFudge.
func WithFudge(fudge time.Duration) Option {
	return func(e *Engine) { e.fudge = fudge }
}

// WithCacheSize bounds the number of memoized file modification checks.
func WithCacheSize(size int) Option {
	return func(e *Engine) { e.cacheSize = size }
}

// WithFS replaces the filesystem used for modification checks, which must be rooted at the source area.
func WithFS(fsys fs.FS) Option {
	return func(e *Engine) { e.fsys = fsys }
}

// New creates an Engine for the source area in cfg.
//
// local is the set of checked out packages. It is copied, see Engine.Local.
func New(cfg config.Config, db *depdb.Database, local depgraph.Set, invoker Invoker, options ...Option) (*Engine, error) {
	e := &Engine{
		db:        db,
		local:     local.Clone(),
		notified:  depgraph.Set{},
		invoker:   invoker,
		fsys:      os.DirFS(cfg.SourceRoot),
		fudge:     DefaultFudge,
		cacheSize: defaultCacheSize,
		logger:    slog.New(slog.DiscardHandler),
		report:    &Report{},
		missing:   depgraph.Set{},
		cycles:    depgraph.Set{},
	}
	for _, opt := range options {
		opt(e)
	}
	if e.local == nil {
		e.local = depgraph.Set{}
	}
	if e.cacheSize <= 0 {
		return nil, errors.Errorf("%w: modification cache size must be positive, got %d", config.ErrConfig, e.cacheSize)
	}
	var err error
	e.modified, err = lru.New[fileKey, bool](e.cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create modification cache")
	}
	return e, nil
}

// Local returns the checked out packages, including those offered so far.
func (e *Engine) Local() depgraph.Set { return e.local.Clone() }

// Run applies policy and returns the accumulated report.
func (e *Engine) Run(ctx context.Context, policy Policy) *Report {
	switch policy {
	case PolicyStaleness:
		e.Staleness(ctx)
	case PolicyReachability:
		e.Reachability(ctx)
	default:
		e.Staleness(ctx)
		e.Reachability(ctx)
	}
	return e.Report()
}

// Report returns everything decided so far.
func (e *Engine) Report() *Report {
	report := *e.report
	report.Missing = e.missing.Sorted()
	return &report
}

// Staleness offers every package that depends on a modified file in a checked out package.
//
// Only edges with evidence can be checked. If no edge into a checked out package has any, a warning is logged.
func (e *Engine) Staleness(ctx context.Context) {
	edges, withEvidence := 0, 0
	for _, pkg := range e.db.Graph.Packages() {
		if e.notified.Has(pkg) {
			continue
		}
		for _, other := range e.db.Graph.Deps(pkg) {
			if !e.local.Has(other) {
				continue
			}
			files := e.db.Evidence.Files(pkg, other)
			edges++
			if len(files) > 0 {
				withEvidence++
			}
			if file, ok := e.modifiedFile(other, files); ok {
				e.offer(ctx, pkg, path.Join(other, file), PolicyStaleness)
				break
			}
		}
	}
	if edges > 0 && withEvidence == 0 {
		e.logger.Warn("No dependency files recorded for checked out packages, modified files cannot be detected; write the dependency database in evidence format",
			"dependencies", edges)
	}
}

// modifiedFile returns the first of files in pkg that has been modified since pkg was checked out.
func (e *Engine) modifiedFile(pkg string, files []string) (string, bool) {
	for _, file := range slices.Sorted(slices.Values(files)) {
		key := fileKey{pkg: pkg, file: file}
		modified, ok := e.modified.Get(key)
		if !ok {
			modified = e.isModified(pkg, file)
			e.modified.Add(key, modified)
		}
		if modified {
			return file, true
		}
	}
	return "", false
}

func (e *Engine) isModified(pkg, file string) bool {
	dirInfo, err := fs.Stat(e.fsys, pkg)
	if err != nil {
		e.logger.Debug("Cannot stat package directory", "package", pkg, "error", err)
		return false
	}
	fileInfo, err := fs.Stat(e.fsys, path.Join(pkg, file))
	if err != nil {
		e.logger.Debug("Cannot stat dependency file", "package", pkg, "file", file, "error", err)
		return false
	}
	return fileInfo.ModTime().Sub(dirInfo.ModTime()) > e.fudge
}

// Reachability offers every package that is not checked out but lies on a dependency path between two checked out
// packages.
func (e *Engine) Reachability(ctx context.Context) {
	resolved := map[string]string{}
	for _, pkg := range e.local.Sorted() {
		for _, dep := range e.db.Graph.Deps(pkg) {
			if e.local.Has(dep) {
				continue
			}
			e.search(ctx, dep, []string{pkg}, resolved)
		}
	}
}

// search returns the checked out package reachable from node, or "" if there is none, and whether the search was
// complete. A search that met a cycle only covers the paths that did not, so its negative result is not remembered.
//
// Every package on the way to a checked out package is offered, deepest first.
func (e *Engine) search(ctx context.Context, node string, trail []string, resolved map[string]string) (string, bool) {
	if i := slices.Index(trail, node); i >= 0 {
		e.reportCycle(depgraph.Cycle(slices.Clone(trail[i:])))
		return "", false
	}
	if e.local.Has(node) {
		return node, true
	}
	if reached, ok := resolved[node]; ok {
		return reached, true
	}
	deps, ok := e.db.Graph[node]
	if !ok {
		e.reportMissing(node)
		resolved[node] = ""
		return "", true
	}
	trail = append(trail, node)
	reached := ""
	complete := true
	for _, dep := range deps.Sorted() {
		found, done := e.search(ctx, dep, trail, resolved)
		complete = complete && done
		if found != "" && reached == "" {
			reached = found
		}
	}
	if reached != "" || complete {
		resolved[node] = reached
	}
	if reached != "" {
		e.offer(ctx, node, reached, PolicyReachability)
	}
	return reached, complete
}

func (e *Engine) offer(ctx context.Context, pkg, trigger string, policy Policy) {
	if e.notified.Has(pkg) {
		return
	}
	e.notified.Add(pkg)
	e.local.Add(pkg)
	e.report.Offered = append(e.report.Offered, Offer{Package: pkg, Trigger: trigger, Policy: policy})
	if e.action == ActionReport {
		e.logger.Warn("Please checkout package", "package", pkg, "trigger", trigger, "policy", policy.String())
		return
	}
	e.logger.Info("Checking out package", "package", pkg, "trigger", trigger, "policy", policy.String())
	outcome, err := e.invoker.Checkout(ctx, pkg)
	if outcome.Output != "" {
		logging.Legacy(e.logger, slog.LevelInfo, "package", pkg).Print(outcome.Output)
	}
	switch {
	case err != nil:
		e.logger.Error("Checkout could not be started", "package", pkg, "error", err)
	case outcome.Signal != 0:
		e.logger.Error("Checkout terminated by signal", "package", pkg, "signal", int(outcome.Signal))
	case outcome.ExitCode != 0:
		e.logger.Error("Checkout failed", "package", pkg, "exit-code", outcome.ExitCode)
	default:
		return
	}
	e.report.Failures = append(e.report.Failures, Failure{Package: pkg, Outcome: outcome, Err: err})
}

func (e *Engine) reportCycle(cycle depgraph.Cycle) {
	key := cycle.Key()
	if e.cycles.Has(key) {
		return
	}
	e.cycles.Add(key)
	e.report.Cycles = append(e.report.Cycles, cycle)
	e.logger.Warn("Dependency cycle detected", "cycle", cycle.String())
}

func (e *Engine) reportMissing(pkg string) {
	if e.missing.Has(pkg) {
		return
	}
	e.missing.Add(pkg)
	e.logger.Info("No dependency information for package", "package", pkg)
}
