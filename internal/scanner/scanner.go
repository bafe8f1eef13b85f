// Package scanner extracts inter-package dependencies from the make-format dependency listings that CMake leaves in
// a build area.
package scanner

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/mrbtools/mrbdeps/internal/depdb"
	"github.com/mrbtools/mrbdeps/internal/depgraph"
)

// headerPattern matches header files. Only headers produce dependencies, source files never match.
const headerPattern = `(.*\.(?:h|hh|hpp|i|icc|tcc))$`

// metadataDir is the top-level build directory CMake uses for its own bookkeeping.
const metadataDir = "CMakeFiles"

// DefaultListingFiles are the names of the dependency listing files scanned by default.
var DefaultListingFiles = []string{"depend.make"}

// BasePackage is a package installed in a product directory rather than checked out.
type BasePackage struct {
	Name       string
	ProductDir string
}

// DiscoverBasePackages returns a BasePackage for each candidate that is not checked out locally and is installed in
// one of productDirs. The first product directory containing a package wins.
func DiscoverBasePackages(productDirs, candidates []string, local depgraph.Set) []BasePackage {
	out := []BasePackage{}
	seen := depgraph.Set{}
	for _, productDir := range productDirs {
		for _, pkg := range slices.Sorted(slices.Values(candidates)) {
			if local.Has(pkg) || seen.Has(pkg) {
				continue
			}
			info, err := os.Stat(filepath.Join(productDir, pkg))
			if err != nil || !info.IsDir() {
				continue
			}
			seen.Add(pkg)
			out = append(out, BasePackage{Name: pkg, ProductDir: productDir})
		}
	}
	slices.SortFunc(out, func(a, b BasePackage) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// MatchError records a dependency that looked like it belonged to a known package, but could not be parsed.
type MatchError struct {
	File string
	Line int
	Path string
}

func (m MatchError) Error() string {
	return fmt.Sprintf("%s:%d: could not extract package from %s", m.File, m.Line, m.Path)
}

// Result of a scan.
type Result struct {
	Graph       depgraph.Graph
	Evidence    depgraph.Evidence
	MatchErrors []MatchError
}

// Database returns the scan result as a dependency database.
func (r *Result) Database() *depdb.Database {
	return &depdb.Database{Graph: r.Graph, Evidence: r.Evidence}
}

// pattern pairs a cheap membership test with the expression that extracts the package and file names.
type pattern struct {
	prefix  *regexp.Regexp
	capture *regexp.Regexp
}

type Scanner struct {
	local   pattern
	bases   []pattern
	listing depgraph.Set
	logger  *slog.Logger
}

type Option func(*Scanner)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithListingFiles replaces the set of dependency listing file names to scan for.
func WithListingFiles(names ...string) Option {
	return func(s *Scanner) {
		s.listing = depgraph.NewSet(names...)
	}
}

// New creates a Scanner for a source area rooted at sourceRoot, recognising dependencies on bases.
func New(sourceRoot string, bases []BasePackage, options ...Option) (*Scanner, error) {
	s := &Scanner{
		listing: depgraph.NewSet(DefaultListingFiles...),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range options {
		opt(s)
	}
	sourceRoot = filepath.Clean(sourceRoot)
	var err error
	s.local, err = compilePattern(sourceRoot+"/", "^"+regexp.QuoteMeta(sourceRoot)+`/([^/]+)/`+headerPattern)
	if err != nil {
		return nil, err
	}
	for _, base := range slices.SortedFunc(slices.Values(bases), func(a, b BasePackage) int { return strings.Compare(a.Name, b.Name) }) {
		productDir := filepath.Clean(base.ProductDir)
		p, err := compilePattern(productDir+"/"+base.Name+"/", "^"+regexp.QuoteMeta(productDir)+`/([^/]+)/v[^/]+/(?:[^/]+/)?include/`+headerPattern)
		if err != nil {
			return nil, err
		}
		s.bases = append(s.bases, p)
	}
	return s, nil
}

// compilePattern pairs a literal path prefix with a capture expression whose first group is the package name and
// second group the file within it.
func compilePattern(prefix, capture string) (pattern, error) {
	captureRe, err := regexp.Compile(capture)
	if err != nil {
		return pattern{}, errors.Errorf("invalid dependency pattern for %s: %w", prefix, err)
	}
	return pattern{prefix: regexp.MustCompile("^" + regexp.QuoteMeta(prefix)), capture: captureRe}, nil
}

// Scan every package build directory at the top level of fsys, which must be rooted at the build area.
func (s *Scanner) Scan(fsys fs.FS) (*Result, error) {
	result := &Result{Graph: depgraph.Graph{}, Evidence: depgraph.Evidence{}}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list build directory")
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == metadataDir {
			continue
		}
		if err := s.scanPackage(fsys, entry.Name(), result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Scanner) scanPackage(fsys fs.FS, pkg string, result *Result) error {
	s.logger.Debug("Scanning package build directory", "package", pkg)
	result.Graph.Add(pkg)
	err := fs.WalkDir(fsys, pkg, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !s.listing.Has(d.Name()) {
			return nil
		}
		return s.scanListing(fsys, name, pkg, result)
	})
	if err != nil {
		return errors.Errorf("failed to scan %s: %w", pkg, err)
	}
	return nil
}

func (s *Scanner) scanListing(fsys fs.FS, name, pkg string, result *Result) error {
	f, err := fsys.Open(name)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	lines := bufio.NewScanner(f)
	lines.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineno := 0
	continued := false
	for lines.Scan() {
		lineno++
		line := lines.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		rest := line
		if !continued {
			var ok bool
			_, rest, ok = strings.Cut(line, ":")
			if !ok {
				continue
			}
		}
		rest = strings.TrimRight(rest, " \t")
		rest, continued = strings.CutSuffix(rest, `\`)
		for _, dep := range strings.Fields(rest) {
			s.record(pkg, path.Clean(dep), name, lineno, result)
		}
	}
	if err := lines.Err(); err != nil {
		return errors.Errorf("failed to read %s: %w", name, err)
	}
	return nil
}

// record classifies a single dependency path of pkg and records it if it belongs to a known package.
func (s *Scanner) record(pkg, dep, listing string, lineno int, result *Result) {
	var matched *pattern
	if s.local.prefix.MatchString(dep) {
		matched = &s.local
	} else {
		for i := range s.bases {
			if s.bases[i].prefix.MatchString(dep) {
				matched = &s.bases[i]
				break
			}
		}
	}
	if matched == nil {
		return
	}
	groups := matched.capture.FindStringSubmatch(dep)
	if groups == nil {
		merr := MatchError{File: listing, Line: lineno, Path: dep}
		result.MatchErrors = append(result.MatchErrors, merr)
		s.logger.Debug("Skipping unrecognised dependency", "error", merr.Error())
		return
	}
	other, file := groups[1], groups[2]
	if other == pkg {
		return
	}
	result.Graph.Add(pkg, other)
	result.Evidence.Add(pkg, other, file)
}
