// Package depdb loads, merges and writes dependency databases.
//
// A dependency database is a line-oriented text file. Each line is either in reduced form:
//
//	pkg : dep1 dep2 ...
//
// or in evidence form, one line per dependency file that justifies the edge:
//
//	pkg : dep : depfile
package depdb

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/alecthomas/errors"

	"github.com/mrbtools/mrbdeps/internal/depgraph"
	"github.com/mrbtools/mrbdeps/internal/flock"
)

const (
	// BaseName is the file name of the project level (baseline) database.
	BaseName = ".base_dependency_database"
	// LocalName is the file name of the database generated in a build area.
	LocalName = ".dependency_database"

	lockTimeout = time.Second * 30
)

// Format selects how a database is serialised.
type Format int

const (
	// FormatReduced writes one line per package with its space separated dependencies.
	FormatReduced Format = iota
	// FormatEvidence writes one line per dependency file justifying each edge.
	FormatEvidence
)

func (f Format) String() string {
	switch f {
	case FormatReduced:
		return "reduced"
	case FormatEvidence:
		return "evidence"
	default:
		return "unknown"
	}
}

func (f *Format) UnmarshalText(text []byte) error {
	switch string(text) {
	case "reduced":
		*f = FormatReduced
	case "evidence":
		*f = FormatEvidence
	default:
		return errors.Errorf("unknown database format %q", text)
	}
	return nil
}

// Database is a dependency graph plus the evidence for its edges, if known.
type Database struct {
	Graph    depgraph.Graph
	Evidence depgraph.Evidence
}

func New() *Database {
	return &Database{Graph: depgraph.Graph{}, Evidence: depgraph.Evidence{}}
}

// Load a database from path.
//
// A missing file is not an error, an empty database is returned.
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to open dependency database")
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse a database from r. name is used in error messages.
func Parse(r io.Reader, name string) (*Database, error) {
	db := New()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := parseRecord(name, lineno, line)
		if err != nil {
			return nil, err
		}
		db.Graph.Add(rec.Package, rec.Deps...)
		if rec.File != nil {
			db.Evidence.Add(rec.Package, rec.Deps[0], *rec.File)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Errorf("failed to read %s: %w", name, err)
	}
	return db, nil
}

// Merge local into base, returning a new database.
//
// A package present in local replaces the dependencies of the base entry entirely. Base evidence survives only for
// edges that local still has and records no evidence for, such as when local was written in reduced form.
func Merge(base, local *Database) *Database {
	out := New()
	for pkg, deps := range base.Graph {
		out.Graph[pkg] = deps.Clone()
		maps.Copy(out.Evidence, base.Evidence.For(pkg))
	}
	for pkg, deps := range local.Graph {
		out.Graph[pkg] = deps.Clone()
		for edge := range out.Evidence.For(pkg) {
			if !deps.Has(edge.To) || len(local.Evidence.Files(pkg, edge.To)) > 0 {
				delete(out.Evidence, edge)
			}
		}
		maps.Copy(out.Evidence, local.Evidence.For(pkg))
	}
	return out
}

// Render serialises db to w. Output is sorted so that identical databases render identically.
func Render(w io.Writer, db *Database, format Format) error {
	bw := bufio.NewWriter(w)
	for _, pkg := range db.Graph.Packages() {
		deps := db.Graph.Deps(pkg)
		if format == FormatEvidence && hasEvidence(db, pkg, deps) {
			for _, dep := range deps {
				files := db.Evidence.Files(pkg, dep)
				if len(files) == 0 {
					// An edge without evidence can only be expressed in reduced form.
					_, _ = bw.WriteString(pkg + " : " + dep + "\n")
					continue
				}
				for _, file := range slices.Sorted(slices.Values(files)) {
					_, _ = bw.WriteString(pkg + " : " + dep + " : " + file + "\n")
				}
			}
			continue
		}
		_, _ = bw.WriteString(strings.TrimRight(pkg+" : "+strings.Join(deps, " "), " ") + "\n")
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "failed to write dependency database")
	}
	return nil
}

// Write db to path, replacing any existing file.
//
// The new content is rendered in memory and written to a temporary file which is then renamed over path, while
// holding an exclusive lock on path+".lock".
func Write(ctx context.Context, path string, db *Database, format Format) error {
	buf := &bytes.Buffer{}
	if err := Render(buf, db, format); err != nil {
		return err
	}
	release, err := flock.Acquire(ctx, path+".lock", lockTimeout)
	if err != nil {
		return errors.Errorf("failed to lock dependency database: %w", err)
	}
	defer release() //nolint:errcheck
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary dependency database")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to write dependency database")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write dependency database")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil { //nolint:gosec
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to replace dependency database")
	}
	return nil
}

func hasEvidence(db *Database, pkg string, deps []string) bool {
	for _, dep := range deps {
		if len(db.Evidence.Files(pkg, dep)) > 0 {
			return true
		}
	}
	return false
}
