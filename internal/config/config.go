// Package config holds the immutable configuration shared by every stage of a run.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"
)

// ErrConfig is wrapped by every configuration error.
var ErrConfig = errors.New("configuration error")

// Config for a single run. It is constructed once and passed by value.
type Config struct {
	// SourceRoot contains one directory per checked out package.
	SourceRoot string
	// BuildRoot contains one build directory per checked out package.
	BuildRoot string
	// ProductDirs are the roots of installed base products, searched in order.
	ProductDirs []string
	// BaseDatabase is the project level dependency database.
	BaseDatabase string
	// LocalDatabase is the dependency database for the local build area.
	LocalDatabase string
}

// Validate that every required path is set and that the source and build roots exist.
func (c Config) Validate() error {
	for _, field := range []struct {
		name, value string
	}{
		{"source root", c.SourceRoot},
		{"build root", c.BuildRoot},
		{"base dependency database", c.BaseDatabase},
		{"local dependency database", c.LocalDatabase},
	} {
		if field.value == "" {
			return errors.Errorf("%w: %s is not set", ErrConfig, field.name)
		}
	}
	for _, dir := range []string{c.SourceRoot, c.BuildRoot} {
		info, err := os.Stat(dir)
		if err != nil {
			return errors.Errorf("%w: %s", ErrConfig, err)
		}
		if !info.IsDir() {
			return errors.Errorf("%w: %s is not a directory", ErrConfig, dir)
		}
	}
	return nil
}

// SplitPathList splits a colon separated list of directories, dropping empty elements and trailing separators.
func SplitPathList(list string) []string {
	out := []string{}
	for _, dir := range strings.Split(list, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		out = append(out, CleanDir(dir))
	}
	return out
}

// CleanDir normalises a directory path so that it can be used as a literal prefix.
func CleanDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Clean(dir)
}
