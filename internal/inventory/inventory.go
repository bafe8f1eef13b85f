// Package inventory lists the packages checked out in a local source area.
package inventory

import (
	"io/fs"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/mrbtools/mrbdeps/internal/depgraph"
)

// List returns the name of every top-level directory in fsys, the set of checked out packages.
//
// Hidden directories are ignored.
func List(fsys fs.FS) (depgraph.Set, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list source directory")
	}
	local := depgraph.Set{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		local.Add(entry.Name())
	}
	return local, nil
}
