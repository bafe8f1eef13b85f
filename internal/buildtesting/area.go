// Package buildtesting provides development areas for use in tests.
package buildtesting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

// Area is a development area laid out the way the mrb tools lay one out.
type Area struct {
	// Top of the area, holding the base dependency database.
	Top      string
	Source   string
	Build    string
	Products string
}

// Prepare a new development area, returning it.
//
// files maps paths relative to the top of the area to their content. A path ending in "/" creates a directory.
// Content is expanded with Area.Expand. The area is removed when the test completes.
func Prepare(t *testing.T, files map[string]string) Area {
	t.Helper()
	top := t.TempDir()
	area := Area{
		Top:      top,
		Source:   filepath.Join(top, "srcs"),
		Build:    filepath.Join(top, "build"),
		Products: filepath.Join(top, "products"),
	}
	for _, dir := range []string{area.Source, area.Build, area.Products} {
		err := os.MkdirAll(dir, 0750)
		assert.NoError(t, err)
	}
	for name, content := range files {
		area.Write(t, name, content)
	}
	return area
}

// Write a file relative to the top of the area, creating parent directories as needed.
//
// A name ending in "/" creates a directory.
func (a Area) Write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(a.Top, filepath.FromSlash(name))
	if strings.HasSuffix(name, "/") {
		err := os.MkdirAll(path, 0750)
		assert.NoError(t, err)
		return
	}
	err := os.MkdirAll(filepath.Dir(path), 0750)
	assert.NoError(t, err)
	err = os.WriteFile(path, []byte(a.Expand(content)), 0600)
	assert.NoError(t, err)
}

// Expand $SRC, $BUILD, $PRODUCTS and $TOP in s to the area's absolute paths.
func (a Area) Expand(s string) string {
	return os.Expand(s, func(name string) string {
		switch name {
		case "SRC":
			return a.Source
		case "BUILD":
			return a.Build
		case "PRODUCTS":
			return a.Products
		case "TOP":
			return a.Top
		default:
			return "$" + name
		}
	})
}

// Flags returns the command line flags selecting the area.
func (a Area) Flags() []string {
	return []string{"--source=" + a.Source, "--build-dir=" + a.Build, "--top=" + a.Top, "--products=" + a.Products}
}
