package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/errors"
	"github.com/alecthomas/kong"

	"github.com/mrbtools/mrbdeps/internal/buildtesting"
	"github.com/mrbtools/mrbdeps/internal/config"
	"github.com/mrbtools/mrbdeps/internal/depdb"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := runLogged(t, args...)
	return stdout, err
}

// runLogged runs mrbdeps, returning its output and diagnostics.
func runLogged(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	for _, env := range []string{"MRB_SOURCE", "MRB_BUILDDIR", "MRB_TOP", "MRB_INSTALL", "PRODUCTS"} {
		t.Setenv(env, "")
	}
	var cli CLI
	stdout := &bytes.Buffer{}
	parser, err := kong.New(&cli, append(options("test"), kong.Writers(stdout, io.Discard))...)
	assert.NoError(t, err)
	kctx, err := parser.Parse(args)
	assert.NoError(t, err)
	stderr := &bytes.Buffer{}
	err = execute(t.Context(), kctx, &cli, stderr)
	return stdout.String(), stderr.String(), err
}

const cetlibListing = `cetlib/CMakeFiles/cetlib.dir/a.cc.o: $SRC/cetlib_except/cetlib_except/exception.h
cetlib/CMakeFiles/cetlib.dir/a.cc.o: $PRODUCTS/boost/v1_66_0a/include/boost/any.hpp
cetlib/CMakeFiles/cetlib.dir/a.cc.o: $SRC/cetlib/cetlib/a.cc
`

const artListing = `art/CMakeFiles/art.dir/Event.cc.o: $SRC/cetlib/cetlib/exempt_ptr.h \
  $SRC/cetlib_except/cetlib_except/exception.h
`

// scanArea checks out art, cetlib and cetlib_except, with boost installed as a base product.
func scanArea(t *testing.T) buildtesting.Area {
	t.Helper()
	area := buildtesting.Prepare(t, nil)
	for _, dir := range []string{"srcs/art/", "srcs/cetlib/", "srcs/cetlib_except/", "build/cetlib_except/"} {
		area.Write(t, dir, "")
	}
	area.Write(t, "products/boost/v1_66_0a/include/boost/any.hpp", "")
	area.Write(t, depdb.BaseName, "boost :\nfhiclcpp : cetlib\n")
	area.Write(t, "build/cetlib/cetlib/CMakeFiles/cetlib.dir/depend.make", cetlibListing)
	area.Write(t, "build/art/art/CMakeFiles/art.dir/depend.make", artListing)
	return area
}

// chainArea checks out A and C, where A depends on C through B.
func chainArea(t *testing.T) buildtesting.Area {
	t.Helper()
	area := buildtesting.Prepare(t, nil)
	area.Write(t, "srcs/A/", "")
	area.Write(t, "srcs/C/", "")
	area.Write(t, depdb.BaseName, "A : B\nB : C\nC :\n")
	return area
}

func TestScanAndReduce(t *testing.T) {
	area := scanArea(t)
	_, err := run(t, append([]string{"scan"}, area.Flags()...)...)
	assert.NoError(t, err)
	written, err := os.ReadFile(filepath.Join(area.Build, depdb.LocalName))
	assert.NoError(t, err)
	assert.Equal(t, "art : cetlib cetlib_except\nboost :\ncetlib : boost cetlib_except\ncetlib_except :\nfhiclcpp : cetlib\n", string(written))

	output, err := run(t, append([]string{"reduce"}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Equal(t, "art : cetlib\nboost :\ncetlib : boost cetlib_except\ncetlib_except :\nfhiclcpp : cetlib\n", output)

	reduced := filepath.Join(t.TempDir(), "reduced")
	_, err = run(t, append([]string{"reduce", "--output=" + reduced}, area.Flags()...)...)
	assert.NoError(t, err)
	content, err := os.ReadFile(reduced)
	assert.NoError(t, err)
	assert.Equal(t, output, string(content))
}

func TestScanDryRun(t *testing.T) {
	area := scanArea(t)
	output, err := run(t, append([]string{"scan", "--dry-run", "--format=evidence"}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Contains(t, output, "cetlib : boost : boost/any.hpp\n")
	assert.Contains(t, output, "art : cetlib : cetlib/exempt_ptr.h\n")
	_, err = os.Stat(filepath.Join(area.Build, depdb.LocalName))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestScanPrefersInstallDatabase(t *testing.T) {
	area := scanArea(t)
	area.Write(t, "install/"+depdb.BaseName, "gallery : art\n")
	output, err := run(t, append([]string{"scan", "--dry-run", "--install=" + filepath.Join(area.Top, "install")}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Contains(t, output, "gallery : art\n")
	assert.NotContains(t, output, "fhiclcpp")
	assert.NotContains(t, output, "boost")
}

func TestCheck(t *testing.T) {
	area := chainArea(t)

	output, err := run(t, append([]string{"check", "-n"}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Equal(t, "B\n", output)
	_, err = os.Stat(filepath.Join(area.Source, "B"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	output, err = run(t, append([]string{"check", "--policy=reachability", `--checkout-command=sh -c 'mkdir "$0"'`}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Equal(t, "B\n", output)
	info, err := os.Stat(filepath.Join(area.Source, "B"))
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	output, err = run(t, append([]string{"check", "-n"}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Equal(t, "", output)
}

// headerArea checks out PKG and OTHER, where PKG includes a header from OTHER that is modified after the build.
func headerArea(t *testing.T) buildtesting.Area {
	t.Helper()
	area := buildtesting.Prepare(t, nil)
	area.Write(t, "srcs/PKG/", "")
	area.Write(t, "srcs/OTHER/other/F.h", "#pragma once\n")
	area.Write(t, "build/OTHER/", "")
	area.Write(t, "build/PKG/pkg/CMakeFiles/pkg.dir/depend.make", "pkg/CMakeFiles/pkg.dir/a.cc.o: $SRC/OTHER/other/F.h\n")
	return area
}

func modifyHeader(t *testing.T, area buildtesting.Area) {
	t.Helper()
	checkedOut := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	header := filepath.Join(area.Source, "OTHER", "other", "F.h")
	assert.NoError(t, os.Chtimes(header, checkedOut.Add(time.Second*10), checkedOut.Add(time.Second*10)))
	assert.NoError(t, os.Chtimes(filepath.Join(area.Source, "OTHER"), checkedOut, checkedOut))
}

func TestScanThenCheckModifiedHeader(t *testing.T) {
	area := headerArea(t)
	_, err := run(t, append([]string{"scan", "--format=evidence"}, area.Flags()...)...)
	assert.NoError(t, err)
	modifyHeader(t, area)

	output, log, err := runLogged(t, append([]string{"check", "-n"}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Equal(t, "PKG\n", output)
	assert.Contains(t, log, "Please checkout package")
	assert.NotContains(t, log, "No dependency files recorded")
}

func TestScanThenCheckWithoutEvidenceWarns(t *testing.T) {
	area := headerArea(t)
	_, err := run(t, append([]string{"scan"}, area.Flags()...)...)
	assert.NoError(t, err)
	modifyHeader(t, area)

	output, log, err := runLogged(t, append([]string{"check", "-n"}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Equal(t, "", output)
	assert.Contains(t, log, "No dependency files recorded for checked out packages")
}

func TestCheckInvalidCacheSize(t *testing.T) {
	area := chainArea(t)
	_, err := run(t, append([]string{"check", "-n", "--cache-size=0"}, area.Flags()...)...)
	assert.IsError(t, err, config.ErrConfig)
}

func TestCheckFailedCheckoutIsNotFatal(t *testing.T) {
	area := chainArea(t)
	output, err := run(t, append([]string{"check", "--checkout-command=false"}, area.Flags()...)...)
	assert.NoError(t, err)
	assert.Equal(t, "B\n", output)
}

func TestConfigErrors(t *testing.T) {
	area := buildtesting.Prepare(t, nil)
	tests := []struct {
		name string
		args []string
	}{
		{"MissingSource", []string{"scan", "--build-dir=" + area.Build, "--top=" + area.Top}},
		{"MissingTop", []string{"check", "--source=" + area.Source, "--build-dir=" + area.Build}},
		{"SourceDoesNotExist", []string{"reduce", "--source=" + filepath.Join(area.Source, "missing"), "--build-dir=" + area.Build, "--top=" + area.Top}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.IsError(t, err, config.ErrConfig)
		})
	}
}

func TestMalformedDatabaseIsFatal(t *testing.T) {
	area := buildtesting.Prepare(t, map[string]string{depdb.BaseName: "A B\n"})
	_, err := run(t, append([]string{"reduce"}, area.Flags()...)...)
	var perr *depdb.ParseError
	assert.True(t, errors.As(err, &perr))
	assert.False(t, errors.Is(err, config.ErrConfig))
}
