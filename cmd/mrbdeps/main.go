package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	"github.com/joho/godotenv"

	"github.com/mrbtools/mrbdeps/internal/checkout"
	"github.com/mrbtools/mrbdeps/internal/config"
	"github.com/mrbtools/mrbdeps/internal/depdb"
	"github.com/mrbtools/mrbdeps/internal/logging"
)

// Globals are shared by every command.
type Globals struct {
	Debug    bool           `help:"Enable debug logging."`
	Log      logging.Config `embed:"" prefix:"log-"`
	Source   string         `help:"Local source area, one directory per checked out package." env:"MRB_SOURCE" placeholder:"DIR"`
	BuildDir string         `help:"Local build area." env:"MRB_BUILDDIR" placeholder:"DIR"`
	Top      string         `help:"Top of the development area, containing the base dependency database." env:"MRB_TOP" placeholder:"DIR"`
	Install  string         `help:"Install area, containing the base dependency database used when scanning." env:"MRB_INSTALL" placeholder:"DIR"`
	Products string         `help:"Colon separated list of product directories." env:"PRODUCTS" placeholder:"DIRS"`
}

// config builds the run configuration, reading the base database from baseRoot.
func (g *Globals) config(baseRoot string) config.Config {
	cfg := config.Config{
		SourceRoot:  config.CleanDir(g.Source),
		BuildRoot:   config.CleanDir(g.BuildDir),
		ProductDirs: config.SplitPathList(g.Products),
	}
	if baseRoot != "" {
		cfg.BaseDatabase = filepath.Join(baseRoot, depdb.BaseName)
	}
	if cfg.BuildRoot != "" {
		cfg.LocalDatabase = filepath.Join(cfg.BuildRoot, depdb.LocalName)
	}
	return cfg
}

type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print the version and exit."`

	Scan   scanCmd   `cmd:"" help:"Scan the build area and write the local dependency database."`
	Reduce reduceCmd `cmd:"" help:"Print the merged dependency graph with redundant dependencies removed."`
	Check  checkCmd  `cmd:"" help:"Check out packages needed to keep the local source area consistent."`
}

func main() {
	_ = godotenv.Load()
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		version = info.Main.Version
	}
	var cli CLI
	kctx := kong.Parse(&cli, options(version, "~/.mrbdeps.toml", ".mrbdeps.toml")...)
	err := execute(context.Background(), kctx, &cli, os.Stderr)
	if errors.Is(err, config.ErrConfig) {
		kctx.Errorf("%s", err)
		kctx.Exit(2)
	}
	kctx.FatalIfErrorf(err)
}

func options(version string, configPaths ...string) []kong.Option {
	options := []kong.Option{
		kong.Name("mrbdeps"),
		kong.Description("Track dependencies between the packages of a multi-repository build."),
		kong.UsageOnError(),
		kong.Vars{
			"version":          version,
			"checkout_command": checkout.DefaultCommand,
		},
	}
	if len(configPaths) > 0 {
		options = append(options, kong.Configuration(kongtoml.Loader, configPaths...))
	}
	return options
}

// execute the selected command. Diagnostics are logged to stderr, primary output goes to the kong context's stdout.
func execute(ctx context.Context, kctx *kong.Context, cli *CLI, stderr io.Writer) error {
	if cli.Debug {
		cli.Log.Level = slog.LevelDebug
	}
	logger := logging.New(cli.Log, stderr)
	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.BindTo(kctx.Stdout, (*io.Writer)(nil))
	return kctx.Run(&cli.Globals, logger)
}

// loadDatabase loads the base and local databases in cfg, with local entries replacing base entries.
func loadDatabase(cfg config.Config) (*depdb.Database, error) {
	base, err := depdb.Load(cfg.BaseDatabase)
	if err != nil {
		return nil, err
	}
	local, err := depdb.Load(cfg.LocalDatabase)
	if err != nil {
		return nil, err
	}
	return depdb.Merge(base, local), nil
}
