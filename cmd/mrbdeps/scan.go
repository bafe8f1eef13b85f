package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mrbtools/mrbdeps/internal/depdb"
	"github.com/mrbtools/mrbdeps/internal/inventory"
	"github.com/mrbtools/mrbdeps/internal/scanner"
)

type scanCmd struct {
	DryRun      bool         `help:"Print the database instead of writing it."`
	Format      depdb.Format `help:"Database format (reduced, evidence)." default:"reduced"`
	ListingFile []string     `help:"Names of the dependency listing files to scan." default:"depend.make" placeholder:"NAME"`
}

func (c *scanCmd) Run(ctx context.Context, g *Globals, logger *slog.Logger, stdout io.Writer) error {
	baseRoot := g.Install
	if baseRoot == "" {
		baseRoot = g.Top
	}
	cfg := g.config(baseRoot)
	if err := cfg.Validate(); err != nil {
		return err
	}
	base, err := depdb.Load(cfg.BaseDatabase)
	if err != nil {
		return err
	}
	local, err := inventory.List(os.DirFS(cfg.SourceRoot))
	if err != nil {
		return err
	}
	bases := scanner.DiscoverBasePackages(cfg.ProductDirs, base.Graph.Packages(), local)
	logger.Debug("Discovered base packages", "local", len(local), "base", len(bases))
	s, err := scanner.New(cfg.SourceRoot, bases, scanner.WithLogger(logger), scanner.WithListingFiles(c.ListingFile...))
	if err != nil {
		return err
	}
	result, err := s.Scan(os.DirFS(cfg.BuildRoot))
	if err != nil {
		return err
	}
	if len(result.MatchErrors) > 0 {
		logger.Debug("Skipped unrecognised dependencies", "count", len(result.MatchErrors))
	}
	merged := depdb.Merge(base, result.Database())
	if c.DryRun {
		return depdb.Render(stdout, merged, c.Format)
	}
	if err := depdb.Write(ctx, cfg.LocalDatabase, merged, c.Format); err != nil {
		return err
	}
	logger.Info("Wrote dependency database", "path", cfg.LocalDatabase, "packages", len(merged.Graph), "scanned", len(result.Graph))
	return nil
}
