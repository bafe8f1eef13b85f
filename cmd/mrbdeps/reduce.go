package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/mrbtools/mrbdeps/internal/depdb"
	"github.com/mrbtools/mrbdeps/internal/depgraph"
)

type reduceCmd struct {
	Output string `help:"Write the reduced database to this file instead of stdout." short:"o" type:"path" placeholder:"FILE"`
}

func (c *reduceCmd) Run(ctx context.Context, g *Globals, logger *slog.Logger, stdout io.Writer) error {
	cfg := g.config(g.Top)
	if err := cfg.Validate(); err != nil {
		return err
	}
	db, err := loadDatabase(cfg)
	if err != nil {
		return err
	}
	reduction := depgraph.Reduce(db.Graph, depgraph.WithLogger(logger))
	logger.Debug("Reduced dependency graph",
		"before", db.Graph.EdgeCount(),
		"after", reduction.Graph.EdgeCount(),
		"cycles", len(reduction.Cycles))
	reduced := &depdb.Database{Graph: reduction.Graph, Evidence: depgraph.Evidence{}}
	if c.Output != "" {
		return depdb.Write(ctx, c.Output, reduced, depdb.FormatReduced)
	}
	return depdb.Render(stdout, reduced, depdb.FormatReduced)
}
