package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mrbtools/mrbdeps/internal/checkout"
	"github.com/mrbtools/mrbdeps/internal/inventory"
)

type checkCmd struct {
	ReportOnly      bool            `help:"Report packages that need checking out without checking them out." short:"n"`
	Policy          checkout.Policy `help:"Which packages to check out (both, staleness, reachability)." default:"both"`
	Fudge           time.Duration   `help:"How much newer than its package a file must be to count as modified." default:"5s"`
	CheckoutCommand string          `help:"Command that checks out a package, the package name is appended." default:"${checkout_command}"`
	CheckoutTimeout time.Duration   `help:"Kill a checkout that runs for longer than this (0 to disable)." default:"0s"`
	CacheSize       int             `help:"Number of file modification checks to remember." default:"4096" hidden:""`
}

func (c *checkCmd) Run(ctx context.Context, g *Globals, logger *slog.Logger, stdout io.Writer) error {
	cfg := g.config(g.Top)
	if err := cfg.Validate(); err != nil {
		return err
	}
	db, err := loadDatabase(cfg)
	if err != nil {
		return err
	}
	local, err := inventory.List(os.DirFS(cfg.SourceRoot))
	if err != nil {
		return err
	}
	invoker, err := checkout.NewCommandInvoker(cfg.SourceRoot, c.CheckoutCommand, c.CheckoutTimeout)
	if err != nil {
		return err
	}
	action := checkout.ActionCheckout
	if c.ReportOnly {
		action = checkout.ActionReport
	}
	engine, err := checkout.New(cfg, db, local, invoker,
		checkout.WithLogger(logger),
		checkout.WithAction(action),
		checkout.WithFudge(c.Fudge),
		checkout.WithCacheSize(c.CacheSize),
	)
	if err != nil {
		return err
	}
	report := engine.Run(ctx, c.Policy)
	for _, pkg := range report.Packages() {
		fmt.Fprintln(stdout, pkg) //nolint:errcheck
	}
	if len(report.Failures) > 0 {
		logger.Warn("Some checkouts failed", "failed", len(report.Failures), "offered", len(report.Offered))
	}
	return nil
}
