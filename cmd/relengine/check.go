// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/internal/ui"
	"github.com/kbase/relation-engine-sub000/pkg/reconcile"
)

// runCheck compares the declared spec tree with the live database. With
// --init, missing resources are created first. Drift exits with the
// reconciliation exit code.
func runCheck(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	doInit := fs.Bool("init", false, "Create missing collections, indexes, analyzers and views first")
	concurrency := fs.Int("concurrency", reconcile.DefaultConcurrency, "Collections inspected in parallel")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: relengine check [options]

Compares every declared index, view and analyzer with the database. A
declared resource matches when its spec is a subset of a live resource of
the same name and type.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  relengine check
  relengine check --init --json
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	a, err := newApp(globals)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	sum, err := a.check(context.Background(), *doInit, *concurrency)
	if sum != nil {
		if globals.JSON {
			printJSON(sum, globals)
		} else {
			printSummary(sum)
		}
	}
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
}

// check runs the verifier, or the initializer when init is set. The
// summary is returned alongside a drift error.
func (a *app) check(ctx context.Context, init bool, concurrency int) (*reconcile.Summary, error) {
	registry, err := a.registry()
	if err != nil {
		return nil, err
	}
	cfg := reconcile.Config{Concurrency: concurrency, Logger: a.logger}
	if init {
		return reconcile.NewInitializer(a.db, cfg).Init(ctx, registry.Current())
	}
	report, err := reconcile.NewVerifier(a.db, cfg).Verify(ctx, registry.Current())
	if report == nil {
		return nil, err
	}
	return &reconcile.Summary{Report: report}, err
}

func printSummary(sum *reconcile.Summary) {
	ui.Header("Spec Reconciliation")
	if len(sum.Collections) > 0 || len(sum.Views) > 0 || len(sum.Analyzers) > 0 {
		ui.SubHeader("Created:")
		fmt.Printf("  %s %s\n", ui.Label("Collections:"), ui.CountText(len(sum.Collections)))
		fmt.Printf("  %s %s\n", ui.Label("Analyzers:"), ui.CountText(len(sum.Analyzers)))
		fmt.Printf("  %s %s\n", ui.Label("Views:"), ui.CountText(len(sum.Views)))
		fmt.Println()
	}
	if sum.Report == nil {
		return
	}
	if sum.Report.OK() {
		ui.Success("Database matches the declared specs")
		return
	}
	for _, g := range []struct {
		kind string
		list []reconcile.Unmatched
	}{{"index", sum.Report.Indexes}, {"view", sum.Report.Views}, {"analyzer", sum.Report.Analyzers}} {
		for _, u := range g.list {
			ui.Errorf("Unmatched %s %s", g.kind, u.Name)
		}
	}
}
