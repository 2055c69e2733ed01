// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/ingestion"
	"github.com/kbase/relation-engine-sub000/pkg/query"
	"github.com/kbase/relation-engine-sub000/pkg/reconcile"
	"github.com/kbase/relation-engine-sub000/pkg/server"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// runServe starts the HTTP API. It waits for the database, loads the spec
// tree (downloading the configured release when the tree is empty),
// optionally initializes collections and serves until SIGINT or SIGTERM.
func runServe(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (overrides http.addr / HTTP_ADDR)")
	wait := fs.Duration("wait", 2*time.Minute, "How long to wait for the database on startup")
	noInit := fs.Bool("no-init", false, "Skip creating collections, indexes, views and analyzers on startup")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: relengine serve [options]

Starts the HTTP API. On startup the server waits for ArangoDB, loads the
spec tree and creates every declared collection, index, analyzer and view
that does not exist yet.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	a, err := newApp(globals)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if *addr != "" {
		a.cfg.HTTP.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := a.waitForDB(ctx, *wait, 2*time.Second); err != nil {
		errors.FatalError(err, globals.JSON)
	}

	var fetcher server.SpecFetcher
	if a.cfg.Specs.ReleaseURL != "" {
		fetcher = specs.NewReleaseFetcher(nil, a.cfg.HTTP.ClientTimeout, a.logger)
	}
	registry, err := a.loadSpecs(ctx, fetcher)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	authz := a.authClient()
	importer := ingestion.NewImporter(a.db, ingestion.Config{TempDir: a.cfg.Import.TempDir, Logger: a.logger})
	proxy := query.NewProxy(a.db, authz, query.Config{
		MaxBatchSize: a.cfg.Query.MaxBatchSize,
		MemoryLimit:  a.cfg.Query.MemoryLimit,
		Logger:       a.logger,
	})
	initializer := reconcile.NewInitializer(a.db, reconcile.Config{Logger: a.logger})

	if !*noInit {
		if _, err := initializer.Init(ctx, registry.Current()); err != nil {
			errors.FatalError(err, globals.JSON)
		}
	}

	opts := server.Options{
		DB:          a.db,
		Auth:        authz,
		Registry:    registry,
		Importer:    importer,
		Proxy:       proxy,
		Initializer: initializer,
		Fetcher:     fetcher,
		ReleaseURL:  a.cfg.Specs.ReleaseURL,
		Version:     version,
		Logger:      a.logger,
	}
	if err := server.New(opts).Run(ctx, a.cfg.HTTP.Addr); err != nil {
		errors.FatalError(err, globals.JSON)
	}
}

// loadSpecs opens the spec tree on disk. An empty tree is replaced by the
// release archive when fetcher is set.
func (a *app) loadSpecs(ctx context.Context, fetcher server.SpecFetcher) (*specs.Registry, error) {
	registry, err := a.registry()
	if err != nil {
		return nil, err
	}
	if fetcher == nil || !empty(registry.Current()) {
		return registry, nil
	}
	a.logger.Info("specs.fetch", "url", a.cfg.Specs.ReleaseURL)
	fs, err := fetcher.Fetch(ctx, a.cfg.Specs.ReleaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := registry.ReloadFrom(fs); err != nil {
		return nil, err
	}
	return registry, nil
}

func empty(s *specs.Store) bool {
	for _, n := range s.Counts() {
		if n > 0 {
			return false
		}
	}
	return true
}
