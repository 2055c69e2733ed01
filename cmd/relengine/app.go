// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/kbase/relation-engine-sub000/internal/config"
	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/internal/output"
	"github.com/kbase/relation-engine-sub000/pkg/arango"
	"github.com/kbase/relation-engine-sub000/pkg/auth"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// app holds the components every command builds from the configuration.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *arango.Client
}

func newApp(globals GlobalFlags) (*app, error) {
	cfg, err := config.Load(globals.Config)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg, globals), nil
}

func newAppFromConfig(cfg config.Config, globals GlobalFlags) *app {
	if globals.Verbose > 0 {
		cfg.Log.Level = "debug"
	}
	logger := cfg.Log.NewLogger()
	db := arango.NewClient(arango.Config{
		URL:      cfg.DB.URL,
		Database: cfg.DB.Name,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Timeout:  cfg.HTTP.ClientTimeout,
		Logger:   logger,
	})
	return &app{cfg: cfg, logger: logger, db: db}
}

func (a *app) authClient() *auth.Client {
	return auth.NewClient(auth.Config{
		AuthURL:      a.cfg.Auth.URL,
		WorkspaceURL: a.cfg.Auth.WorkspaceURL,
		AdminRoles:   a.cfg.Auth.AdminRoles,
		Timeout:      a.cfg.HTTP.ClientTimeout,
		Logger:       a.logger,
	})
}

// registry loads the spec tree from the configured path.
func (a *app) registry() (*specs.Registry, error) {
	return specs.NewRegistry(osfs.New(a.cfg.Specs.Path), a.logger)
}

// waitForDB polls the database version endpoint until it answers or
// timeout elapses.
func (a *app) waitForDB(ctx context.Context, timeout, interval time.Duration) (*arango.VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		v, err := a.db.Version(ctx)
		if err == nil {
			return v, nil
		}
		a.logger.Info("arango.wait", "url", a.cfg.DB.URL, "err", err)
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.KindBackingStore, "Database did not become reachable", err).
				WithDetail("url", a.cfg.DB.URL).
				WithFix("Check DB_URL and that ArangoDB is running")
		case <-time.After(interval):
		}
	}
}

func printJSON(v any, globals GlobalFlags) {
	if err := output.JSON(v); err != nil {
		errors.FatalError(errors.NewInternalError("Cannot encode output", err), globals.JSON)
	}
}
