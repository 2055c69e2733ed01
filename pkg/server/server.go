// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the access layer over HTTP.
//
// Handlers return errors instead of writing them; the route wrapper turns
// every error into the {"error": {...}} envelope with the status family of
// its kind. No handler writes an error response itself.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/arango"
	"github.com/kbase/relation-engine-sub000/pkg/auth"
	"github.com/kbase/relation-engine-sub000/pkg/ingestion"
	"github.com/kbase/relation-engine-sub000/pkg/query"
	"github.com/kbase/relation-engine-sub000/pkg/reconcile"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// SpecFetcher downloads a spec release. *specs.ReleaseFetcher implements it.
type SpecFetcher interface {
	Fetch(ctx context.Context, releaseURL string) (billy.Filesystem, error)
}

// Options wires a Server. Every field but Fetcher, ReleaseURL, Version and
// Logger is required.
type Options struct {
	DB          *arango.Client
	Auth        *auth.Client
	Registry    *specs.Registry
	Importer    *ingestion.Importer
	Proxy       *query.Proxy
	Initializer *reconcile.Initializer

	// Fetcher serves PUT /specs?release_url=. Nil disables release downloads.
	Fetcher SpecFetcher
	// ReleaseURL is fetched by PUT /specs?reset=true when no release_url
	// is given.
	ReleaseURL string

	Version string
	Logger  *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	opts   Options
	logger *slog.Logger
	mux    *http.ServeMux
}

type handler func(w http.ResponseWriter, r *http.Request) error

// New creates a server and registers its routes.
func New(opts Options) *Server {
	s := &Server{opts: opts, logger: opts.Logger, mux: http.NewServeMux()}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.route("GET /{$}", s.handleStatus)
	s.route("GET /health", s.handleHealth)
	s.route("GET /specs/{kind}", s.handleSpecs)
	s.route("POST /query_results", s.handleQuery)
	s.route("PUT /documents", s.handleDocuments)
	s.route("PUT /specs", s.handleUpdateSpecs)
	s.route("/", s.handleNotFound)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrap(errors.KindConfig, "Cannot start HTTP server", err).WithDetail("addr", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("server.shutdown")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) route(pattern string, h handler) {
	s.mux.Handle(pattern, s.instrument(pattern, h))
}

// writeError is the single place errors become responses.
func (s *Server) writeError(w *statusRecorder, r *http.Request, err error) {
	status := errors.KindOf(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Warn("http.error", "request_id", w.Header().Get(requestIDHeader), "path", r.URL.Path, "status", status, "err", err)
	}
	if w.wrote {
		// Headers are gone; all that is left is the log line.
		s.logger.Error("http.error.late", "request_id", w.Header().Get(requestIDHeader), "err", err)
		return
	}
	writeJSON(w, status, errors.Envelope(err))
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(body)
}
