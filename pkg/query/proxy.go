// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package query runs AQL on behalf of callers.
//
// A request takes exactly one of three shapes: ad-hoc query text (admin
// only), a stored query name, or the id of an open cursor. Stored queries
// are publicly callable; access to workspace data is enforced inside the
// query through the reserved @ws_ids bind variable, which the proxy always
// fills from the workspace service.
package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"regexp"
	"time"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/arango"
	"github.com/kbase/relation-engine-sub000/pkg/auth"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// WorkspaceVar is the reserved bind variable holding the caller's readable
// workspace ids.
const WorkspaceVar = "ws_ids"

var workspaceVarRe = regexp.MustCompile(`@` + WorkspaceVar + `\b`)

// Limits applied to every new cursor.
const (
	DefaultMaxBatchSize = 10000
	DefaultMemoryLimit  = 16000000000
)

// Backend runs cursors. *arango.Client implements it.
type Backend interface {
	Query(ctx context.Context, req arango.CursorRequest) (*arango.CursorResponse, error)
	NextBatch(ctx context.Context, id string) (*arango.CursorResponse, error)
}

// Authorizer checks callers. *auth.Client implements it.
type Authorizer interface {
	RequireAdmin(ctx context.Context, token string) (*auth.Context, error)
	WorkspaceIDs(ctx context.Context, token string) ([]int, error)
}

// Resolver looks up stored queries. *specs.Store implements it.
type Resolver interface {
	StoredQuery(name string) (*specs.StoredQuery, error)
}

// Config configures a Proxy.
type Config struct {
	MaxBatchSize int
	MemoryLimit  int64
	Logger       *slog.Logger
}

// Request is one call. Exactly one of Query, StoredQuery, View and CursorID
// must be set; View is an older name for StoredQuery.
type Request struct {
	Query       string
	StoredQuery string
	View        string
	CursorID    string

	BindVars  map[string]any
	BatchSize int
	FullCount bool

	// Token is the caller's bearer token, possibly empty.
	Token string
}

// Envelope is the response shape for every request.
type Envelope struct {
	Results  []json.RawMessage `json:"results"`
	Count    *int64            `json:"count"`
	HasMore  bool              `json:"has_more"`
	CursorID string            `json:"cursor_id,omitempty"`
	Stats    map[string]any    `json:"stats"`
}

// Proxy forwards queries to the database.
type Proxy struct {
	db          Backend
	authz       Authorizer
	maxBatch    int
	memoryLimit int64
	logger      *slog.Logger
}

// NewProxy creates a proxy.
func NewProxy(db Backend, authz Authorizer, cfg Config) *Proxy {
	p := &Proxy{
		db:          db,
		authz:       authz,
		maxBatch:    cfg.MaxBatchSize,
		memoryLimit: cfg.MemoryLimit,
		logger:      cfg.Logger,
	}
	if p.maxBatch <= 0 {
		p.maxBatch = DefaultMaxBatchSize
	}
	if p.memoryLimit <= 0 {
		p.memoryLimit = DefaultMemoryLimit
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

type shape string

const (
	shapeAdhoc    shape = "adhoc"
	shapeStored   shape = "stored"
	shapeContinue shape = "cursor"
)

func classify(req Request) (shape, string, error) {
	var (
		n    int
		s    shape
		name string
	)
	if req.Query != "" {
		n++
		s = shapeAdhoc
	}
	if req.StoredQuery != "" {
		n++
		s, name = shapeStored, req.StoredQuery
	}
	if req.View != "" {
		n++
		s, name = shapeStored, req.View
	}
	if req.CursorID != "" {
		n++
		s = shapeContinue
	}
	switch {
	case n == 0:
		return "", "", errors.NewInvalidParameters("Pass one of a query, a stored query name or a cursor id").
			WithFix("Set stored_query=<name>, cursor_id=<id>, or a \"query\" field in the body")
	case n > 1:
		return "", "", errors.NewInvalidParameters("Pass only one of a query, a stored query name or a cursor id")
	}
	return s, name, nil
}

// Execute runs req and returns its first page (or, for a cursor id, the
// next page).
func (p *Proxy) Execute(ctx context.Context, resolver Resolver, req Request) (env *Envelope, err error) {
	start := time.Now()
	s, name, err := classify(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		recordQuery(s, err)
		observeQuery(s, time.Since(start).Seconds())
	}()

	if s == shapeContinue {
		resp, err := p.db.NextBatch(ctx, req.CursorID)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("query.continue", "cursor_id", req.CursorID, "rows", len(resp.Result), "has_more", resp.HasMore)
		return envelope(resp), nil
	}

	var text string
	vars := maps.Clone(req.BindVars)
	if vars == nil {
		vars = make(map[string]any)
	}

	switch s {
	case shapeAdhoc:
		if _, err := p.authz.RequireAdmin(ctx, req.Token); err != nil {
			return nil, err
		}
		text = req.Query
	case shapeStored:
		sq, err := resolver.StoredQuery(name)
		if err != nil {
			return nil, err
		}
		text = sq.Text()
		if workspaceVarRe.MatchString(text) {
			delete(vars, WorkspaceVar)
		}
		if vars, err = sq.ValidateParams(vars); err != nil {
			return nil, err
		}
	}

	if workspaceVarRe.MatchString(text) {
		ids, err := p.authz.WorkspaceIDs(ctx, req.Token)
		if err != nil {
			return nil, err
		}
		vars[WorkspaceVar] = ids
	}

	batch := req.BatchSize
	if batch <= 0 || batch > p.maxBatch {
		batch = p.maxBatch
	}
	creq := arango.CursorRequest{
		Query:       text,
		BindVars:    vars,
		BatchSize:   batch,
		MemoryLimit: p.memoryLimit,
		Count:       true,
	}
	if req.FullCount {
		creq.Options = &arango.CursorOptions{FullCount: true}
	}

	resp, err := p.db.Query(ctx, creq)
	if err != nil {
		p.logger.Info("query.failed", "shape", string(s), "name", name, "err", err)
		return nil, err
	}
	p.logger.Info("query.execute",
		"shape", string(s),
		"name", name,
		"batch_size", batch,
		"rows", len(resp.Result),
		"has_more", resp.HasMore,
		"duration", time.Since(start),
	)
	return envelope(resp), nil
}

func envelope(resp *arango.CursorResponse) *Envelope {
	env := &Envelope{
		Results: resp.Result,
		Count:   resp.Count,
		HasMore: resp.HasMore,
		Stats:   resp.Extra.Stats,
	}
	if env.Results == nil {
		env.Results = []json.RawMessage{}
	}
	if resp.HasMore {
		env.CursorID = resp.ID
	}
	return env
}
