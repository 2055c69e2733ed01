// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile checks that declared specs exist live in the database.
//
// Creating an index, view or analyzer is not an overwrite: declaring an
// existing resource again with a different configuration leaves the live
// one untouched. After every initialization the Verifier compares each
// declared spec with the live entries using an approximate subset match
// and fails when anything declared has no live counterpart.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/arango"
	"github.com/kbase/relation-engine-sub000/pkg/jsonvalue"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// DefaultConcurrency bounds parallel index listings.
const DefaultConcurrency = 8

// LiveState reads live resources. *arango.Client implements it.
type LiveState interface {
	Indexes(ctx context.Context, collection string) ([]map[string]any, error)
	Views(ctx context.Context) ([]map[string]any, error)
	Analyzers(ctx context.Context) ([]map[string]any, error)
}

// Declared lists declared resources. *specs.Store implements it.
type Declared interface {
	Collections() []*specs.Collection
	Views() []*specs.View
	Analyzers() []*specs.Analyzer
}

// Config configures a Verifier or Initializer.
type Config struct {
	// Concurrency bounds parallel per-collection requests. Zero uses
	// DefaultConcurrency.
	Concurrency int
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Unmatched is a declared resource with no live counterpart.
type Unmatched struct {
	Name       string         `json:"name"`
	Collection string         `json:"collection,omitempty"`
	Spec       map[string]any `json:"spec"`
}

// Report lists unmatched declarations per resource kind.
type Report struct {
	Indexes   []Unmatched `json:"indexes"`
	Views     []Unmatched `json:"views"`
	Analyzers []Unmatched `json:"analyzers"`
}

// OK reports whether everything declared was found live.
func (r *Report) OK() bool {
	return len(r.Indexes) == 0 && len(r.Views) == 0 && len(r.Analyzers) == 0
}

// Err returns a ReconciliationError describing r, or nil when r is OK.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	var parts []string
	for _, g := range []struct {
		kind string
		list []Unmatched
	}{{"indexes", r.Indexes}, {"views", r.Views}, {"analyzers", r.Analyzers}} {
		if len(g.list) > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", len(g.list), g.kind))
		}
	}
	return errors.NewReconciliationError(
		"Declared specs do not match the database: "+strings.Join(parts, ", "),
		map[string]any{
			"unmatched_indexes":   names(r.Indexes),
			"unmatched_views":     names(r.Views),
			"unmatched_analyzers": names(r.Analyzers),
			"unmatched":           r,
		},
	).WithFix("Drop or rename the conflicting live resources, then re-run initialization")
}

func names(list []Unmatched) []string {
	out := make([]string, 0, len(list))
	for _, u := range list {
		out = append(out, u.Name)
	}
	return out
}

// Verifier compares declared specs with live state.
type Verifier struct {
	db  LiveState
	cfg Config
}

// NewVerifier creates a verifier.
func NewVerifier(db LiveState, cfg Config) *Verifier {
	return &Verifier{db: db, cfg: cfg.withDefaults()}
}

// Verify fetches live state and returns the report. The error is a
// ReconciliationError when anything is unmatched, or the database error
// when live state could not be read; the report is returned in both cases
// when it is available.
func (v *Verifier) Verify(ctx context.Context, declared Declared) (*Report, error) {
	rep := &Report{}

	indexes, err := v.indexes(ctx, declared.Collections())
	if err != nil {
		return nil, err
	}
	rep.Indexes = indexes

	liveViews, err := v.db.Views(ctx)
	if err != nil {
		return nil, err
	}
	for _, view := range declared.Views() {
		if !matchNamed(view.Name, view.Type, view.Body, liveViews) {
			rep.Views = append(rep.Views, Unmatched{Name: view.Name, Spec: view.Body})
		}
	}

	liveAnalyzers, err := v.db.Analyzers(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range declared.Analyzers() {
		if !matchNamed(a.Name, a.Type, a.Body, liveAnalyzers) {
			rep.Analyzers = append(rep.Analyzers, Unmatched{Name: a.Name, Spec: a.Body})
		}
	}

	recordReport(rep)
	if !rep.OK() {
		v.cfg.Logger.Warn("reconcile.drift",
			"indexes", names(rep.Indexes),
			"views", names(rep.Views),
			"analyzers", names(rep.Analyzers),
		)
		return rep, rep.Err()
	}
	v.cfg.Logger.Info("reconcile.ok")
	return rep, nil
}

// indexes checks each collection's declared indexes against that
// collection's live indexes only. Live listings run concurrently.
func (v *Verifier) indexes(ctx context.Context, colls []*specs.Collection) ([]Unmatched, error) {
	var (
		mu  sync.Mutex
		out []Unmatched
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Concurrency)
	for _, c := range colls {
		if len(c.Indexes) == 0 {
			continue
		}
		g.Go(func() error {
			live, err := v.db.Indexes(gctx, c.Name)
			if err != nil && !arango.IsNotFound(err) {
				return err
			}
			var missing []Unmatched
			for i, idx := range c.Indexes {
				if !matchAny(idx, live, jsonvalue.DefaultMatchOptions()) {
					missing = append(missing, Unmatched{Name: indexName(c.Name, i, idx), Collection: c.Name, Spec: idx})
				}
			}
			mu.Lock()
			out = append(out, missing...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// indexName identifies a declared index: "coll/type[field,field]", or
// "coll/name" when the spec names it.
func indexName(coll string, i int, idx map[string]any) string {
	if n, ok := idx["name"].(string); ok && n != "" {
		return coll + "/" + n
	}
	var fields []string
	if fs, ok := idx["fields"].([]any); ok {
		for _, f := range fs {
			fields = append(fields, fmt.Sprint(f))
		}
	}
	if len(fields) == 0 {
		return fmt.Sprintf("%s/%d", coll, i)
	}
	return fmt.Sprintf("%s/%v[%s]", coll, idx["type"], strings.Join(fields, ","))
}

// matchNamed reports whether some live entry with the same (name, type)
// contains spec. Live names may carry a "db::" prefix.
func matchNamed(name, typ string, spec map[string]any, live []map[string]any) bool {
	opts := jsonvalue.DefaultMatchOptions()
	opts.StripNamespace = true
	var candidates []map[string]any
	for _, l := range live {
		ln, _ := l["name"].(string)
		lt, _ := l["type"].(string)
		if jsonvalue.StripNamespace(ln) == name && lt == typ {
			candidates = append(candidates, l)
		}
	}
	return matchAny(spec, candidates, opts)
}

func matchAny(spec map[string]any, live []map[string]any, opts jsonvalue.MatchOptions) bool {
	declared, err := jsonvalue.From(spec)
	if err != nil {
		return false
	}
	for _, l := range live {
		lv, err := jsonvalue.From(l)
		if err != nil {
			continue
		}
		if jsonvalue.IsSubset(declared, lv, opts) {
			return true
		}
	}
	return false
}
