// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kbase/relation-engine-sub000/pkg/arango"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// Admin creates resources. *arango.Client implements it.
type Admin interface {
	LiveState
	Collections(ctx context.Context) ([]arango.CollectionInfo, error)
	CreateCollection(ctx context.Context, name string, typ arango.CollectionType) error
	CreateIndex(ctx context.Context, collection string, spec map[string]any) error
	CreateView(ctx context.Context, spec map[string]any) error
	CreateAnalyzer(ctx context.Context, spec map[string]any) error
}

// Summary reports what an initialization pass did.
type Summary struct {
	Collections []string `json:"created_collections"`
	Indexes     int      `json:"indexes_requested"`
	Views       []string `json:"created_views"`
	Analyzers   []string `json:"created_analyzers"`
	Report      *Report  `json:"report"`
}

// Initializer creates declared resources, then verifies them.
type Initializer struct {
	db       Admin
	verifier *Verifier
	cfg      Config
}

// NewInitializer creates an initializer.
func NewInitializer(db Admin, cfg Config) *Initializer {
	cfg = cfg.withDefaults()
	return &Initializer{db: db, verifier: NewVerifier(db, cfg), cfg: cfg}
}

// Init creates missing collections, then indexes, analyzers and views
// (analyzers first since views reference them), then runs the verifier.
// A create rejected for a duplicate name is not an error: the live
// resource is kept and the verifier decides whether it matches.
func (in *Initializer) Init(ctx context.Context, declared Declared) (*Summary, error) {
	sum := &Summary{}
	log := in.cfg.Logger

	live, err := in.db.Collections(ctx)
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(live))
	for _, c := range live {
		exists[c.Name] = true
	}
	for _, c := range declared.Collections() {
		if exists[c.Name] {
			continue
		}
		typ := arango.CollectionTypeDocument
		if c.IsEdge() {
			typ = arango.CollectionTypeEdge
		}
		if err := in.db.CreateCollection(ctx, c.Name, typ); err != nil && !arango.IsDuplicateName(err) {
			return nil, err
		}
		recordCreated("collections")
		log.Info("reconcile.collection.created", "name", c.Name, "type", int(typ))
		sum.Collections = append(sum.Collections, c.Name)
	}

	var requested atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for _, c := range declared.Collections() {
		if len(c.Indexes) == 0 {
			continue
		}
		g.Go(func() error {
			for _, idx := range c.Indexes {
				if err := in.db.CreateIndex(gctx, c.Name, idx); err != nil && !arango.IsDuplicateName(err) {
					return err
				}
				requested.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sum.Indexes = int(requested.Load())
	if sum.Indexes > 0 {
		rcMetrics.init()
		rcMetrics.created.WithLabelValues("indexes").Add(float64(sum.Indexes))
	}

	for _, a := range declared.Analyzers() {
		created, err := in.create(ctx, in.db.CreateAnalyzer, a.Body)
		if err != nil {
			return nil, err
		}
		if created {
			recordCreated("analyzers")
			sum.Analyzers = append(sum.Analyzers, a.Name)
		} else {
			log.Debug("reconcile.analyzer.exists", "name", a.Name)
		}
	}
	for _, v := range declared.Views() {
		created, err := in.create(ctx, in.db.CreateView, v.Body)
		if err != nil {
			return nil, err
		}
		if created {
			recordCreated("views")
			sum.Views = append(sum.Views, v.Name)
		} else {
			log.Debug("reconcile.view.exists", "name", v.Name)
		}
	}

	log.Info("reconcile.init.complete",
		"collections", len(sum.Collections),
		"indexes", sum.Indexes,
		"analyzers", len(sum.Analyzers),
		"views", len(sum.Views),
	)

	rep, err := in.verifier.Verify(ctx, declared)
	sum.Report = rep
	if err != nil {
		return sum, err
	}
	return sum, nil
}

func (in *Initializer) create(ctx context.Context, fn func(context.Context, map[string]any) error, body map[string]any) (bool, error) {
	err := fn(ctx, body)
	switch {
	case err == nil:
		return true, nil
	case arango.IsDuplicateName(err):
		return false, nil
	default:
		return false, err
	}
}

var _ Declared = (*specs.Store)(nil)

var _ Admin = (*arango.Client)(nil)
