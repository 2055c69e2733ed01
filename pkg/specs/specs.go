// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package specs indexes the declarative spec tree: collection schemas,
// stored queries, search views, analyzers and data source descriptors.
//
// A spec tree is a directory with one sub-directory per kind:
//
//	collections/     *.yaml | *.yml | *.json   CollectionSchema
//	stored_queries/  ...                       StoredQuery
//	views/           ...                       View
//	analyzers/       ...                       Analyzer
//	data_sources/    ...                       DataSource
//
// Every file is checked against an embedded meta-schema for its kind. A
// Store is immutable once loaded; Registry swaps in a fresh Store on reload.
package specs

import (
	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/jsonschema"
)

// Kind names a spec directory.
type Kind string

const (
	KindCollections   Kind = "collections"
	KindStoredQueries Kind = "stored_queries"
	KindViews         Kind = "views"
	KindAnalyzers     Kind = "analyzers"
	KindDataSources   Kind = "data_sources"
)

// Kinds lists every spec kind in load order.
var Kinds = []Kind{KindCollections, KindStoredQueries, KindViews, KindAnalyzers, KindDataSources}

// ParseKind accepts a kind name. "schemas" is an alias for collections.
func ParseKind(s string) (Kind, error) {
	if s == "schemas" {
		return KindCollections, nil
	}
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errors.NewInvalidParameters("Unknown spec kind: "+s).WithDetail("kind", s)
}

// resource is the singular name used in NotFound errors.
func (k Kind) resource() string {
	switch k {
	case KindCollections:
		return "collection"
	case KindStoredQueries:
		return "stored query"
	case KindViews:
		return "view"
	case KindAnalyzers:
		return "analyzer"
	case KindDataSources:
		return "data source"
	default:
		return string(k)
	}
}

// Collection types.
const (
	TypeVertex = "vertex"
	TypeEdge   = "edge"
)

// Collection is a declared collection and its document schema.
type Collection struct {
	Name    string           `json:"name"`
	Type    string           `json:"type"`
	Delta   bool             `json:"delta"`
	Schema  map[string]any   `json:"schema"`
	Indexes []map[string]any `json:"indexes"`

	// Body is the full default-filled spec document.
	Body map[string]any `json:"-"`

	validator *jsonschema.Schema
}

// IsEdge reports whether documents in the collection are edges.
func (c *Collection) IsEdge() bool { return c.Type == TypeEdge }

// Validate default-fills and validates a document against the collection
// schema and returns the filled copy.
func (c *Collection) Validate(doc any) (any, error) {
	return c.validator.Validate(jsonschema.ValidateOptions{Data: doc, At: "/schema"})
}

// requiredFields returns the fields the collection type demands in
// schema.required.
func (c *Collection) requiredFields() []string {
	switch {
	case c.IsEdge() && c.Delta:
		return []string{"from", "to"}
	case c.IsEdge():
		return []string{"_from", "_to"}
	case c.Delta:
		return []string{"id"}
	default:
		return []string{"_key"}
	}
}

// StoredQuery is a named query with an optional bind variable schema.
type StoredQuery struct {
	Name        string         `json:"name"`
	Query       string         `json:"query"`
	QueryPrefix string         `json:"query_prefix,omitempty"`
	Params      map[string]any `json:"params,omitempty"`

	Body map[string]any `json:"-"`

	params *jsonschema.Schema
}

// Text returns the query text with its prefix applied.
func (q *StoredQuery) Text() string {
	if q.QueryPrefix == "" {
		return q.Query
	}
	return q.QueryPrefix + " " + q.Query
}

// ValidateParams validates bind variables against the declared params
// schema, filling defaults. Queries without params accept any variables.
func (q *StoredQuery) ValidateParams(vars map[string]any) (map[string]any, error) {
	if q.params == nil {
		return vars, nil
	}
	if vars == nil {
		vars = map[string]any{}
	}
	out, err := q.params.Validate(jsonschema.ValidateOptions{Data: vars, At: "/params"})
	if err != nil {
		return nil, err
	}
	filled, ok := out.(map[string]any)
	if !ok {
		return nil, errors.NewInvalidParameters("Bind variables must be an object")
	}
	return filled, nil
}

// View is a declared search view. Body holds the backend configuration.
type View struct {
	Name string         `json:"name"`
	Type string         `json:"type"`
	Body map[string]any `json:"-"`
}

// Analyzer is a declared text analyzer.
type Analyzer struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Features   []string       `json:"features"`
	Body       map[string]any `json:"-"`
}

// DataSource describes an external data source.
type DataSource struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Title    string `json:"title"`
	HomeURL  string `json:"home_url,omitempty"`
	DataURL  string `json:"data_url,omitempty"`
	LogoPath string `json:"logo_path,omitempty"`

	Body map[string]any `json:"-"`
}
