// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package arango

import (
	"context"
	"net/http"
	"net/url"

	driver "github.com/arangodb/go-driver"
)

// CollectionType is the server's numeric collection type.
type CollectionType int

const (
	CollectionTypeDocument = CollectionType(driver.CollectionTypeDocument)
	CollectionTypeEdge     = CollectionType(driver.CollectionTypeEdge)
)

// CollectionInfo describes a live collection.
type CollectionInfo struct {
	Name     string         `json:"name"`
	Type     CollectionType `json:"type"`
	IsSystem bool           `json:"isSystem"`
}

// Collections lists the non-system collections.
func (c *Client) Collections(ctx context.Context) ([]CollectionInfo, error) {
	var resp struct {
		Result []CollectionInfo `json:"result"`
	}
	q := url.Values{"excludeSystem": {"true"}}
	if err := c.do(ctx, http.MethodGet, "_api/collection", q, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// CreateCollection creates a document or edge collection.
func (c *Client) CreateCollection(ctx context.Context, name string, typ CollectionType) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	db, err := c.handle(ctx)
	if err != nil {
		return err
	}
	opts := &driver.CreateCollectionOptions{Type: driver.CollectionType(typ)}
	if _, err := db.CreateCollection(ctx, name, opts); err != nil {
		return c.driverError(err)
	}
	return nil
}

// Indexes lists the indexes of a collection, including the primary and
// edge indexes the server creates itself.
//
// Index, view and analyzer calls go over the driver connection as plain
// requests. The driver's typed models drop properties that reconciliation
// compares, and it has no call taking an index definition as a document.
func (c *Client) Indexes(ctx context.Context, collection string) ([]map[string]any, error) {
	var resp struct {
		Indexes []map[string]any `json:"indexes"`
	}
	q := url.Values{"collection": {collection}}
	if err := c.do(ctx, http.MethodGet, "_api/index", q, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Indexes, nil
}

// CreateIndex creates an index. Creating an index equal to an existing one
// returns the existing index and is not an error.
func (c *Client) CreateIndex(ctx context.Context, collection string, spec map[string]any) error {
	q := url.Values{"collection": {collection}}
	return c.do(ctx, http.MethodPost, "_api/index", q, spec, nil, http.StatusOK, http.StatusCreated)
}

// Views lists every view with its full properties.
func (c *Client) Views(ctx context.Context) ([]map[string]any, error) {
	var resp struct {
		Result []struct {
			Name string `json:"name"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "_api/view", nil, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(resp.Result))
	for _, v := range resp.Result {
		var props map[string]any
		p := "_api/view/" + url.PathEscape(v.Name) + "/properties"
		if err := c.do(ctx, http.MethodGet, p, nil, nil, &props, http.StatusOK); err != nil {
			return nil, err
		}
		views = append(views, props)
	}
	return views, nil
}

// CreateView creates a view. An existing view of the same name is left
// untouched and the call fails with IsDuplicateName.
func (c *Client) CreateView(ctx context.Context, spec map[string]any) error {
	return c.do(ctx, http.MethodPost, "_api/view", nil, spec, nil, http.StatusOK, http.StatusCreated)
}

// Analyzers lists every analyzer visible from the database. Names carry
// their database prefix ("db::name").
func (c *Client) Analyzers(ctx context.Context) ([]map[string]any, error) {
	var resp struct {
		Result []map[string]any `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "_api/analyzer", nil, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// CreateAnalyzer creates an analyzer.
func (c *Client) CreateAnalyzer(ctx context.Context, spec map[string]any) error {
	return c.do(ctx, http.MethodPost, "_api/analyzer", nil, spec, nil, http.StatusOK, http.StatusCreated)
}
