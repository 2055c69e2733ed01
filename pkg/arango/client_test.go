// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package arango

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	retest "github.com/kbase/relation-engine-sub000/internal/testing"
)

func newTestClient(t *testing.T) (*Client, *retest.FakeArango) {
	t.Helper()
	fake := retest.NewFakeArango(t)
	return NewClient(Config{URL: fake.URL() + "/"}), fake
}

func TestVersion(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "_system", c.Database())

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.11.0", v.Version)
	assert.Equal(t, "community", v.License)
}

func TestQuery_Paging(t *testing.T) {
	c, fake := newTestClient(t)
	fake.Seed(retest.TaxonCollection,
		map[string]any{"_key": "1"}, map[string]any{"_key": "2"}, map[string]any{"_key": "3"})
	ctx := context.Background()

	first, err := c.Query(ctx, CursorRequest{
		Query:     "FOR t IN " + retest.TaxonCollection + " RETURN t",
		BatchSize: 2,
		Count:     true,
	})
	require.NoError(t, err)
	assert.True(t, first.HasMore)
	assert.Len(t, first.Result, 2)
	require.NotNil(t, first.Count)
	assert.EqualValues(t, 3, *first.Count)
	require.NotEmpty(t, first.ID)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(first.Result[0], &doc))
	assert.Equal(t, "1", doc["_key"])

	next, err := c.NextBatch(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, next.HasMore)
	assert.Len(t, next.Result, 1)

	_, err = c.NextBatch(ctx, first.ID)
	require.Error(t, err)
	assert.True(t, IsCursorNotFound(err))
	assert.Equal(t, "Database error: cursor not found", err.Error())
	e, _ := errors.As(err)
	assert.Equal(t, http.StatusNotFound, e.Details["arango_status"])
}

func TestQuery_BindVarError(t *testing.T) {
	c, fake := newTestClient(t)
	fake.CreateCollection(retest.ObjectCollection, false)

	_, err := c.Query(context.Background(), CursorRequest{
		Query: "FOR o IN " + retest.ObjectCollection + " FILTER o.workspace_id IN @ws_ids RETURN o",
	})
	require.Error(t, err)
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindBackingStore, e.Kind)
	assert.Equal(t, 1551, e.Details["arango_error_num"])
	assert.False(t, IsCursorNotFound(err))
}

func TestImportAndTruncate(t *testing.T) {
	c, fake := newTestClient(t)
	fake.CreateCollection(retest.TaxonCollection, false)
	ctx := context.Background()
	opts := ImportOptions{Collection: retest.TaxonCollection, Details: true}

	resp, err := c.Import(ctx, opts, strings.NewReader("{\"_key\": \"1\"}\n{\"_key\": \"2\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Created)
	assert.Zero(t, resp.Errors)

	resp, err = c.Import(ctx, opts, strings.NewReader(`{"_key": "1"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Errors)
	require.Len(t, resp.Details, 1)
	assert.Contains(t, resp.Details[0], "unique constraint violated")

	opts.OnDuplicate = OnDuplicateIgnore
	resp, err = c.Import(ctx, opts, strings.NewReader(`{"_key": "1"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Ignored)

	require.NoError(t, c.Truncate(ctx, retest.TaxonCollection))
	assert.Empty(t, fake.Docs(retest.TaxonCollection))

	fake.SetFailTruncate(true)
	err = c.Truncate(ctx, retest.TaxonCollection)
	assert.True(t, errors.IsKind(err, errors.KindBackingStore))

	_, err = c.Import(ctx, ImportOptions{Collection: "nope"}, strings.NewReader("{}"))
	assert.True(t, IsNotFound(err))
}

func TestCollectionsAndIndexes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.CreateCollection(ctx, retest.TaxonCollection, CollectionTypeDocument))
	require.NoError(t, c.CreateCollection(ctx, retest.ChildOfCollection, CollectionTypeEdge))
	err := c.CreateCollection(ctx, retest.TaxonCollection, CollectionTypeDocument)
	assert.True(t, IsDuplicateName(err))

	colls, err := c.Collections(ctx)
	require.NoError(t, err)
	types := map[string]CollectionType{}
	for _, ci := range colls {
		types[ci.Name] = ci.Type
	}
	assert.Equal(t, CollectionTypeDocument, types[retest.TaxonCollection])
	assert.Equal(t, CollectionTypeEdge, types[retest.ChildOfCollection])

	require.NoError(t, c.CreateIndex(ctx, retest.TaxonCollection,
		map[string]any{"type": "persistent", "fields": []string{"scientific_name"}}))
	idx, err := c.Indexes(ctx, retest.TaxonCollection)
	require.NoError(t, err)
	require.Len(t, idx, 2)
	assert.Equal(t, "primary", idx[0]["type"])
	assert.Equal(t, "persistent", idx[1]["type"])

	edgeIdx, err := c.Indexes(ctx, retest.ChildOfCollection)
	require.NoError(t, err)
	assert.Len(t, edgeIdx, 2)

	_, err = c.Indexes(ctx, "nope")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsDuplicateName(err))
}

func TestViewsAndAnalyzers(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.CreateAnalyzer(ctx, map[string]any{"name": "tok", "type": "text"}))
	require.NoError(t, c.CreateAnalyzer(ctx, map[string]any{"name": "tok", "type": "text"}))
	err := c.CreateAnalyzer(ctx, map[string]any{"name": "tok", "type": "norm"})
	assert.True(t, IsDuplicateName(err))

	analyzers, err := c.Analyzers(ctx)
	require.NoError(t, err)
	require.Len(t, analyzers, 1)
	assert.Equal(t, "_system::tok", analyzers[0]["name"])

	view := map[string]any{
		"name":  "search",
		"type":  "arangosearch",
		"links": map[string]any{"c": map[string]any{"analyzers": []any{"tok"}}},
	}
	require.NoError(t, c.CreateView(ctx, view))
	assert.True(t, IsDuplicateName(c.CreateView(ctx, view)))

	fake.AddView(map[string]any{"name": "alias", "type": "search-alias"})
	views, err := c.Views(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "alias", views[0]["name"])
	assert.Equal(t, "search", views[1]["name"])
	assert.Contains(t, views[1], "links")
}

func TestBasicAuthAndDatabase(t *testing.T) {
	type seen struct{ user, pass, path string }
	var calls []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		calls = append(calls, seen{user, pass, r.URL.Path})
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/_api/version" {
			_, _ = w.Write([]byte(`{"server": "arango", "version": "3.12.1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"error": false, "code": 200, "result": []}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Database: "re", User: "root", Password: "pw"})
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.12.1", v.Version)
	_, err = c.Collections(context.Background())
	require.NoError(t, err)

	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, "root", call.user)
		assert.Equal(t, "pw", call.pass)
	}
	assert.Equal(t, "/_api/version", calls[0].path)
	assert.Equal(t, "/_db/re/_api/collection", calls[1].path)
}

func TestUnknownDatabase(t *testing.T) {
	fake := retest.NewFakeArango(t)
	fake.CreateCollection(retest.TaxonCollection, false)
	c := NewClient(Config{URL: fake.URL(), Database: "other"})

	err := c.Truncate(context.Background(), retest.TaxonCollection)
	require.Error(t, err)
	e, _ := errors.As(err)
	assert.Equal(t, errors.KindBackingStore, e.Kind)
	assert.Equal(t, 1228, e.Details["arango_error_num"])
}

func TestImport_Batches(t *testing.T) {
	fake := retest.NewFakeArango(t)
	fake.CreateCollection(retest.TaxonCollection, false)
	c := NewClient(Config{URL: fake.URL(), ImportBatchSize: 2})

	body := "{\"_key\": \"1\"}\n\n{\"_key\": \"2\"}\n{\"_key\": \"1\"}\n{\"_key\": \"3\"}\n"
	resp, err := c.Import(context.Background(), ImportOptions{
		Collection: retest.TaxonCollection,
		Details:    true,
	}, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Created)
	assert.Equal(t, 1, resp.Errors)
	assert.Zero(t, resp.Empty)
	require.Len(t, resp.Details, 1)
	assert.True(t, strings.HasPrefix(resp.Details[0], "at position 3:"), resp.Details[0])
	assert.Equal(t, 2, fake.RequestCount("POST /_db/{db}/_api/import"))
}

func TestRebasePosition(t *testing.T) {
	tests := []struct {
		detail string
		offset int
		want   string
	}{
		{"at position 1: unique constraint violated", 0, "at position 1: unique constraint violated"},
		{"at position 1: unique constraint violated", 500, "at position 501: unique constraint violated"},
		{"at position 12: x", 3, "at position 15: x"},
		{"collection not found", 7, "collection not found"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rebasePosition(tt.detail, tt.offset))
	}
}

func TestResponseErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_api/version" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down\n"))
	}))
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL})

	_, err := c.Version(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindBackingStore))

	_, err = c.Collections(context.Background())
	require.Error(t, err)
	e, _ := errors.As(err)
	assert.Equal(t, errors.KindBackingStore, e.Kind)
	assert.True(t, strings.HasPrefix(e.Message, "Database error: "), e.Message)
	assert.Equal(t, http.StatusBadGateway, e.Details["arango_status"])
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	c := NewClient(Config{URL: url})
	_, err := c.Version(context.Background())
	require.Error(t, err)
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindBackingStore, e.Kind)
	assert.Equal(t, "Database unreachable", e.Message)
	assert.Equal(t, url, e.Details["arango_url"])
}
