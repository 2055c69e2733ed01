// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	retest "github.com/kbase/relation-engine-sub000/internal/testing"
	"github.com/kbase/relation-engine-sub000/pkg/arango"
	"github.com/kbase/relation-engine-sub000/pkg/auth"
	"github.com/kbase/relation-engine-sub000/pkg/ingestion"
	"github.com/kbase/relation-engine-sub000/pkg/query"
	"github.com/kbase/relation-engine-sub000/pkg/reconcile"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

const (
	adminToken = "admin_token"
	userToken  = "user_token"
)

type fetcherFunc func(ctx context.Context, url string) (billy.Filesystem, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) (billy.Filesystem, error) {
	return f(ctx, url)
}

type testEnv struct {
	fake *retest.FakeArango
	srv  *httptest.Server
}

func newTestEnv(t *testing.T, fetcher SpecFetcher) *testEnv {
	t.Helper()
	fake := retest.NewFakeArango(t)
	authSvc := retest.NewFakeAuth(t, map[string][]string{
		adminToken: {"RE_ADMIN"},
		userToken:  {},
	})
	wsSvc := retest.NewFakeWorkspace(t, map[string][]int{userToken: {1}}, nil)

	registry, err := specs.NewRegistry(retest.SpecFS(t), nil)
	require.NoError(t, err)

	db := arango.NewClient(arango.Config{URL: fake.URL()})
	authz := auth.NewClient(auth.Config{
		AuthURL:      authSvc.URL(),
		WorkspaceURL: wsSvc.URL(),
		AdminRoles:   []string{"RE_ADMIN"},
	})
	s := New(Options{
		DB:          db,
		Auth:        authz,
		Registry:    registry,
		Importer:    ingestion.NewImporter(db, ingestion.Config{TempDir: t.TempDir()}),
		Proxy:       query.NewProxy(db, authz, query.Config{}),
		Initializer: reconcile.NewInitializer(db, reconcile.Config{}),
		Fetcher:     fetcher,
		Version:     "test",
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{fake: fake, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	status, raw := e.doRaw(t, method, path, token, body)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return status, out
}

func (e *testEnv) doRaw(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func errorBody(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", body)
	return e
}

func TestStatusAndHealth(t *testing.T) {
	e := newTestEnv(t, nil)

	status, body := e.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "connected", body["arangodb_status"])
	assert.Equal(t, "test", body["version"])
	counts := body["spec_counts"].(map[string]any)
	assert.Equal(t, float64(4), counts["collections"])

	status, body = e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, raw := e.doRaw(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "relengine_http_requests_total")
}

func TestRequestID(t *testing.T) {
	e := newTestEnv(t, nil)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)
}

func TestUnknownRoute(t *testing.T) {
	e := newTestEnv(t, nil)

	status, body := e.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorBody(t, body)["kind"])
}

func TestSpecs(t *testing.T) {
	e := newTestEnv(t, nil)

	status, raw := e.doRaw(t, http.MethodGet, "/specs/collections", "", "")
	assert.Equal(t, http.StatusOK, status)
	var names []string
	require.NoError(t, json.Unmarshal(raw, &names))
	assert.Equal(t, []string{"delta_child_of", "ncbi_child_of_taxon", "ncbi_taxon", "ws_object"}, names)

	status, body := e.do(t, http.MethodGet, "/specs/stored_queries?name=taxon_by_rank", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "taxon_by_rank", body["name"])

	status, body = e.do(t, http.MethodGet, "/specs/schemas?doc_id=ncbi_taxon/9606", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ncbi_taxon", body["name"])

	status, body = e.do(t, http.MethodGet, "/specs/views?name=nope", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "nope", errorBody(t, body)["name"])

	status, body = e.do(t, http.MethodGet, "/specs/views?doc_id=x/1", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_parameters", errorBody(t, body)["kind"])

	status, _ = e.do(t, http.MethodGet, "/specs/widgets", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpdateSpecsAndImport(t *testing.T) {
	e := newTestEnv(t, nil)

	status, body := e.do(t, http.MethodPut, "/specs", userToken, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", errorBody(t, body)["kind"])

	status, body = e.do(t, http.MethodPut, "/specs", adminToken, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "updated", body["status"])
	init := body["init"].(map[string]any)
	assert.Len(t, init["created_collections"], 4)

	docs := `{"_key": "1", "scientific_name": "root"}
{"_key": "2", "scientific_name": "Bacteria"}
{"_key": "9606", "scientific_name": "Homo sapiens"}
`
	status, body = e.do(t, http.MethodPut, "/documents?collection=ncbi_taxon&on_duplicate=error", adminToken, docs)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(3), body["created"])
	assert.Equal(t, float64(0), body["errors"])
	assert.Equal(t, float64(0), body["updated"])
	assert.Equal(t, float64(0), body["ignored"])

	status, body = e.do(t, http.MethodPut, "/documents?collection=ncbi_taxon&on_duplicate=ignore", adminToken, docs)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["created"])
	assert.Equal(t, float64(3), body["ignored"])

	status, body = e.do(t, http.MethodPut, "/documents?collection=ncbi_taxon&on_duplicate=update", adminToken, docs)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["created"])
	assert.Equal(t, float64(3), body["updated"])

	status, body = e.do(t, http.MethodPut, "/documents?collection=nope", adminToken, docs)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, errorBody(t, body)["message"], "collection not found: nope")

	status, _ = e.do(t, http.MethodPut, "/documents?collection=ncbi_taxon", userToken, docs)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = e.do(t, http.MethodPut, "/documents?collection=ncbi_taxon&overwrite=maybe", adminToken, docs)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestImport_DisplayErrors(t *testing.T) {
	e := newTestEnv(t, nil)
	e.fake.CreateCollection(retest.TaxonCollection, false)

	status, body := e.do(t, http.MethodPut, "/documents?collection=ncbi_taxon&display_errors=true", adminToken,
		"{\"_key\": \"1\", \"scientific_name\": \"\"}\n{oops\n")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["error"])
	details := body["details"].([]any)
	require.Len(t, details, 2)
	first := details[0].(map[string]any)
	assert.Equal(t, "validation_error", first["kind"])
	assert.Equal(t, "/scientific_name", first["error"].(map[string]any)["path"])
}

func TestUpdateSpecs_ReleaseURL(t *testing.T) {
	e := newTestEnv(t, nil)
	status, body := e.do(t, http.MethodPut, "/specs?release_url=http://example.invalid/r.tar.gz", adminToken, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "http://example.invalid/r.tar.gz", errorBody(t, body)["release_url"])

	var got string
	fetched := memfs.New()
	retest.WriteSpec(t, fetched, "stored_queries/only.yaml", "name: only\nquery: FOR x IN y RETURN x\n")
	e = newTestEnv(t, fetcherFunc(func(_ context.Context, url string) (billy.Filesystem, error) {
		got = url
		return fetched, nil
	}))
	status, body = e.do(t, http.MethodPut, "/specs?release_url=http://example.invalid/r.tar.gz&init_collections=false", adminToken, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "http://example.invalid/r.tar.gz", got)
	assert.NotContains(t, body, "init")

	status, raw := e.doRaw(t, http.MethodGet, "/specs/stored_queries", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `["only"]`, string(raw))
}

func TestUpdateSpecs_DriftIsServerError(t *testing.T) {
	e := newTestEnv(t, nil)
	e.fake.AddView(map[string]any{"name": retest.TaxonSearchView, "type": "arangosearch", "links": map[string]any{}})

	status, body := e.do(t, http.MethodPut, "/specs", adminToken, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	eb := errorBody(t, body)
	assert.Equal(t, "reconciliation_error", eb["kind"])
	assert.Equal(t, []any{retest.TaxonSearchView}, eb["unmatched_views"])
}

func TestQueryResults(t *testing.T) {
	e := newTestEnv(t, nil)
	e.fake.Seed(retest.ObjectCollection,
		map[string]any{"_key": "a", "workspace_id": 1},
		map[string]any{"_key": "b", "workspace_id": 2},
	)

	status, body := e.do(t, http.MethodPost, "/query_results?stored_query=list_objects", userToken, `{"ws_ids": [1, 2]}`)
	require.Equal(t, http.StatusOK, status, body)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].(map[string]any)["_key"])
	assert.Equal(t, false, body["has_more"])
	assert.NotContains(t, body, "cursor_id")

	status, body = e.do(t, http.MethodPost, "/query_results?view=nope", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, errorBody(t, body)["message"], "stored query not found: nope")

	status, body = e.do(t, http.MethodPost, "/query_results", userToken, `{"query": "FOR o IN ws_object RETURN o"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, errorBody(t, body)["auth_url"], "/api/V2/me")

	status, body = e.do(t, http.MethodPost, "/query_results", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_parameters", errorBody(t, body)["kind"])

	status, body = e.do(t, http.MethodPost, "/query_results?stored_query=list_objects", "", `{"x": `)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "parse_error", errorBody(t, body)["kind"])

	status, _ = e.do(t, http.MethodPost, "/query_results?stored_query=list_objects&batch_size=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestQueryResults_CursorExhaustion(t *testing.T) {
	e := newTestEnv(t, nil)
	e.fake.Seed(retest.TaxonCollection,
		map[string]any{"_key": "1"}, map[string]any{"_key": "2"}, map[string]any{"_key": "3"},
	)

	status, body := e.do(t, http.MethodPost, "/query_results?batch_size=2&full_count=true", adminToken,
		`{"query": "FOR t IN ncbi_taxon RETURN t"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["has_more"])
	assert.Equal(t, float64(3), body["count"])
	id := body["cursor_id"].(string)

	status, body = e.do(t, http.MethodPost, "/query_results?cursor_id="+id, "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["has_more"])
	assert.Len(t, body["results"], 1)

	status, body = e.do(t, http.MethodPost, "/query_results?cursor_id="+id, "", "")
	assert.Equal(t, http.StatusBadGateway, status)
	eb := errorBody(t, body)
	assert.Equal(t, "backing_store_error", eb["kind"])
	assert.Contains(t, eb["message"], "cursor not found")
	assert.Equal(t, float64(arango.ErrNumCursorNotFound), eb["arango_error_num"])
}
