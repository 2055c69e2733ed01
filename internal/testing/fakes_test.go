// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package testing

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, method, url, token, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestFakeArango_CursorPaging(t *testing.T) {
	f := NewFakeArango(t)
	f.Seed(TaxonCollection, map[string]any{"_key": "1"}, map[string]any{"_key": "2"}, map[string]any{"_key": "3"})

	status, body := call(t, http.MethodPost, f.URL()+"/_db/_system/_api/cursor", "",
		`{"query": "FOR t IN ncbi_taxon RETURN t", "batchSize": 2, "count": true}`)
	require.Equal(t, 201, status)
	assert.Equal(t, true, body["hasMore"])
	assert.Equal(t, float64(3), body["count"])
	assert.Len(t, body["result"], 2)
	id := body["id"].(string)
	assert.Equal(t, 1, f.OpenCursors())

	status, body = call(t, http.MethodPut, f.URL()+"/_db/_system/_api/cursor/"+id, "", "")
	require.Equal(t, 200, status)
	assert.Equal(t, false, body["hasMore"])
	assert.Equal(t, 0, f.OpenCursors())

	status, body = call(t, http.MethodPut, f.URL()+"/_db/_system/_api/cursor/"+id, "", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, float64(1600), body["errorNum"])
}

func TestFakeArango_BindVarsChecked(t *testing.T) {
	f := NewFakeArango(t)
	f.Seed(ObjectCollection, map[string]any{"_key": "a", "workspace_id": 1})

	status, body := call(t, http.MethodPost, f.URL()+"/_db/_system/_api/cursor", "",
		`{"query": "FOR o IN ws_object FILTER o.workspace_id IN @ws_ids RETURN o"}`)
	assert.Equal(t, 400, status)
	assert.Equal(t, float64(1551), body["errorNum"])

	status, body = call(t, http.MethodPost, f.URL()+"/_db/_system/_api/cursor", "",
		`{"query": "FOR o IN ws_object RETURN o", "bindVars": {"x": 1}}`)
	assert.Equal(t, 400, status)
	assert.Equal(t, float64(1552), body["errorNum"])

	status, body = call(t, http.MethodPost, f.URL()+"/_db/_system/_api/cursor", "",
		`{"query": "FOR o IN ws_object FILTER o.workspace_id IN @ws_ids RETURN o", "bindVars": {"ws_ids": [2]}}`)
	require.Equal(t, 201, status)
	assert.Empty(t, body["result"])
}

func TestFakeArango_ImportPolicies(t *testing.T) {
	f := NewFakeArango(t)
	f.CreateCollection(TaxonCollection, false)
	url := f.URL() + "/_db/_system/_api/import?type=documents&details=true&collection=" + TaxonCollection

	docs := "{\"_key\": \"1\", \"n\": 1}\n\n{\"_key\": \"2\"}\n"
	status, body := call(t, http.MethodPost, url, "", docs)
	require.Equal(t, 201, status)
	assert.Equal(t, float64(2), body["created"])
	assert.Equal(t, float64(1), body["empty"])

	status, body = call(t, http.MethodPost, url, "", `{"_key": "1", "m": 2}`)
	require.Equal(t, 201, status)
	assert.Equal(t, float64(1), body["errors"])
	details := body["details"].([]any)
	require.Len(t, details, 1)
	assert.Contains(t, details[0], "at position 1")
	assert.Contains(t, details[0], "unique constraint violated")

	_, body = call(t, http.MethodPost, url+"&onDuplicate=update", "", `{"_key": "1", "m": 2}`)
	assert.Equal(t, float64(1), body["updated"])
	doc := f.Docs(TaxonCollection)[0]
	assert.Equal(t, float64(1), doc["n"])
	assert.Equal(t, float64(2), doc["m"])
	assert.Equal(t, TaxonCollection+"/1", doc["_id"])

	_, body = call(t, http.MethodPost, url+"&onDuplicate=replace", "", `{"_key": "1", "r": 3}`)
	assert.Equal(t, float64(1), body["updated"])
	doc = f.Docs(TaxonCollection)[0]
	assert.Equal(t, float64(3), doc["r"])
	assert.NotContains(t, doc, "n")

	_, body = call(t, http.MethodPost, url+"&onDuplicate=ignore", "", `{"_key": "1"}`)
	assert.Equal(t, float64(1), body["ignored"])

	status, body = call(t, http.MethodPost, f.URL()+"/_db/_system/_api/import?type=documents&collection=nope", "", "{}")
	assert.Equal(t, 404, status)
	assert.Equal(t, float64(1203), body["errorNum"])
}

func TestFakeArango_Admin(t *testing.T) {
	f := NewFakeArango(t)
	base := f.URL() + "/_db/_system/_api/"

	status, _ := call(t, http.MethodPost, base+"collection", "", `{"name": "e", "type": 3}`)
	require.Equal(t, 200, status)
	status, body := call(t, http.MethodPost, base+"collection", "", `{"name": "e", "type": 3}`)
	assert.Equal(t, 409, status)
	assert.Equal(t, float64(1207), body["errorNum"])

	analyzer := `{"name": "tok", "type": "text", "properties": {"locale": "en"}}`
	status, body = call(t, http.MethodPost, base+"analyzer", "", analyzer)
	require.Equal(t, 201, status)
	assert.Equal(t, "_system::tok", body["name"])
	status, _ = call(t, http.MethodPost, base+"analyzer", "", analyzer)
	assert.Equal(t, 200, status)
	status, _ = call(t, http.MethodPost, base+"analyzer", "", `{"name": "tok", "type": "norm"}`)
	assert.Equal(t, 409, status)

	status, _ = call(t, http.MethodPost, base+"index?collection=e", "", `{"type": "persistent", "fields": ["a"]}`)
	require.Equal(t, 201, status)
	status, _ = call(t, http.MethodPost, base+"index?collection=e", "", `{"type": "persistent", "fields": ["a"]}`)
	assert.Equal(t, 200, status)
	assert.Equal(t, 2, f.RequestCount("POST /_db/{db}/_api/index"))

	status, _ = call(t, http.MethodGet, f.URL()+"/_db/other/_api/collection", "", "")
	assert.Equal(t, 404, status)

	status, body = call(t, http.MethodGet, f.URL()+"/_api/version", "", "")
	require.Equal(t, 200, status)
	assert.Equal(t, "arango", body["server"])
	status, body = call(t, http.MethodGet, base+"database/current", "", "")
	require.Equal(t, 200, status)
	assert.Equal(t, "_system", body["result"].(map[string]any)["name"])
	status, body = call(t, http.MethodGet, base+"collection/e", "", "")
	require.Equal(t, 200, status)
	assert.Equal(t, float64(3), body["type"])
	status, body = call(t, http.MethodGet, base+"collection/missing", "", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, float64(1203), body["errorNum"])
}

func TestFakeAuthAndWorkspace(t *testing.T) {
	a := NewFakeAuth(t, map[string][]string{"tok": {"RE_ADMIN"}})
	status, body := call(t, http.MethodGet, a.URL()+"/api/V2/me", "tok", "")
	require.Equal(t, 200, status)
	assert.Equal(t, []any{"RE_ADMIN"}, body["customroles"])
	status, _ = call(t, http.MethodGet, a.URL()+"/api/V2/me", "bad", "")
	assert.Equal(t, 401, status)

	ws := NewFakeWorkspace(t, map[string][]int{"tok": {1, 2}}, []int{9})
	rpc := `{"method": "Workspace.list_workspace_ids", "params": [{"perm": "r"}], "version": "1.1"}`
	status, body = call(t, http.MethodPost, ws.URL(), "tok", rpc)
	require.Equal(t, 200, status)
	result := body["result"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{float64(1), float64(2)}, result["workspaces"])
	assert.Equal(t, []any{float64(9)}, result["pub"])

	status, body = call(t, http.MethodPost, ws.URL(), "", rpc)
	require.Equal(t, 200, status)
	assert.Empty(t, body["result"].([]any)[0].(map[string]any)["workspaces"])

	status, _ = call(t, http.MethodPost, ws.URL(), "bad", rpc)
	assert.Equal(t, 500, status)
	assert.Equal(t, int64(3), ws.Calls.Load())
}

func TestSpecFixtures(t *testing.T) {
	fs := SpecFS(t)
	for _, dir := range []string{"collections", "stored_queries", "views", "analyzers", "data_sources"} {
		entries, err := fs.ReadDir(dir)
		require.NoError(t, err, dir)
		assert.NotEmpty(t, entries, dir)
	}
	_, err := os.Stat(filepath.Join(SpecDir(t), "collections", "delta", "delta_child_of.yaml"))
	assert.NoError(t, err)
}
