// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// FakeAuth serves GET /api/V2/me for a fixed token table.
type FakeAuth struct {
	Server *httptest.Server
	Calls  atomic.Int64
}

// NewFakeAuth starts an identity service that knows the given tokens and
// their custom roles. Unknown tokens get 401.
func NewFakeAuth(t *testing.T, roles map[string][]string) *FakeAuth {
	t.Helper()
	f := &FakeAuth{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/V2/me", func(w http.ResponseWriter, r *http.Request) {
		f.Calls.Add(1)
		token := r.Header.Get("Authorization")
		rs, ok := roles[token]
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"httpcode": 401, "message": "10020 Invalid token"},
			})
			return
		}
		if rs == nil {
			rs = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": "user_" + token, "customroles": rs})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the service root.
func (f *FakeAuth) URL() string { return f.Server.URL }

// FakeWorkspace serves Workspace.list_workspace_ids over JSON-RPC.
type FakeWorkspace struct {
	Server *httptest.Server
	Calls  atomic.Int64
}

// NewFakeWorkspace starts a workspace service. ids maps a token to its
// readable workspaces; pub is added for every caller. Unknown non-empty
// tokens get a JSON-RPC error.
func NewFakeWorkspace(t *testing.T, ids map[string][]int, pub []int) *FakeWorkspace {
	t.Helper()
	f := &FakeWorkspace{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		f.Calls.Add(1)
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "Workspace.list_workspace_ids" {
			writeJSON(w, http.StatusInternalServerError, rpcError("no such method: "+req.Method))
			return
		}
		token := r.Header.Get("Authorization")
		own, ok := ids[token]
		if token != "" && !ok {
			writeJSON(w, http.StatusInternalServerError, rpcError("Token validation failed"))
			return
		}
		if own == nil {
			own = []int{}
		}
		p := pub
		if p == nil {
			p = []int{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version": "1.1",
			"result":  []any{map[string]any{"workspaces": own, "pub": p}},
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the JSON-RPC endpoint.
func (f *FakeWorkspace) URL() string { return f.Server.URL }

func rpcError(msg string) map[string]any {
	return map[string]any{
		"version": "1.1",
		"error":   map[string]any{"name": "JSONRPCError", "code": -32500, "message": msg},
	}
}
