// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package testing

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// QueryFunc evaluates a query for the fake database. It returns the result
// rows, or a non-nil *ArangoError to fail the cursor request. It runs with
// the server lock held and must not call FakeArango methods.
type QueryFunc func(db *FakeArango, query string, bindVars map[string]any) ([]any, *ArangoError)

// ArangoError is an error body in the server's format.
type ArangoError struct {
	Code     int    `json:"code"`
	ErrorNum int    `json:"errorNum"`
	Message  string `json:"errorMessage"`
}

type fakeCollection struct {
	typ     int
	keys    []string // insertion order
	docs    map[string]map[string]any
	indexes []map[string]any
}

type fakeCursor struct {
	rows  []any
	batch int
	count int
	stats map[string]any
}

// FakeArango is an in-memory stand-in for the ArangoDB HTTP API. It
// implements the endpoints the access layer uses with their documented
// status codes and error numbers. Queries are answered by a QueryFunc;
// the default understands "FOR x IN <collection>" with an optional
// "FILTER x.workspace_id IN @ws_ids".
type FakeArango struct {
	Server *httptest.Server

	mu          sync.Mutex
	db          string
	collections map[string]*fakeCollection
	views       map[string]map[string]any
	analyzers   map[string]map[string]any
	cursors     map[string]*fakeCursor
	queryFunc   QueryFunc

	failTruncate bool
	requests     map[string]int
	lastCursor   map[string]any
}

// NewFakeArango starts a fake database server named "_system". It is closed
// when the test finishes.
func NewFakeArango(t *testing.T) *FakeArango {
	t.Helper()

	f := &FakeArango{
		db:          "_system",
		collections: make(map[string]*fakeCollection),
		views:       make(map[string]map[string]any),
		analyzers:   make(map[string]map[string]any),
		cursors:     make(map[string]*fakeCursor),
		queryFunc:   DefaultQuery,
		requests:    make(map[string]int),
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.requests[pattern]++
			if r.PathValue("db") != f.db {
				writeArangoError(w, &ArangoError{Code: 404, ErrorNum: 1228, Message: "database not found"})
				return
			}
			h(w, r)
		})
	}
	mux.HandleFunc("GET /_api/version", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests["GET /_api/version"]++
		f.handleVersion(w, r)
	})
	route("GET /_db/{db}/_api/version", f.handleVersion)
	route("GET /_db/{db}/_api/database/current", f.handleCurrentDatabase)
	route("POST /_db/{db}/_api/cursor", f.handleCreateCursor)
	route("PUT /_db/{db}/_api/cursor/{id}", f.handleNextBatch)
	route("POST /_db/{db}/_api/import", f.handleImport)
	route("PUT /_db/{db}/_api/collection/{name}/truncate", f.handleTruncate)
	route("GET /_db/{db}/_api/collection", f.handleListCollections)
	route("POST /_db/{db}/_api/collection", f.handleCreateCollection)
	route("GET /_db/{db}/_api/collection/{name}", f.handleGetCollection)
	route("GET /_db/{db}/_api/index", f.handleListIndexes)
	route("POST /_db/{db}/_api/index", f.handleCreateIndex)
	route("GET /_db/{db}/_api/view", f.handleListViews)
	route("GET /_db/{db}/_api/view/{name}/properties", f.handleViewProperties)
	route("POST /_db/{db}/_api/view", f.handleCreateView)
	route("GET /_db/{db}/_api/analyzer", f.handleListAnalyzers)
	route("POST /_db/{db}/_api/analyzer", f.handleCreateAnalyzer)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server root URL.
func (f *FakeArango) URL() string { return f.Server.URL }

// SetQueryFunc replaces the query evaluator.
func (f *FakeArango) SetQueryFunc(fn QueryFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryFunc = fn
}

// CreateCollection adds an empty collection. edge selects type 3.
func (f *FakeArango) CreateCollection(name string, edge bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCollection(name, edge)
}

func (f *FakeArango) createCollection(name string, edge bool) *fakeCollection {
	typ := 2
	if edge {
		typ = 3
	}
	c := &fakeCollection{
		typ:  typ,
		docs: make(map[string]map[string]any),
		indexes: []map[string]any{
			{"id": name + "/0", "type": "primary", "fields": []any{"_key"}, "unique": true, "sparse": false},
		},
	}
	if edge {
		c.indexes = append(c.indexes, map[string]any{
			"id": name + "/1", "type": "edge", "fields": []any{"_from", "_to"}, "unique": false, "sparse": false,
		})
	}
	f.collections[name] = c
	return c
}

// Seed stores documents directly, bypassing import semantics.
func (f *FakeArango) Seed(collection string, docs ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[collection]
	if !ok {
		c = f.createCollection(collection, false)
	}
	for _, d := range docs {
		key, _ := d["_key"].(string)
		if key == "" {
			key = uuid.NewString()
		}
		f.put(c, collection, key, d)
	}
}

// Docs returns a collection's documents in insertion order.
func (f *FakeArango) Docs(collection string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[collection]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.docs[k])
	}
	return out
}

// AddIndex stores a live index without validation.
func (f *FakeArango) AddIndex(collection string, index map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[collection]
	if !ok {
		c = f.createCollection(collection, false)
	}
	c.indexes = append(c.indexes, index)
}

// AddView stores a live view with the given properties.
func (f *FakeArango) AddView(props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[props["name"].(string)] = props
}

// AddAnalyzer stores a live analyzer. Names are stored as given, so tests
// decide whether a "db::" prefix is present.
func (f *FakeArango) AddAnalyzer(props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzers[props["name"].(string)] = props
}

// SetFailTruncate makes every truncate request fail with a server error.
func (f *FakeArango) SetFailTruncate(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTruncate = fail
}

// RequestCount returns how often a route was called. pattern is the route
// as registered, e.g. "POST /_db/{db}/_api/import".
func (f *FakeArango) RequestCount(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[pattern]
}

// LastCursorRequest returns the body of the most recent cursor creation.
func (f *FakeArango) LastCursorRequest() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCursor
}

// OpenCursors returns the number of cursors the server still holds.
func (f *FakeArango) OpenCursors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}

func (f *FakeArango) put(c *fakeCollection, collection, key string, doc map[string]any) {
	stored := make(map[string]any, len(doc)+2)
	for k, v := range doc {
		stored[k] = v
	}
	stored["_key"] = key
	stored["_id"] = collection + "/" + key
	if _, exists := c.docs[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.docs[key] = stored
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeArangoError(w http.ResponseWriter, e *ArangoError) {
	writeJSON(w, e.Code, map[string]any{
		"error":        true,
		"code":         e.Code,
		"errorNum":     e.ErrorNum,
		"errorMessage": e.Message,
	})
}

func collectionNotFound(name string) *ArangoError {
	return &ArangoError{Code: 404, ErrorNum: 1203, Message: "collection or view not found: " + name}
}

func (f *FakeArango) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]any{"server": "arango", "version": "3.11.0", "license": "community"})
}

var (
	bindVarRe = regexp.MustCompile(`@(\w+)`)
	forInRe   = regexp.MustCompile(`(?i)\bFOR\s+(\w+)\s+IN\s+(\w+)`)
)

// DefaultQuery answers "FOR x IN coll [FILTER x.workspace_id IN @ws_ids]
// RETURN x" by scanning the collection. Bind variables are checked the way
// the server checks them.
func DefaultQuery(db *FakeArango, query string, bindVars map[string]any) ([]any, *ArangoError) {
	m := forInRe.FindStringSubmatch(query)
	if m == nil {
		return nil, &ArangoError{Code: 400, ErrorNum: 1501, Message: "syntax error, unexpected query"}
	}
	c, ok := db.collections[m[2]]
	if !ok {
		return nil, &ArangoError{Code: 404, ErrorNum: 1203, Message: "collection or view not found: " + m[2]}
	}

	var allowed []float64
	filter := strings.Contains(query, "@ws_ids")
	if filter {
		ids, _ := bindVars["ws_ids"].([]any)
		for _, id := range ids {
			if n, ok := number(id); ok {
				allowed = append(allowed, n)
			}
		}
	}

	rows := make([]any, 0, len(c.keys))
	for _, k := range c.keys {
		doc := c.docs[k]
		if filter {
			ws, ok := number(doc["workspace_id"])
			if !ok || !slices.Contains(allowed, ws) {
				continue
			}
		}
		rows = append(rows, doc)
	}
	return rows, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func checkBindVars(query string, bindVars map[string]any) *ArangoError {
	declared := make(map[string]bool)
	for _, m := range bindVarRe.FindAllStringSubmatch(query, -1) {
		declared[m[1]] = true
	}
	for name := range declared {
		if _, ok := bindVars[name]; !ok {
			return &ArangoError{Code: 400, ErrorNum: 1551, Message: fmt.Sprintf("no value specified for declared bind parameter '%s'", name)}
		}
	}
	names := make([]string, 0, len(bindVars))
	for name := range bindVars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !declared[name] {
			return &ArangoError{Code: 400, ErrorNum: 1552, Message: fmt.Sprintf("bind parameter '%s' was not declared in the query", name)}
		}
	}
	return nil
}

func (f *FakeArango) handleCreateCursor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string         `json:"query"`
		BindVars  map[string]any `json:"bindVars"`
		BatchSize int            `json:"batchSize"`
		Count     bool           `json:"count"`
		Options   struct {
			FullCount bool `json:"fullCount"`
		} `json:"options"`
	}
	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		writeArangoError(w, &ArangoError{Code: 400, ErrorNum: 600, Message: "invalid JSON body"})
		return
	}
	f.lastCursor = raw
	data, _ := json.Marshal(raw)
	_ = json.Unmarshal(data, &req)

	if e := checkBindVars(req.Query, req.BindVars); e != nil {
		writeArangoError(w, e)
		return
	}
	rows, e := f.queryFunc(f, req.Query, req.BindVars)
	if e != nil {
		writeArangoError(w, e)
		return
	}

	batch := req.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	stats := map[string]any{"scannedFull": len(rows), "filtered": 0, "executionTime": 0.001}
	if req.Options.FullCount {
		stats["fullCount"] = len(rows)
	}
	cur := &fakeCursor{rows: rows, batch: batch, count: len(rows), stats: stats}
	id := ""
	if len(rows) > batch {
		id = strconv.Itoa(len(f.cursors)+1) + "-" + uuid.NewString()[:8]
		f.cursors[id] = cur
	}
	writeJSON(w, 201, f.page(cur, id, req.Count))
}

func (f *FakeArango) page(cur *fakeCursor, id string, withCount bool) map[string]any {
	n := min(cur.batch, len(cur.rows))
	result := cur.rows[:n]
	cur.rows = cur.rows[n:]
	hasMore := len(cur.rows) > 0

	body := map[string]any{
		"error":   false,
		"code":    201,
		"result":  result,
		"hasMore": hasMore,
		"cached":  false,
		"extra":   map[string]any{"stats": cur.stats, "warnings": []any{}},
	}
	if withCount {
		body["count"] = cur.count
	}
	if hasMore {
		body["id"] = id
	} else if id != "" {
		delete(f.cursors, id)
	}
	return body
}

func (f *FakeArango) handleNextBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cur, ok := f.cursors[id]
	if !ok {
		writeArangoError(w, &ArangoError{Code: 404, ErrorNum: 1600, Message: "cursor not found"})
		return
	}
	body := f.page(cur, id, true)
	body["code"] = 200
	writeJSON(w, 200, body)
}

func (f *FakeArango) handleImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("collection")
	c, ok := f.collections[name]
	if !ok {
		writeArangoError(w, collectionNotFound(name))
		return
	}
	if q.Get("type") != "documents" {
		writeArangoError(w, &ArangoError{Code: 400, ErrorNum: 400, Message: "unsupported import type"})
		return
	}
	policy := q.Get("onDuplicate")
	if policy == "" {
		policy = "error"
	}

	res := map[string]int{"created": 0, "errors": 0, "empty": 0, "updated": 0, "ignored": 0}
	var details []string
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	pos := 0
	for scanner.Scan() {
		pos++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			res["empty"]++
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			res["errors"]++
			details = append(details, fmt.Sprintf("at position %d: invalid JSON type (expecting object)", pos))
			continue
		}
		key, _ := doc["_key"].(string)
		if key == "" {
			key = uuid.NewString()
		}
		existing, exists := c.docs[key]
		switch {
		case !exists:
			f.put(c, name, key, doc)
			res["created"]++
		case policy == "update":
			merged := make(map[string]any, len(existing)+len(doc))
			for k, v := range existing {
				merged[k] = v
			}
			for k, v := range doc {
				merged[k] = v
			}
			f.put(c, name, key, merged)
			res["updated"]++
		case policy == "replace":
			f.put(c, name, key, doc)
			res["updated"]++
		case policy == "ignore":
			res["ignored"]++
		default:
			res["errors"]++
			details = append(details, fmt.Sprintf(
				"at position %d: creating document failed with error 'unique constraint violated', offending document: %s", pos, line))
		}
	}

	body := map[string]any{"error": false}
	for k, v := range res {
		body[k] = v
	}
	if q.Get("details") == "true" {
		body["details"] = details
	}
	writeJSON(w, 201, body)
}

func (f *FakeArango) handleTruncate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, ok := f.collections[name]
	if !ok {
		writeArangoError(w, collectionNotFound(name))
		return
	}
	if f.failTruncate {
		writeArangoError(w, &ArangoError{Code: 500, ErrorNum: 4, Message: "truncate failed: disk full"})
		return
	}
	c.keys = nil
	c.docs = make(map[string]map[string]any)
	writeJSON(w, 200, map[string]any{"error": false, "code": 200, "name": name, "type": c.typ})
}

func (f *FakeArango) handleListCollections(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(f.collections))
	for name := range f.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		result = append(result, map[string]any{"name": name, "type": f.collections[name].typ, "isSystem": false})
	}
	writeJSON(w, 200, map[string]any{"error": false, "code": 200, "result": result})
}

func (f *FakeArango) handleCurrentDatabase(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]any{"error": false, "code": 200, "result": map[string]any{
		"name": f.db, "id": "1", "path": "", "isSystem": f.db == "_system",
	}})
}

func (f *FakeArango) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, ok := f.collections[name]
	if !ok {
		writeArangoError(w, collectionNotFound(name))
		return
	}
	writeJSON(w, 200, map[string]any{
		"error": false, "code": 200, "id": name, "name": name,
		"status": 3, "type": c.typ, "isSystem": false,
	})
}

func (f *FakeArango) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Type int    `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeArangoError(w, &ArangoError{Code: 400, ErrorNum: 1208, Message: "illegal name"})
		return
	}
	if _, ok := f.collections[req.Name]; ok {
		writeArangoError(w, &ArangoError{Code: 409, ErrorNum: 1207, Message: "duplicate name"})
		return
	}
	f.createCollection(req.Name, req.Type == 3)
	writeJSON(w, 200, map[string]any{"error": false, "code": 200, "name": req.Name, "type": f.collections[req.Name].typ})
}

func (f *FakeArango) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("collection")
	c, ok := f.collections[name]
	if !ok {
		writeArangoError(w, collectionNotFound(name))
		return
	}
	writeJSON(w, 200, map[string]any{"error": false, "code": 200, "indexes": c.indexes})
}

func (f *FakeArango) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("collection")
	c, ok := f.collections[name]
	if !ok {
		writeArangoError(w, collectionNotFound(name))
		return
	}
	var spec map[string]any
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeArangoError(w, &ArangoError{Code: 400, ErrorNum: 10, Message: "bad parameter"})
		return
	}
	for _, idx := range c.indexes {
		if idx["type"] == spec["type"] && fmt.Sprint(idx["fields"]) == fmt.Sprint(spec["fields"]) {
			writeJSON(w, 200, idx)
			return
		}
	}
	stored := map[string]any{"id": fmt.Sprintf("%s/%d", name, len(c.indexes)), "unique": false, "sparse": false}
	for k, v := range spec {
		stored[k] = v
	}
	c.indexes = append(c.indexes, stored)
	writeJSON(w, 201, stored)
}

func (f *FakeArango) handleListViews(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(f.views))
	for name := range f.views {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		result = append(result, map[string]any{"name": name, "type": f.views[name]["type"], "id": name})
	}
	writeJSON(w, 200, map[string]any{"error": false, "code": 200, "result": result})
}

func (f *FakeArango) handleViewProperties(w http.ResponseWriter, r *http.Request) {
	v, ok := f.views[r.PathValue("name")]
	if !ok {
		writeArangoError(w, collectionNotFound(r.PathValue("name")))
		return
	}
	writeJSON(w, 200, v)
}

func (f *FakeArango) handleCreateView(w http.ResponseWriter, r *http.Request) {
	var spec map[string]any
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeArangoError(w, &ArangoError{Code: 400, ErrorNum: 10, Message: "bad parameter"})
		return
	}
	name, _ := spec["name"].(string)
	if _, ok := f.views[name]; ok {
		writeArangoError(w, &ArangoError{Code: 409, ErrorNum: 1207, Message: "duplicate name"})
		return
	}
	f.views[name] = spec
	writeJSON(w, 201, spec)
}

func (f *FakeArango) handleListAnalyzers(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(f.analyzers))
	for name := range f.analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		result = append(result, f.analyzers[name])
	}
	writeJSON(w, 200, map[string]any{"error": false, "code": 200, "result": result})
}

// handleCreateAnalyzer stores the analyzer under "<db>::<name>" the way
// the server reports database-scoped analyzers.
func (f *FakeArango) handleCreateAnalyzer(w http.ResponseWriter, r *http.Request) {
	var spec map[string]any
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeArangoError(w, &ArangoError{Code: 400, ErrorNum: 10, Message: "bad parameter"})
		return
	}
	name, _ := spec["name"].(string)
	full := f.db + "::" + name
	stored := make(map[string]any, len(spec))
	for k, v := range spec {
		stored[k] = v
	}
	stored["name"] = full
	if existing, ok := f.analyzers[full]; ok {
		if fmt.Sprint(existing) == fmt.Sprint(stored) {
			writeJSON(w, 200, existing)
			return
		}
		writeArangoError(w, &ArangoError{Code: 409, ErrorNum: 1207, Message: "duplicate name: analyzer " + full + " exists with different properties"})
		return
	}
	f.analyzers[full] = stored
	writeJSON(w, 201, stored)
}
