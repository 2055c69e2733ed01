// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/auth"
	"github.com/kbase/relation-engine-sub000/pkg/ingestion"
	"github.com/kbase/relation-engine-sub000/pkg/jsonschema"
	"github.com/kbase/relation-engine-sub000/pkg/query"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// maxQueryBody bounds POST /query_results bodies (bind variables only).
const maxQueryBody = 16 << 20

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) error {
	status := "connected"
	var dbVersion string
	if v, err := s.opts.DB.Version(r.Context()); err != nil {
		s.logger.Warn("status.arango.unreachable", "err", err)
		status = "unreachable"
	} else {
		dbVersion = v.Version
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"arangodb_status":  status,
		"arangodb_version": dbVersion,
		"spec_counts":      s.opts.Registry.Current().Counts(),
		"version":          s.opts.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(_ http.ResponseWriter, r *http.Request) error {
	return errors.NewNotFound("route", r.Method+" "+r.URL.Path)
}

func (s *Server) handleSpecs(w http.ResponseWriter, r *http.Request) error {
	kind, err := specs.ParseKind(r.PathValue("kind"))
	if err != nil {
		return err
	}
	store := s.opts.Registry.Current()
	q := r.URL.Query()

	if id := q.Get("doc_id"); id != "" {
		if kind != specs.KindCollections {
			return errors.NewInvalidParameters("doc_id is only supported for collections").
				WithDetail("kind", string(kind))
		}
		c, err := store.SchemaForDocID(id)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, c.Body)
	}
	if name := q.Get("name"); name != "" {
		body, err := store.Get(kind, name)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, body)
	}
	return writeJSON(w, http.StatusOK, store.Names(kind))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	vars, err := decodeObject(http.MaxBytesReader(w, r.Body, maxQueryBody))
	if err != nil {
		return err
	}

	req := query.Request{
		StoredQuery: q.Get("stored_query"),
		View:        q.Get("view"),
		CursorID:    q.Get("cursor_id"),
		Token:       auth.TokenFromHeader(r.Header.Get("Authorization")),
	}
	if raw, ok := vars["query"]; ok {
		text, ok := raw.(string)
		if !ok {
			return errors.NewInvalidParameters("\"query\" must be a string").WithDetail("path", "/query")
		}
		req.Query = text
		delete(vars, "query")
	}
	req.BindVars = vars
	if req.BatchSize, err = intParam(q, "batch_size", 0); err != nil {
		return err
	}
	if req.FullCount, err = boolParam(q, "full_count", false); err != nil {
		return err
	}

	env, err := s.opts.Proxy.Execute(r.Context(), s.opts.Registry.Current(), req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.opts.Auth.RequireAdmin(r.Context(), auth.TokenFromHeader(r.Header.Get("Authorization"))); err != nil {
		return err
	}
	q := r.URL.Query()
	coll := q.Get("collection")
	if coll == "" {
		return errors.NewInvalidParameters("Missing collection parameter").
			WithFix("Pass ?collection=<name>")
	}
	overwrite, err := boolParam(q, "overwrite", false)
	if err != nil {
		return err
	}
	display, err := boolParam(q, "display_errors", false)
	if err != nil {
		return err
	}

	res, err := s.opts.Importer.Import(r.Context(), s.opts.Registry.Current(), ingestion.Request{
		Collection:    coll,
		Body:          r.Body,
		OnDuplicate:   q.Get("on_duplicate"),
		Overwrite:     overwrite,
		DisplayErrors: display,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdateSpecs(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if _, err := s.opts.Auth.RequireAdmin(ctx, auth.TokenFromHeader(r.Header.Get("Authorization"))); err != nil {
		return err
	}
	q := r.URL.Query()
	initColls, err := boolParam(q, "init_collections", true)
	if err != nil {
		return err
	}
	reset, err := boolParam(q, "reset", false)
	if err != nil {
		return err
	}

	releaseURL := q.Get("release_url")
	if releaseURL == "" && reset {
		releaseURL = s.opts.ReleaseURL
	}

	var store *specs.Store
	if releaseURL != "" {
		if s.opts.Fetcher == nil {
			return errors.NewInvalidParameters("Spec releases cannot be downloaded by this server").
				WithDetail("release_url", releaseURL).
				WithFix("Configure SPEC_RELEASE_URL or update the spec tree on disk")
		}
		fs, err := s.opts.Fetcher.Fetch(ctx, releaseURL)
		if err != nil {
			return err
		}
		if store, err = s.opts.Registry.ReloadFrom(fs); err != nil {
			return err
		}
	} else if store, err = s.opts.Registry.Reload(); err != nil {
		return err
	}

	resp := map[string]any{"status": "updated", "spec_counts": store.Counts()}
	if initColls {
		sum, err := s.opts.Initializer.Init(ctx, store)
		if err != nil {
			return err
		}
		resp["init"] = sum
	}
	return writeJSON(w, http.StatusOK, resp)
}

// decodeObject reads a JSON object body. An empty body is an empty object.
func decodeObject(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidParameters, "Cannot read request body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		var off int64
		switch t := err.(type) {
		case *json.SyntaxError:
			off = t.Offset
		case *json.UnmarshalTypeError:
			off = t.Offset
		}
		line, col := jsonschema.LineColumn(data, int(off))
		return nil, errors.NewParseError("Request body is not a JSON object", line, col, int(off), err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func boolParam(q url.Values, name string, def bool) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.NewInvalidParameters(fmt.Sprintf("Invalid %s: %q is not a boolean", name, v)).
			WithDetail("parameter", name)
	}
	return b, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidParameters(fmt.Sprintf("Invalid %s: %q is not a non-negative integer", name, v)).
			WithDetail("parameter", name)
	}
	return n, nil
}
