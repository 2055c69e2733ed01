// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonschema

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func details(t *testing.T, err error) map[string]any {
	t.Helper()
	e, ok := errors.As(err)
	require.True(t, ok, "expected *errors.Error, got %T", err)
	return e.Details
}

func TestValidate_DefaultsFillEmptyObject(t *testing.T) {
	s, err := Load(LoadOptions{Schema: map[string]any{
		"type":     "object",
		"required": []any{"a", "b", "c"},
		"properties": map[string]any{
			"a": map[string]any{"type": "string", "default": "x"},
			"b": map[string]any{"type": "integer", "default": 3},
			"c": map[string]any{
				"type":       "object",
				"default":    map[string]any{},
				"properties": map[string]any{"d": map[string]any{"type": "boolean", "default": true}},
			},
		},
	}})
	require.NoError(t, err)

	got, err := s.Validate(ValidateOptions{Data: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": "x",
		"b": 3,
		"c": map[string]any{"d": true},
	}, got)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	s, err := Load(LoadOptions{Schema: map[string]any{
		"properties": map[string]any{"a": map[string]any{"default": []any{1}}},
	}})
	require.NoError(t, err)

	in := map[string]any{}
	got, err := s.Validate(ValidateOptions{Data: in})
	require.NoError(t, err)
	assert.Empty(t, in)

	got.(map[string]any)["a"].([]any)[0] = 99
	again, err := s.Validate(ValidateOptions{Data: in})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, again.(map[string]any)["a"])
}

func TestValidate_DefaultsInArrayItems(t *testing.T) {
	s, err := Load(LoadOptions{Schema: map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":       "object",
			"properties": map[string]any{"rank": map[string]any{"type": "string", "default": "species"}},
		},
	}})
	require.NoError(t, err)

	got, err := s.Validate(ValidateOptions{Data: []any{
		map[string]any{},
		map[string]any{"rank": "genus"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"rank": "species"},
		map[string]any{"rank": "genus"},
	}, got)
}

func TestValidate_FileRefResolvesAgainstSchemaLocation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "defs.yaml", `
definitions:
  name:
    type: string
    pattern: "^[a-z_]+$"
    default: anon
`)
	schemaPath := writeFile(t, dir, "schema.json", `{
  "type": "object",
  "properties": {"name": {"$ref": "defs.yaml#/definitions/name"}}
}`)

	s, err := Load(LoadOptions{File: schemaPath})
	require.NoError(t, err)

	got, err := s.Validate(ValidateOptions{Data: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "anon"}, got)

	_, err = s.Validate(ValidateOptions{Data: map[string]any{"name": "Bad Name"}})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	d := details(t, err)
	assert.Equal(t, "/name", d["path"])
	assert.Equal(t, "pattern", d["keyword"])
	assert.Equal(t, "Bad Name", d["value"])
}

func TestLoad_InMemoryRelativeRefFails(t *testing.T) {
	_, err := Load(LoadOptions{Schema: map[string]any{
		"properties": map[string]any{"x": map[string]any{"$ref": "other.json#/x"}},
	}})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidParameters))
	assert.Equal(t, "other.json#/x", details(t, err)["ref"])
	assert.Contains(t, err.Error(), "other.json#/x")
}

func TestLoad_MissingRefTargetNamesTarget(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "schema.yaml", "properties:\n  x:\n    $ref: missing.yaml#/x\n")

	_, err := Load(LoadOptions{File: schemaPath})
	require.Error(t, err)
	d := details(t, err)
	assert.Equal(t, "missing.yaml#/x", d["ref"])
	assert.Equal(t, filepath.ToSlash(filepath.Join(dir, "missing.yaml")), d["target"])
}

func TestLoad_LocalRefsInMemory(t *testing.T) {
	s, err := Load(LoadOptions{Schema: map[string]any{
		"definitions": map[string]any{"id": map[string]any{"type": "string", "default": "x"}},
		"properties":  map[string]any{"id": map[string]any{"$ref": "#/definitions/id"}},
	}})
	require.NoError(t, err)

	got, err := s.Validate(ValidateOptions{Data: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "x"}, got)
}

func TestValidate_RequiredDefaultThroughRefChain(t *testing.T) {
	s, err := Load(LoadOptions{Schema: map[string]any{
		"definitions": map[string]any{
			"status": map[string]any{"type": "string", "default": "active"},
			"state":  map[string]any{"$ref": "#/definitions/status"},
			"plain":  map[string]any{"type": "integer"},
		},
		"properties": map[string]any{
			"status": map[string]any{"$ref": "#/definitions/status"},
			"state":  map[string]any{"$ref": "#/definitions/state"},
			"count":  map[string]any{"$ref": "#/definitions/plain"},
		},
		"required": []any{"status", "state"},
	}})
	require.NoError(t, err)

	got, err := s.Validate(ValidateOptions{Data: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "active", "state": "active"}, got)

	got, err = s.Validate(ValidateOptions{Data: map[string]any{"status": "retired"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "retired", "state": "active"}, got)
}

func TestValidate_At(t *testing.T) {
	dir := t.TempDir()
	specPath := writeFile(t, dir, "query.yaml", `
name: list_things
query: FOR t IN things LIMIT @limit RETURN t
params:
  type: object
  required: [limit]
  properties:
    limit:
      type: integer
      maximum: 5
    offset:
      type: integer
      default: 0
`)
	s, err := Load(LoadOptions{File: specPath})
	require.NoError(t, err)

	got, err := s.Validate(ValidateOptions{Data: map[string]any{"limit": 2}, At: "/params"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"limit": 2, "offset": 0}, got)

	_, err = s.Validate(ValidateOptions{Data: map[string]any{"limit": 9}, At: "/params"})
	require.Error(t, err)
	d := details(t, err)
	assert.Equal(t, "/limit", d["path"])
	assert.Equal(t, "maximum", d["keyword"])
	assert.Equal(t, "9", fmt.Sprint(d["value"]))

	_, err = s.Validate(ValidateOptions{Data: map[string]any{}, At: "/params"})
	require.Error(t, err)
	d = details(t, err)
	assert.Equal(t, "/limit", d["path"])
	assert.Equal(t, "required", d["keyword"])
	assert.Nil(t, d["value"])

	_, err = s.Validate(ValidateOptions{Data: map[string]any{}, At: "/nope"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidParameters))
}

func TestValidate_AggregatesFailures(t *testing.T) {
	s, err := Load(LoadOptions{Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"enum": []any{"x", "y"}},
		},
	}})
	require.NoError(t, err)

	_, err = s.Validate(ValidateOptions{Data: map[string]any{"a": 1, "b": "z"}})
	require.Error(t, err)
	d := details(t, err)
	failed, ok := d["failed"].([]Failure)
	require.True(t, ok)
	require.Len(t, failed, 2)
	assert.Equal(t, "/a", failed[0].Path)
	assert.Equal(t, "type", failed[0].Keyword)
	assert.Equal(t, "/b", failed[1].Path)
	assert.Equal(t, "enum", failed[1].Keyword)
	assert.Equal(t, "/a", d["path"])
}

func TestArgumentErrors(t *testing.T) {
	_, err := Load(LoadOptions{})
	assert.True(t, errors.IsKind(err, errors.KindInvalidParameters))

	_, err = Load(LoadOptions{Schema: map[string]any{}, File: "x.json"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidParameters))

	_, err = Load(LoadOptions{Schema: []any{}})
	assert.True(t, errors.IsKind(err, errors.KindInvalidParameters))

	s, err := Load(LoadOptions{Schema: map[string]any{}})
	require.NoError(t, err)

	_, err = s.Validate(ValidateOptions{})
	assert.True(t, errors.IsKind(err, errors.KindInvalidParameters))

	_, err = s.Validate(ValidateOptions{Data: 1, File: "x.json"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidParameters))
}

func TestValidate_DataFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(LoadOptions{Schema: map[string]any{
		"properties": map[string]any{"n": map[string]any{"type": "integer", "minimum": 1}},
	}})
	require.NoError(t, err)

	good := writeFile(t, dir, "good.yaml", "n: 4\n")
	got, err := s.Validate(ValidateOptions{File: good})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 4}, got)

	bad := writeFile(t, dir, "bad.json", "{\n  \"n\": 4,\n  oops\n}")
	_, err = s.Validate(ValidateOptions{File: bad})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindParse))
	d := details(t, err)
	assert.Equal(t, 3, d["line"])

	_, err = s.Validate(ValidateOptions{File: filepath.Join(dir, "absent.json")})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestLineColumn(t *testing.T) {
	data := []byte("ab\ncd\nef")
	line, col := LineColumn(data, 0)
	assert.Equal(t, []int{1, 1}, []int{line, col})
	line, col = LineColumn(data, 4)
	assert.Equal(t, []int{2, 2}, []int{line, col})
	line, col = LineColumn(data, 100)
	assert.Equal(t, []int{3, 3}, []int{line, col})
}

func TestLookupPointer(t *testing.T) {
	doc := map[string]any{
		"a":   []any{map[string]any{"b": "x"}},
		"c/d": 1,
	}
	v, ok := lookupPointer(doc, "/a/0/b")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	v, ok = lookupPointer(doc, "/c~1d")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = lookupPointer(doc, "/a/1")
	assert.False(t, ok)

	v, ok = lookupPointer(doc, "")
	assert.True(t, ok)
	assert.Equal(t, doc, v)
}
