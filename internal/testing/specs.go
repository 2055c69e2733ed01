// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// Spec fixture names.
const (
	TaxonCollection   = "ncbi_taxon"
	ChildOfCollection = "ncbi_child_of_taxon"
	DeltaEdges        = "delta_child_of"
	ObjectCollection  = "ws_object"
	ListObjectsQuery  = "list_objects"
	TaxonByRankQuery  = "taxon_by_rank"
	TaxonSearchView   = "taxon_search"
	TokenizeAnalyzer  = "icu_tokenize"
	TaxonomySource    = "ncbi_taxonomy"
)

var specFixtures = map[string]string{
	"collections/ncbi_taxon.yaml": `
name: ncbi_taxon
type: vertex
schema:
  type: object
  required: [_key, scientific_name]
  properties:
    _key:
      type: string
    scientific_name:
      type: string
      minLength: 1
    rank:
      type: string
      default: species
indexes:
  - type: persistent
    fields: [scientific_name]
`,
	"collections/ncbi_child_of_taxon.yaml": `
name: ncbi_child_of_taxon
type: edge
schema:
  type: object
  required: [_from, _to]
  properties:
    _from:
      type: string
    _to:
      type: string
`,
	"collections/delta/delta_child_of.yaml": `
name: delta_child_of
type: edge
delta: true
schema:
  type: object
  required: [from, to]
  properties:
    from:
      type: string
    to:
      type: string
`,
	"collections/ws_object.json": `{
  "name": "ws_object",
  "type": "vertex",
  "schema": {
    "type": "object",
    "required": ["_key", "workspace_id"],
    "properties": {
      "_key": {"type": "string"},
      "workspace_id": {"type": "integer"},
      "name": {"type": "string"}
    }
  }
}`,
	"stored_queries/list_objects.yaml": `
name: list_objects
query_prefix: WITH ws_object
query: |
  FOR o IN ws_object
    FILTER o.workspace_id IN @ws_ids
    RETURN o
`,
	"stored_queries/taxon_by_rank.yaml": `
name: taxon_by_rank
query: FOR t IN ncbi_taxon FILTER t.rank == @rank LIMIT @limit RETURN t
params:
  type: object
  required: [rank]
  properties:
    rank:
      type: string
      enum: [species, genus]
    limit:
      type: integer
      default: 20
      maximum: 1000
`,
	"views/taxon_search.json": `{
  "name": "taxon_search",
  "type": "arangosearch",
  "links": {
    "ncbi_taxon": {
      "fields": {"scientific_name": {"analyzers": ["icu_tokenize"]}}
    }
  },
  "consolidationPolicy": {"type": "tier", "segmentsMin": 1, "segmentsBytesFloor": 2097152}
}`,
	"analyzers/icu_tokenize.json": `{
  "name": "icu_tokenize",
  "type": "text",
  "properties": {"locale": "en.utf-8", "case": "lower", "accent": false, "stemming": false},
  "features": ["frequency", "norm", "position"]
}`,
	"data_sources/ncbi_taxonomy.yaml": `
name: ncbi_taxonomy
category: taxonomy
title: NCBI Taxonomy
home_url: https://www.ncbi.nlm.nih.gov/taxonomy
data_url: ftp://ftp.ncbi.nih.gov/pub/taxonomy/
logo_path: /images/third_party/NCBI_logo.png
`,
}

// SpecFS returns an in-memory spec tree with one spec of every kind:
// vertex, edge and delta edge collections, a workspace-scoped stored query,
// a stored query with a params schema, a view, an analyzer and a data
// source.
func SpecFS(t *testing.T) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for path, content := range specFixtures {
		WriteSpec(t, fs, path, content)
	}
	return fs
}

// WriteSpec writes (or overwrites) one spec file.
func WriteSpec(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()
	if err := util.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("write spec %s: %v", path, err)
	}
}

// SpecDir writes the SpecFS fixtures below a temporary directory and
// returns its path.
func SpecDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range specFixtures {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", full, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write spec %s: %v", full, err)
		}
	}
	return dir
}
