// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonschema

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

// maxRefDepth bounds $ref chains followed while filling defaults.
const maxRefDepth = 64

// LoadOptions selects the schema source. Exactly one field must be set.
type LoadOptions struct {
	// Schema is an already decoded schema document.
	Schema any

	// File is a path to a JSON or YAML schema document. Relative $refs
	// resolve against the file's location unless the schema declares $id.
	File string

	// FS, when set, is the filesystem File and every file reached through
	// $ref are read from. Paths are FS-relative. Nil reads the OS filesystem.
	FS billy.Filesystem
}

// Schema is a loaded, compiled JSON Schema. It is safe for concurrent use.
type Schema struct {
	root     map[string]any
	base     string            // identity used to resolve the root's $refs
	docs     map[string]any    // every loaded document by URI without fragment
	docBases map[string]string // base URI of every loaded document
	fs       billy.Filesystem

	mu       sync.Mutex
	compiled map[string]*gojsonschema.Schema // by pointer
}

// Load reads and compiles a schema.
func Load(opts LoadOptions) (*Schema, error) {
	if (opts.Schema == nil) == (opts.File == "") {
		return nil, errors.NewInvalidParameters("Pass exactly one of schema or schema file").
			WithDetail("argument", "schema|schema_file")
	}

	var (
		raw      any
		identity string
		err      error
	)
	if opts.File != "" {
		raw, err = readDoc(opts.FS, opts.File)
		if err != nil {
			return nil, err
		}
		identity, err = fileURI(opts.FS, opts.File)
		if err != nil {
			return nil, errors.NewInvalidParameters("Cannot resolve schema file path").WithDetail("file", opts.File)
		}
	} else {
		raw = normalize(deepCopy(opts.Schema))
	}

	root, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.NewInvalidParameters(fmt.Sprintf("Schema must be an object, got %T", raw))
	}
	if id, ok := root["$id"].(string); ok && id != "" {
		identity = id
	}

	s := &Schema{
		root:     root,
		docs:     make(map[string]any),
		docBases: make(map[string]string),
		fs:       opts.FS,
		compiled: make(map[string]*gojsonschema.Schema),
	}
	s.base = identity
	if s.base == "" {
		s.base = "memory://schema/" + uuid.NewString() + ".json"
	}
	s.docs[stripFragment(s.base)] = root
	s.docBases[stripFragment(s.base)] = s.base

	if err := s.collectRefs(root, identity); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the decoded root document.
func (s *Schema) Root() map[string]any { return s.root }

// Compile checks that the sub-schema at pointer compiles. Validate compiles
// on first use; callers that want schema errors up front call Compile when
// the schema is loaded.
func (s *Schema) Compile(pointer string) error {
	_, err := s.compile(pointer)
	return err
}

// collectRefs walks doc for $ref values, loading every file-based document
// they reach. docIdentity is "" for in-memory schemas with no $id, in which
// case any reference outside the document is unresolvable.
func (s *Schema) collectRefs(doc any, docIdentity string) error {
	var refs []string
	walkRefs(doc, func(ref string) { refs = append(refs, ref) })

	for _, ref := range refs {
		if strings.HasPrefix(ref, "#") {
			continue
		}
		refURL, err := url.Parse(ref)
		if err != nil {
			return resolutionError(ref, err)
		}
		if !refURL.IsAbs() && docIdentity == "" {
			return resolutionError(ref, fmt.Errorf("schema has no identity to resolve relative reference against"))
		}

		target := refURL
		if !refURL.IsAbs() {
			baseURL, err := url.Parse(docIdentity)
			if err != nil {
				return resolutionError(ref, err)
			}
			target = baseURL.ResolveReference(refURL)
		}
		target.Fragment = ""
		key := target.String()
		if _, seen := s.docs[key]; seen {
			continue
		}
		if target.Scheme != "file" {
			// Remote documents are left to the validator's own loader.
			continue
		}

		loaded, err := readDoc(s.fs, filepath.FromSlash(target.Path))
		if err != nil {
			return resolutionError(ref, err).WithDetail("target", target.Path)
		}
		s.docs[key] = loaded
		s.docBases[key] = key
		if m, ok := loaded.(map[string]any); ok {
			if id, ok := m["$id"].(string); ok && id != "" {
				s.docBases[key] = id
			}
		}
		if err := s.collectRefs(loaded, s.docBases[key]); err != nil {
			return err
		}
	}
	return nil
}

// compile returns the validator for the sub-schema at pointer, compiling
// and caching it on first use.
func (s *Schema) compile(pointer string) (*gojsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.compiled[pointer]; ok {
		return c, nil
	}
	if pointer != "" {
		if _, ok := lookupPointer(s.root, pointer); !ok {
			return nil, errors.NewInvalidParameters(fmt.Sprintf("No sub-schema at %q", pointer)).WithDetail("at", pointer)
		}
	}

	sl := gojsonschema.NewSchemaLoader()
	sl.Draft = gojsonschema.Draft7
	for uri, doc := range s.docs {
		if err := register(sl, uri, doc); err != nil {
			return nil, errors.NewInvalidParameters("Invalid schema document").WithDetail("document", uri).WithCause(err.Error())
		}
	}

	entry := map[string]any{"$ref": stripFragment(s.base)}
	if pointer != "" {
		entry["$ref"] = stripFragment(s.base) + "#" + pointer
	}
	compiled, err := sl.Compile(gojsonschema.NewGoLoader(entry))
	if err != nil {
		return nil, errors.NewInvalidParameters("Cannot compile schema").WithCause(err.Error()).WithDetail("at", pointer)
	}
	s.compiled[pointer] = compiled
	return compiled, nil
}

// resolveRef returns the schema a $ref points to, seen from a document
// whose base URI is docBase, together with the target's base URI.
func (s *Schema) resolveRef(ref, docBase string) (map[string]any, string, bool) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return nil, "", false
	}
	target := refURL
	if !refURL.IsAbs() {
		baseURL, err := url.Parse(docBase)
		if err != nil {
			return nil, "", false
		}
		target = baseURL.ResolveReference(refURL)
	}
	fragment := target.Fragment
	target.Fragment = ""
	key := target.String()

	doc, ok := s.docs[key]
	if !ok {
		return nil, "", false
	}
	node, ok := lookupPointer(doc, fragment)
	if !ok {
		return nil, "", false
	}
	m, ok := node.(map[string]any)
	return m, s.docBases[key], ok
}

// register adds doc to the loader pool under uri. Documents declaring $id
// are pooled under that identity by the loader itself; when the identity
// differs from the URI they were reached through, an id-less copy is also
// pooled under uri.
func register(sl *gojsonschema.SchemaLoader, uri string, doc any) error {
	m, _ := doc.(map[string]any)
	id, _ := m["$id"].(string)
	if id == "" {
		return sl.AddSchema(uri, gojsonschema.NewGoLoader(doc))
	}
	if err := sl.AddSchemas(gojsonschema.NewGoLoader(doc)); err != nil {
		return err
	}
	if stripFragment(id) == uri {
		return nil
	}
	alias := make(map[string]any, len(m))
	for k, v := range m {
		if k != "$id" {
			alias[k] = v
		}
	}
	return sl.AddSchema(uri, gojsonschema.NewGoLoader(alias))
}

func walkRefs(node any, fn func(string)) {
	switch t := node.(type) {
	case map[string]any:
		for k, v := range t {
			if k == "$ref" {
				if ref, ok := v.(string); ok {
					fn(ref)
					continue
				}
			}
			if k == "enum" || k == "const" || k == "default" || k == "examples" {
				continue
			}
			walkRefs(v, fn)
		}
	case []any:
		for _, v := range t {
			walkRefs(v, fn)
		}
	}
}

func resolutionError(ref string, err error) *errors.Error {
	return errors.Wrap(errors.KindInvalidParameters, fmt.Sprintf("Cannot resolve $ref %q", ref), err).
		WithDetail("ref", ref)
}

func fileURI(fs billy.Filesystem, path string) (string, error) {
	abs := filepath.Join(string(filepath.Separator), path)
	if fs == nil {
		var err error
		if abs, err = filepath.Abs(path); err != nil {
			return "", err
		}
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func stripFragment(uri string) string {
	if i := strings.Index(uri, "#"); i >= 0 {
		return uri[:i]
	}
	return uri
}
