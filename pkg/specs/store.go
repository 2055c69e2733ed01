// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package specs

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/jsonschema"
)

//go:embed schemas/*.yaml
var metaSchemaFiles embed.FS

var (
	metaOnce    sync.Once
	metaSchemas map[Kind]*jsonschema.Schema
	metaErr     error
)

var metaSchemaFile = map[Kind]string{
	KindCollections:   "schemas/collection.yaml",
	KindStoredQueries: "schemas/stored_query.yaml",
	KindViews:         "schemas/view.yaml",
	KindAnalyzers:     "schemas/analyzer.yaml",
	KindDataSources:   "schemas/data_source.yaml",
}

func loadMetaSchemas() (map[Kind]*jsonschema.Schema, error) {
	metaOnce.Do(func() {
		metaSchemas = make(map[Kind]*jsonschema.Schema, len(metaSchemaFile))
		for kind, name := range metaSchemaFile {
			data, err := metaSchemaFiles.ReadFile(name)
			if err != nil {
				metaErr = errors.NewInternalError("embedded meta-schema missing", err)
				return
			}
			doc, err := jsonschema.Decode(data, filepath.Ext(name))
			if err != nil {
				metaErr = err
				return
			}
			s, err := jsonschema.Load(jsonschema.LoadOptions{Schema: doc})
			if err == nil {
				err = s.Compile("")
			}
			if err != nil {
				metaErr = err
				return
			}
			metaSchemas[kind] = s
		}
	})
	return metaSchemas, metaErr
}

// Store is an immutable index of one spec tree.
type Store struct {
	collections   map[string]*Collection
	storedQueries map[string]*StoredQuery
	views         map[string]*View
	analyzers     map[string]*Analyzer
	dataSources   map[string]*DataSource
}

// Load reads and checks every spec under the root of fs. Missing kind
// directories are treated as empty.
func Load(fs billy.Filesystem, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	meta, err := loadMetaSchemas()
	if err != nil {
		return nil, err
	}

	s := &Store{
		collections:   make(map[string]*Collection),
		storedQueries: make(map[string]*StoredQuery),
		views:         make(map[string]*View),
		analyzers:     make(map[string]*Analyzer),
		dataSources:   make(map[string]*DataSource),
	}

	for _, kind := range Kinds {
		files, err := specFiles(fs, string(kind))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if err := s.loadFile(fs, kind, file, meta[kind]); err != nil {
				return nil, err
			}
		}
	}

	logger.Info("specs.load.complete",
		"collections", len(s.collections),
		"stored_queries", len(s.storedQueries),
		"views", len(s.views),
		"analyzers", len(s.analyzers),
		"data_sources", len(s.dataSources),
	)
	return s, nil
}

// specFiles lists spec documents below dir in lexical order.
func specFiles(fs billy.Filesystem, dir string) ([]string, error) {
	var files []string
	err := util.Walk(fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch strings.ToLower(path.Ext(p)) {
		case ".json", ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "Cannot read spec directory "+dir, err)
	}
	return files, nil
}

func (s *Store) loadFile(fs billy.Filesystem, kind Kind, file string, meta *jsonschema.Schema) error {
	data, err := util.ReadFile(fs, file)
	if err != nil {
		return errors.NewNotFound("file", file).WithCause(err.Error())
	}
	raw, err := jsonschema.Decode(data, path.Ext(file))
	if err != nil {
		return withFile(err, file)
	}
	filled, err := meta.Validate(jsonschema.ValidateOptions{Data: raw})
	if err != nil {
		return withFile(err, file)
	}
	body := filled.(map[string]any)

	name, _ := body["name"].(string)
	base := strings.TrimSuffix(path.Base(file), path.Ext(file))
	if base != name {
		return errors.NewInvalidParameters(fmt.Sprintf("Spec name %q does not match file name %q", name, base)).
			WithDetail("file", file).WithDetail("name", name)
	}
	if s.has(kind, name) {
		return errors.NewInvalidParameters(fmt.Sprintf("Duplicate %s name: %s", kind.resource(), name)).
			WithDetail("file", file).WithDetail("name", name)
	}

	switch kind {
	case KindCollections:
		c := &Collection{Body: body}
		if err := decodeInto(body, c); err != nil {
			return withFile(err, file)
		}
		if err := checkRequired(c); err != nil {
			return withFile(err, file)
		}
		v, err := compiled(fs, file, "/schema")
		if err != nil {
			return withFile(err, file)
		}
		c.validator = v
		s.collections[name] = c
	case KindStoredQueries:
		q := &StoredQuery{Body: body}
		if err := decodeInto(body, q); err != nil {
			return withFile(err, file)
		}
		if q.Params != nil {
			v, err := compiled(fs, file, "/params")
			if err != nil {
				return withFile(err, file)
			}
			q.params = v
		}
		s.storedQueries[name] = q
	case KindViews:
		v := &View{Body: body}
		if err := decodeInto(body, v); err != nil {
			return withFile(err, file)
		}
		s.views[name] = v
	case KindAnalyzers:
		a := &Analyzer{Body: body}
		if err := decodeInto(body, a); err != nil {
			return withFile(err, file)
		}
		s.analyzers[name] = a
	case KindDataSources:
		d := &DataSource{Body: body}
		if err := decodeInto(body, d); err != nil {
			return withFile(err, file)
		}
		s.dataSources[name] = d
	}
	return nil
}

// compiled loads the spec file as a schema document and compiles the
// sub-schema at pointer. $refs resolve relative to the spec file.
func compiled(fs billy.Filesystem, file, pointer string) (*jsonschema.Schema, error) {
	v, err := jsonschema.Load(jsonschema.LoadOptions{File: file, FS: fs})
	if err != nil {
		return nil, err
	}
	if err := v.Compile(pointer); err != nil {
		return nil, err
	}
	return v, nil
}

func checkRequired(c *Collection) error {
	declared := make(map[string]bool)
	if req, ok := c.Schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				declared[name] = true
			}
		}
	}
	for _, field := range c.requiredFields() {
		if !declared[field] {
			return errors.NewValidationError(
				fmt.Sprintf("%s collection %s must list %q in schema.required", c.Type, c.Name, field),
				"/schema/required", "required", field,
			)
		}
	}
	return nil
}

func decodeInto(body map[string]any, dst any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.NewInternalError("Cannot encode spec", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(errors.KindValidation, "Spec does not match its declared shape", err)
	}
	return nil
}

func withFile(err error, file string) error {
	if e, ok := errors.As(err); ok {
		return e.WithDetail("file", file)
	}
	return err
}

func (s *Store) has(kind Kind, name string) bool {
	var ok bool
	switch kind {
	case KindCollections:
		_, ok = s.collections[name]
	case KindStoredQueries:
		_, ok = s.storedQueries[name]
	case KindViews:
		_, ok = s.views[name]
	case KindAnalyzers:
		_, ok = s.analyzers[name]
	case KindDataSources:
		_, ok = s.dataSources[name]
	}
	return ok
}

// Collection returns the named collection spec.
func (s *Store) Collection(name string) (*Collection, error) {
	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	return nil, errors.NewNotFound(KindCollections.resource(), name)
}

// StoredQuery returns the named stored query.
func (s *Store) StoredQuery(name string) (*StoredQuery, error) {
	if q, ok := s.storedQueries[name]; ok {
		return q, nil
	}
	return nil, errors.NewNotFound(KindStoredQueries.resource(), name)
}

// View returns the named view spec.
func (s *Store) View(name string) (*View, error) {
	if v, ok := s.views[name]; ok {
		return v, nil
	}
	return nil, errors.NewNotFound(KindViews.resource(), name)
}

// Analyzer returns the named analyzer spec.
func (s *Store) Analyzer(name string) (*Analyzer, error) {
	if a, ok := s.analyzers[name]; ok {
		return a, nil
	}
	return nil, errors.NewNotFound(KindAnalyzers.resource(), name)
}

// DataSource returns the named data source descriptor.
func (s *Store) DataSource(name string) (*DataSource, error) {
	if d, ok := s.dataSources[name]; ok {
		return d, nil
	}
	return nil, errors.NewNotFound(KindDataSources.resource(), name)
}

// SchemaForDocID resolves a document id ("collection/key") to the
// collection spec named by its prefix.
func (s *Store) SchemaForDocID(id string) (*Collection, error) {
	coll, key, ok := strings.Cut(id, "/")
	if !ok || coll == "" || key == "" {
		return nil, errors.NewInvalidParameters("Document id must have the form collection/key").WithDetail("doc_id", id)
	}
	return s.Collection(coll)
}

// Get returns the spec body of the named spec of any kind.
func (s *Store) Get(kind Kind, name string) (map[string]any, error) {
	switch kind {
	case KindCollections:
		c, err := s.Collection(name)
		if err != nil {
			return nil, err
		}
		return c.Body, nil
	case KindStoredQueries:
		q, err := s.StoredQuery(name)
		if err != nil {
			return nil, err
		}
		return q.Body, nil
	case KindViews:
		v, err := s.View(name)
		if err != nil {
			return nil, err
		}
		return v.Body, nil
	case KindAnalyzers:
		a, err := s.Analyzer(name)
		if err != nil {
			return nil, err
		}
		return a.Body, nil
	case KindDataSources:
		d, err := s.DataSource(name)
		if err != nil {
			return nil, err
		}
		return d.Body, nil
	}
	return nil, errors.NewInvalidParameters("Unknown spec kind: " + string(kind))
}

// Names lists the spec names of a kind in sorted order.
func (s *Store) Names(kind Kind) []string {
	var names []string
	switch kind {
	case KindCollections:
		names = keys(s.collections)
	case KindStoredQueries:
		names = keys(s.storedQueries)
	case KindViews:
		names = keys(s.views)
	case KindAnalyzers:
		names = keys(s.analyzers)
	case KindDataSources:
		names = keys(s.dataSources)
	}
	return names
}

// Counts returns the number of specs per kind.
func (s *Store) Counts() map[Kind]int {
	return map[Kind]int{
		KindCollections:   len(s.collections),
		KindStoredQueries: len(s.storedQueries),
		KindViews:         len(s.views),
		KindAnalyzers:     len(s.analyzers),
		KindDataSources:   len(s.dataSources),
	}
}

// Collections returns every collection spec sorted by name.
func (s *Store) Collections() []*Collection {
	out := make([]*Collection, 0, len(s.collections))
	for _, name := range keys(s.collections) {
		out = append(out, s.collections[name])
	}
	return out
}

// Views returns every view spec sorted by name.
func (s *Store) Views() []*View {
	out := make([]*View, 0, len(s.views))
	for _, name := range keys(s.views) {
		out = append(out, s.views[name])
	}
	return out
}

// Analyzers returns every analyzer spec sorted by name.
func (s *Store) Analyzers() []*Analyzer {
	out := make([]*Analyzer, 0, len(s.analyzers))
	for _, name := range keys(s.analyzers) {
		out = append(out, s.analyzers[name])
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
