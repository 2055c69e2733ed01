// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"
	"gopkg.in/yaml.v3"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

// ReadFile decodes a JSON or YAML document. The format is chosen by
// extension; .json is decoded with encoding/json, everything else as YAML.
func ReadFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewNotFound("file", path).WithCause(err.Error())
	}
	return Decode(data, filepath.Ext(path))
}

func readDoc(fs billy.Filesystem, path string) (any, error) {
	if fs == nil {
		return ReadFile(path)
	}
	path = strings.TrimPrefix(filepath.ToSlash(path), "/")
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, errors.NewNotFound("file", path).WithCause(err.Error())
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses data as JSON when ext is ".json", otherwise as YAML.
func Decode(data []byte, ext string) (any, error) {
	var doc any
	if strings.EqualFold(ext, ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, jsonParseError(data, err)
		}
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.KindParse, "Malformed YAML document", err)
	}
	return normalize(doc), nil
}

// jsonParseError converts a decoder failure into a ParseError carrying the
// line, column and byte position of the offending input.
func jsonParseError(data []byte, err error) *errors.Error {
	var offset int64
	switch t := err.(type) {
	case *json.SyntaxError:
		offset = t.Offset
	case *json.UnmarshalTypeError:
		offset = t.Offset
	default:
		offset = int64(len(data))
	}
	line, col := LineColumn(data, int(offset))
	return errors.NewParseError("Malformed JSON", line, col, int(offset), err)
}

// LineColumn converts a byte offset into 1-based line and column numbers.
func LineColumn(data []byte, offset int) (int, int) {
	if offset > len(data) {
		offset = len(data)
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

// normalize rewrites map[any]any (YAML non-string keys) into map[string]any.
func normalize(x any) any {
	switch t := x.(type) {
	case map[string]any:
		for k, v := range t {
			t[k] = normalize(v)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case []any:
		for i, v := range t {
			t[i] = normalize(v)
		}
		return t
	default:
		return x
	}
}

// deepCopy copies maps and slices so that the result shares no mutable
// state with x.
func deepCopy(x any) any {
	switch t := x.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = deepCopy(v)
		}
		return m
	case map[any]any:
		m := make(map[any]any, len(t))
		for k, v := range t {
			m[k] = deepCopy(v)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, v := range t {
			s[i] = deepCopy(v)
		}
		return s
	default:
		return x
	}
}

// lookupPointer resolves a JSON pointer ("/params/properties/x") in doc.
// "" and "/" address the whole document.
func lookupPointer(doc any, pointer string) (any, bool) {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return doc, true
	}
	x := jp.R()
	for _, seg := range strings.Split(pointer, "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if i, err := strconv.Atoi(seg); err == nil {
			if _, isArray := x.First(doc).([]any); isArray {
				x = x.N(i)
				continue
			}
		}
		x = x.C(seg)
	}
	found := x.Get(doc)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}
