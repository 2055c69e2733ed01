// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonschema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

// ValidateOptions selects the instance and the sub-schema. Exactly one of
// Data or File must be set.
type ValidateOptions struct {
	Data any
	File string

	// At is a JSON pointer into the schema, e.g. "/params". Empty validates
	// against the whole schema.
	At string
}

// Failure is one violated constraint.
type Failure struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Validate fills defaults into a copy of the instance and validates the
// result. On success the default-filled copy is returned.
//
// On failure the error is a validation error whose path, keyword and value
// details describe the first failure (by path) and whose "failed" detail
// lists every failure.
func (s *Schema) Validate(opts ValidateOptions) (any, error) {
	if (opts.Data == nil) == (opts.File == "") {
		return nil, errors.NewInvalidParameters("Pass exactly one of data or data file").
			WithDetail("argument", "data|data_file")
	}

	var instance any
	if opts.File != "" {
		doc, err := ReadFile(opts.File)
		if err != nil {
			return nil, err
		}
		instance = doc
	} else {
		instance = normalize(deepCopy(opts.Data))
	}

	compiled, err := s.compile(opts.At)
	if err != nil {
		return nil, err
	}

	node, _ := lookupPointer(s.root, opts.At)
	if m, ok := node.(map[string]any); ok {
		instance = defaultFiller{schema: s}.fill(m, s.base, instance, 0)
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(instance))
	if err != nil {
		return nil, errors.NewInvalidParameters("Instance cannot be validated").WithCause(err.Error())
	}
	if result.Valid() {
		return instance, nil
	}
	return nil, validationError(result.Errors())
}

func validationError(resultErrors []gojsonschema.ResultError) *errors.Error {
	failed := make([]Failure, 0, len(resultErrors))
	for _, re := range resultErrors {
		failed = append(failed, toFailure(re))
	}
	sort.SliceStable(failed, func(i, j int) bool {
		if failed[i].Path != failed[j].Path {
			return failed[i].Path < failed[j].Path
		}
		return failed[i].Keyword < failed[j].Keyword
	})

	first := failed[0]
	e := errors.NewValidationError(first.Message, first.Path, first.Keyword, first.Value)
	e.WithDetail("failed", failed)
	if len(failed) > 1 {
		e.WithCause(fmt.Sprintf("%d constraints violated", len(failed)))
	}
	return e
}

func toFailure(re gojsonschema.ResultError) Failure {
	path := instancePath(re.Context())
	keyword := keywordOf(re.Type())
	value := re.Value()

	if re.Type() == "required" {
		if prop, ok := re.Details()["property"].(string); ok {
			path = strings.TrimSuffix(path, "/") + "/" + escapePointer(prop)
			value = nil
		}
	}
	return Failure{
		Path:    path,
		Keyword: keyword,
		Value:   value,
		Message: fmt.Sprintf("%s: %s", path, re.Description()),
	}
}

// instancePath converts a validator context ("(root).a.0") to a JSON
// pointer ("/a/0").
func instancePath(ctx *gojsonschema.JsonContext) string {
	if ctx == nil {
		return "/"
	}
	p := strings.TrimPrefix(ctx.String("/"), gojsonschema.STRING_CONTEXT_ROOT)
	if p == "" {
		return "/"
	}
	return p
}

func escapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

// keywordOf maps validator error types onto schema keywords.
func keywordOf(errType string) string {
	switch errType {
	case "invalid_type":
		return "type"
	case "number_gte":
		return "minimum"
	case "number_lte":
		return "maximum"
	case "number_gt":
		return "exclusiveMinimum"
	case "number_lt":
		return "exclusiveMaximum"
	case "string_gte":
		return "minLength"
	case "string_lte":
		return "maxLength"
	case "unique":
		return "uniqueItems"
	case "array_min_items":
		return "minItems"
	case "array_max_items":
		return "maxItems"
	case "array_no_additional_items":
		return "additionalItems"
	case "array_min_properties":
		return "minProperties"
	case "array_max_properties":
		return "maxProperties"
	case "additional_property_not_allowed":
		return "additionalProperties"
	case "invalid_property_pattern":
		return "patternProperties"
	case "invalid_property_name":
		return "propertyNames"
	case "missing_dependency":
		return "dependencies"
	case "multiple_of":
		return "multipleOf"
	case "number_one_of":
		return "oneOf"
	case "number_any_of":
		return "anyOf"
	case "number_all_of":
		return "allOf"
	case "number_not":
		return "not"
	case "condition_then", "condition_else":
		return "if"
	default:
		return errType
	}
}
