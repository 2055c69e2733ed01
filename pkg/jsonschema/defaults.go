// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonschema

// defaultFiller is the first validation phase. It walks a schema alongside
// an instance and sets every absent object property whose schema declares a
// "default". The instance passed in is mutated; callers hand it a copy.
type defaultFiller struct {
	schema *Schema
}

// fill applies defaults from node (a schema object living in the document
// whose base URI is base) to inst and returns the possibly replaced instance.
func (f defaultFiller) fill(node map[string]any, base string, inst any, depth int) any {
	if node == nil || depth > maxRefDepth {
		return inst
	}

	if ref, ok := node["$ref"].(string); ok {
		target, targetBase, ok := f.schema.resolveRef(ref, base)
		if !ok {
			return inst
		}
		return f.fill(target, targetBase, inst, depth+1)
	}

	if all, ok := node["allOf"].([]any); ok {
		for _, sub := range all {
			if m, ok := sub.(map[string]any); ok {
				inst = f.fill(m, base, inst, depth+1)
			}
		}
	}

	switch v := inst.(type) {
	case map[string]any:
		props, _ := node["properties"].(map[string]any)
		for name, raw := range props {
			prop, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if _, present := v[name]; !present {
				def, hasDefault := f.defaultOf(prop, base)
				if !hasDefault {
					continue
				}
				v[name] = deepCopy(def)
			}
			v[name] = f.fill(prop, base, v[name], depth+1)
		}
	case []any:
		switch items := node["items"].(type) {
		case map[string]any:
			for i := range v {
				v[i] = f.fill(items, base, v[i], depth+1)
			}
		case []any:
			for i := range v {
				if i >= len(items) {
					break
				}
				if m, ok := items[i].(map[string]any); ok {
					v[i] = f.fill(m, base, v[i], depth+1)
				}
			}
		}
	}
	return inst
}

// defaultOf returns the "default" of a property schema, following a chain
// of "$ref"s when the property only points at its definition. The first
// default found along the chain wins.
func (f defaultFiller) defaultOf(prop map[string]any, base string) (any, bool) {
	for depth := 0; prop != nil && depth <= maxRefDepth; depth++ {
		if def, ok := prop["default"]; ok {
			return def, true
		}
		ref, ok := prop["$ref"].(string)
		if !ok {
			return nil, false
		}
		prop, base, ok = f.schema.resolveRef(ref, base)
		if !ok {
			return nil, false
		}
	}
	return nil, false
}
