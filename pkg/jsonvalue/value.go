// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jsonvalue models decoded JSON as a tagged variant and provides
// structural comparisons over it.
//
// Values decoded by encoding/json or gopkg.in/yaml.v3 arrive as loosely
// typed Go values. From converts them once into a Value whose Kind is one of
// null, bool, number, string, array or object; every walk in this package
// switches on that Kind instead of inspecting dynamic types.
package jsonvalue

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "null"
	}
}

// Value is an immutable JSON value.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload; false for other kinds.
func (v Value) Bool() bool { return v.b }

// Number returns the numeric payload; 0 for other kinds.
func (v Value) Number() float64 { return v.n }

// Str returns the string payload; "" for other kinds.
func (v Value) Str() string { return v.s }

// Items returns the elements of an array; nil for other kinds.
func (v Value) Items() []Value { return v.arr }

// Field returns the member named key of an object.
func (v Value) Field(key string) (Value, bool) {
	f, ok := v.obj[key]
	return f, ok
}

// Keys returns the member names of an object in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of elements or members; 0 for scalars.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	}
	return 0
}

// NewString, NewNumber, NewBool build scalar values.
func NewString(s string) Value  { return Value{kind: String, s: s} }
func NewNumber(n float64) Value { return Value{kind: Number, n: n} }
func NewBool(b bool) Value      { return Value{kind: Bool, b: b} }

// NewArray builds an array value.
func NewArray(items ...Value) Value { return Value{kind: Array, arr: items} }

// NewObject builds an object value.
func NewObject(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: Object, obj: fields}
}

// From converts a decoded Go value into a Value. It accepts the shapes
// produced by encoding/json (with or without UseNumber) and yaml.v3.
func From(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case float64:
		return NewNumber(t), nil
	case float32:
		return NewNumber(float64(t)), nil
	case int:
		return NewNumber(float64(t)), nil
	case int64:
		return NewNumber(float64(t)), nil
	case int32:
		return NewNumber(float64(t)), nil
	case uint64:
		return NewNumber(float64(t)), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t, err)
		}
		return NewNumber(f), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			v, err := From(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return NewArray(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := From(e)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return NewObject(fields), nil
	case map[any]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := From(e)
			if err != nil {
				return Value{}, err
			}
			fields[fmt.Sprint(k)] = v
		}
		return NewObject(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value of type %T", x)
	}
}

// MustFrom is From for literals known to be valid; it panics on error.
func MustFrom(x any) Value {
	v, err := From(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Any converts the value back into encoding/json shapes.
func (v Value) Any() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.n
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Any()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Any()
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// Map returns a new value with fn applied bottom-up to every node.
func (v Value) Map(fn func(Value) Value) Value {
	switch v.kind {
	case Array:
		items := make([]Value, len(v.arr))
		for i, e := range v.arr {
			items[i] = e.Map(fn)
		}
		return fn(NewArray(items...))
	case Object:
		fields := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			fields[k] = e.Map(fn)
		}
		return fn(NewObject(fields))
	}
	return fn(v)
}

// RoundNumbers returns v with every number rounded to places decimal places.
func (v Value) RoundNumbers(places int) Value {
	scale := math.Pow10(places)
	return v.Map(func(n Value) Value {
		if n.kind != Number {
			return n
		}
		return NewNumber(math.Round(n.n*scale) / scale)
	})
}
