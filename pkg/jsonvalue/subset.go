// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonvalue

import (
	"math"
	"strings"
)

// DefaultPrecision is the number of decimal places numbers are rounded to
// before comparison. The database round-trips floats through its own
// encoding and may hand back 0.30000000000000004 for a declared 0.3.
const DefaultPrecision = 8

// MatchOptions tunes scalar comparison in IsSubset.
type MatchOptions struct {
	// Precision is the number of decimal places kept before comparing numbers.
	Precision int

	// StripNamespace compares strings after removing a "ns::" prefix, so a
	// declared analyzer "text_en" matches the live "_system::text_en".
	StripNamespace bool
}

// DefaultMatchOptions rounds numbers and leaves strings untouched.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{Precision: DefaultPrecision}
}

// StripNamespace removes an analyzer namespace prefix: "db::name" -> "name".
func StripNamespace(s string) string {
	if i := strings.LastIndex(s, "::"); i >= 0 {
		return s[i+2:]
	}
	return s
}

// IsSubset reports whether declared is approximately contained in live.
//
//   - object vs object: every declared key exists in live with a subset value
//   - array vs array: every declared element is a subset of some live element
//   - scalars: equal after number rounding and optional namespace stripping
//
// Values of different kinds never match.
func IsSubset(declared, live Value, opts MatchOptions) bool {
	if declared.kind != live.kind {
		return false
	}
	switch declared.kind {
	case Object:
		for k, dv := range declared.obj {
			lv, ok := live.obj[k]
			if !ok || !IsSubset(dv, lv, opts) {
				return false
			}
		}
		return true
	case Array:
		for _, de := range declared.arr {
			found := false
			for _, le := range live.arr {
				if IsSubset(de, le, opts) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case Number:
		scale := math.Pow10(opts.Precision)
		return math.Round(declared.n*scale) == math.Round(live.n*scale)
	case String:
		if opts.StripNamespace {
			return StripNamespace(declared.s) == StripNamespace(live.s)
		}
		return declared.s == live.s
	case Bool:
		return declared.b == live.b
	default:
		return true
	}
}

// Equal reports exact structural equality (arrays are order-sensitive).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Object:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case Array:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case Number:
		return a.n == b.n
	case String:
		return a.s == b.s
	case Bool:
		return a.b == b.b
	default:
		return true
	}
}
