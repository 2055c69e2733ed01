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

package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
)

// EdgeKey derives the key of an edge from its endpoints.
// Strategy: hex(sha256(from + to)[:16]), a fixed 32 characters that are
// valid in document keys.
// NOTE: the endpoints are concatenated without a separator. Ids always
// contain "/", which keeps distinct pairs from colliding in practice.
func EdgeKey(from, to string) string {
	hash := sha256.Sum256([]byte(from + to))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes
}

// edgeFields names the endpoint and key fields of a collection's edges.
type edgeFields struct {
	from, to, key string
}

var (
	plainEdge = edgeFields{from: "_from", to: "_to", key: "_key"}
	deltaEdge = edgeFields{from: "from", to: "to", key: "id"}
)

// assignEdgeKey sets the key of doc when it carries both endpoints and no
// key of its own. It reports whether a key was derived.
func assignEdgeKey(doc map[string]any, f edgeFields) bool {
	if k, ok := doc[f.key]; ok && k != nil && k != "" {
		return false
	}
	from, ok := doc[f.from].(string)
	if !ok {
		return false
	}
	to, ok := doc[f.to].(string)
	if !ok {
		return false
	}
	doc[f.key] = EdgeKey(from, to)
	return true
}
