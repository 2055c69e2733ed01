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

// Package testing provides in-process fakes of the services the access
// layer talks to, plus a spec tree fixture.
//
//   - FakeArango serves the ArangoDB HTTP endpoints used by pkg/arango:
//     cursors, bulk import, truncate and collection, index, view and
//     analyzer administration. It answers with the server's status codes
//     and error numbers.
//   - FakeAuth serves the identity service's token lookup.
//   - FakeWorkspace serves Workspace.list_workspace_ids over JSON-RPC.
//   - SpecFS and SpecDir hold one spec of every kind.
//
// Every fake runs on httptest and is closed by t.Cleanup:
//
//	db := retest.NewFakeArango(t)
//	db.Seed(retest.TaxonCollection, map[string]any{"_key": "1"})
//	client := arango.NewClient(arango.Config{URL: db.URL()})
package testing
