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

// Package ingestion provides the bulk document importer.
//
// An import streams newline-delimited JSON into one declared collection.
//
// # Pipeline Overview
//
// Each import runs in four stages:
//
//  1. Resolve: look up the collection spec (unknown collection is NotFound)
//  2. Stage: read the input line by line, validate and default-fill each
//     document, derive edge keys, stamp updated_at, and append the survivors
//     to a temporary staging file in input order
//  3. Truncate: when overwrite is requested, empty the collection
//  4. Load: hand the staging file to the database's bulk import endpoint
//     with the chosen duplicate policy
//
// Memory use is bounded by the longest input line. Lines that fail to parse
// or validate are recorded and dropped; the rest of the batch proceeds. A
// truncate failure aborts the import before anything is written. The
// staging file is removed on every path.
//
// # Edge Keys
//
// An edge without an explicit key gets one derived from its endpoints
// (see EdgeKey), so importing the same edge twice addresses the same
// document and re-imports under the update or replace policies are
// idempotent.
//
// # Quick Start
//
//	im := ingestion.NewImporter(db, ingestion.Config{TempDir: os.TempDir()})
//	res, err := im.Import(ctx, store, ingestion.Request{
//	    Collection:  "ncbi_taxon",
//	    Body:        r,
//	    OnDuplicate: ingestion.OnDuplicateUpdate,
//	})
package ingestion
