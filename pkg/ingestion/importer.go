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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/pkg/arango"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

// Duplicate policies.
const (
	OnDuplicateError   = arango.OnDuplicateError
	OnDuplicateUpdate  = arango.OnDuplicateUpdate
	OnDuplicateReplace = arango.OnDuplicateReplace
	OnDuplicateIgnore  = arango.OnDuplicateIgnore
)

// UpdatedAtField is stamped on every imported document, in unix milliseconds.
const UpdatedAtField = "updated_at"

// Store is the part of the database client the importer needs.
type Store interface {
	Import(ctx context.Context, opts arango.ImportOptions, body io.Reader) (*arango.ImportResponse, error)
	Truncate(ctx context.Context, collection string) error
}

// Resolver looks up collection specs. *specs.Store implements it.
type Resolver interface {
	Collection(name string) (*specs.Collection, error)
}

// Config configures an Importer.
type Config struct {
	// TempDir holds staging files. Empty uses os.TempDir().
	TempDir string

	Logger *slog.Logger

	// Now returns the ingestion timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Request is one import call.
type Request struct {
	Collection    string
	Body          io.Reader
	OnDuplicate   string
	Overwrite     bool
	DisplayErrors bool

	// Progress, when set, is called after every input line with the number
	// of lines read so far.
	Progress func(lines int)
}

// Detail describes one rejected document.
type Detail struct {
	Line    int            `json:"line,omitempty"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Error   map[string]any `json:"error,omitempty"`
}

// Result summarizes an import. It is returned once and never stored.
type Result struct {
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Replaced int      `json:"replaced"`
	Ignored  int      `json:"ignored"`
	Errors   int      `json:"errors"`
	Empty    int      `json:"empty"`
	Error    bool     `json:"error"`
	Details  []Detail `json:"details,omitempty"`
}

// Importer loads newline-delimited JSON into declared collections.
// It is safe for concurrent use; imports share no state.
type Importer struct {
	db      Store
	tempDir string
	logger  *slog.Logger
	now     func() time.Time
}

// NewImporter creates an importer writing through db.
func NewImporter(db Store, cfg Config) *Importer {
	im := &Importer{db: db, tempDir: cfg.TempDir, logger: cfg.Logger, now: cfg.Now}
	if im.logger == nil {
		im.logger = slog.Default()
	}
	if im.now == nil {
		im.now = time.Now
	}
	return im
}

// ValidPolicy reports whether p is a known duplicate policy.
func ValidPolicy(p string) bool {
	switch p {
	case OnDuplicateError, OnDuplicateUpdate, OnDuplicateReplace, OnDuplicateIgnore:
		return true
	}
	return false
}

// Import runs one import. Per-line parse and validation failures are
// reported in the Result; a returned error means nothing was loaded.
func (im *Importer) Import(ctx context.Context, resolver Resolver, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		recordOutcome(err == nil)
		observeTotal(time.Since(start).Seconds())
	}()

	policy := req.OnDuplicate
	if policy == "" {
		policy = OnDuplicateError
	}
	if !ValidPolicy(policy) {
		return nil, errors.NewInvalidParameters(fmt.Sprintf("Unknown on_duplicate policy %q", policy)).
			WithDetail("on_duplicate", policy).
			WithFix("Use one of error, update, replace, ignore")
	}
	if req.Body == nil {
		return nil, errors.NewInvalidParameters("Missing request body")
	}

	coll, err := resolver.Collection(req.Collection)
	if err != nil {
		return nil, err
	}

	im.logger.Info("import.start",
		"collection", coll.Name,
		"on_duplicate", policy,
		"overwrite", req.Overwrite,
	)

	staging, err := os.CreateTemp(im.tempDir, "relengine-import-*.jsonl")
	if err != nil {
		return nil, errors.NewInternalError("Cannot create staging file", err)
	}
	defer func() {
		staging.Close()
		if rmErr := os.Remove(staging.Name()); rmErr != nil {
			im.logger.Warn("import.staging.cleanup.failed", "path", staging.Name(), "err", rmErr)
		}
	}()

	res = &Result{}
	stageStart := time.Now()
	staged, err := im.stage(coll, req, staging, res)
	if err != nil {
		return nil, err
	}
	observeStage(time.Since(stageStart).Seconds())

	if req.Overwrite {
		if err := im.db.Truncate(ctx, coll.Name); err != nil {
			im.logger.Warn("import.truncate.failed", "collection", coll.Name, "err", err)
			return nil, err
		}
		recordTruncate()
	}

	if staged > 0 {
		if _, err := staging.Seek(0, io.SeekStart); err != nil {
			return nil, errors.NewInternalError("Cannot rewind staging file", err)
		}
		loadStart := time.Now()
		resp, err := im.db.Import(ctx, arango.ImportOptions{
			Collection:  coll.Name,
			OnDuplicate: policy,
			Details:     true,
		}, staging)
		if err != nil {
			im.logger.Warn("import.load.failed", "collection", coll.Name, "err", err)
			return nil, err
		}
		observeLoad(time.Since(loadStart).Seconds())
		merge(res, resp, policy, req.DisplayErrors)
	}

	res.Error = res.Errors > 0
	if !req.DisplayErrors {
		res.Details = nil
	}
	recordResult(res)

	im.logger.Info("import.complete",
		"collection", coll.Name,
		"staged", staged,
		"created", res.Created,
		"updated", res.Updated,
		"replaced", res.Replaced,
		"ignored", res.Ignored,
		"errors", res.Errors,
		"duration", time.Since(start),
	)
	return res, nil
}

// stage reads req.Body line by line and writes every surviving document to
// w. It returns the number of staged documents.
func (im *Importer) stage(coll *specs.Collection, req Request, w io.Writer, res *Result) (int, error) {
	fields := plainEdge
	if coll.Delta {
		fields = deltaEdge
	}

	in := bufio.NewReader(req.Body)
	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	var (
		line   int
		offset int // byte offset of the current line in the input
		staged int
	)
	for {
		raw, readErr := in.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			recordLine()
			doc, err := im.prepare(coll, fields, raw, line, offset)
			switch {
			case err != nil:
				res.Errors++
				res.Details = append(res.Details, detailFor(line, err))
			case doc == nil:
				res.Empty++
				recordEmptyLine()
			default:
				if err := enc.Encode(doc); err != nil {
					return 0, errors.NewInternalError("Cannot write staging file", err)
				}
				staged++
			}
			offset += len(raw)
			if req.Progress != nil {
				req.Progress(line)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, errors.Wrap(errors.KindInvalidParameters, "Cannot read request body", readErr).
				WithDetail("line", line)
		}
	}
	if err := out.Flush(); err != nil {
		return 0, errors.NewInternalError("Cannot write staging file", err)
	}
	return staged, nil
}

// prepare parses, validates and augments one input line. A blank line
// yields (nil, nil).
func (im *Importer) prepare(coll *specs.Collection, fields edgeFields, raw []byte, line, offset int) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	lead := bytes.Index(raw, trimmed[:1])

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		recordRejected("parse")
		return nil, parseError(line, offset+lead, err)
	}
	if end := int(dec.InputOffset()); len(bytes.TrimSpace(trimmed[end:])) > 0 {
		recordRejected("parse")
		return nil, errors.NewParseError(fmt.Sprintf("Unexpected data after JSON value on line %d", line),
			line, lead+end+1, offset+lead+end, nil)
	}
	if _, ok := v.(map[string]any); !ok {
		recordRejected("parse")
		return nil, errors.NewParseError(fmt.Sprintf("Line %d is not a JSON object", line), line, lead+1, offset+lead, nil)
	}

	validated, err := coll.Validate(v)
	if err != nil {
		recordRejected("validation")
		return nil, err
	}
	doc := validated.(map[string]any)
	if coll.IsEdge() {
		assignEdgeKey(doc, fields)
	}
	doc[UpdatedAtField] = im.now().UnixMilli()
	return doc, nil
}

func parseError(line, lineStart int, err error) error {
	var off int64
	switch t := err.(type) {
	case *json.SyntaxError:
		off = t.Offset
	case *json.UnmarshalTypeError:
		off = t.Offset
	}
	return errors.NewParseError(fmt.Sprintf("Malformed JSON on line %d", line),
		line, int(off)+1, lineStart+int(off), err)
}

func detailFor(line int, err error) Detail {
	d := Detail{Line: line, Kind: errors.KindOf(err).String(), Message: err.Error()}
	if e, ok := errors.As(err); ok {
		d.Error = e.Details
	}
	return d
}

// merge folds the backend's counts into res. The bulk import endpoint counts
// replaced documents as updated; under the replace policy they are reported
// as replaced.
func merge(res *Result, resp *arango.ImportResponse, policy string, details bool) {
	res.Created += resp.Created
	res.Ignored += resp.Ignored
	res.Empty += resp.Empty
	res.Errors += resp.Errors
	if policy == OnDuplicateReplace {
		res.Replaced += resp.Updated
	} else {
		res.Updated += resp.Updated
	}
	if !details {
		return
	}
	for _, msg := range resp.Details {
		res.Details = append(res.Details, Detail{Kind: errors.KindBackingStore.String(), Message: msg})
	}
}
