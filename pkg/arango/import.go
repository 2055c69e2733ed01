// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package arango

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strconv"

	driver "github.com/arangodb/go-driver"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

// Duplicate policies accepted by the bulk import endpoint.
const (
	OnDuplicateError   = string(driver.ImportOnDuplicateError)
	OnDuplicateUpdate  = string(driver.ImportOnDuplicateUpdate)
	OnDuplicateReplace = string(driver.ImportOnDuplicateReplace)
	OnDuplicateIgnore  = string(driver.ImportOnDuplicateIgnore)
)

// DefaultImportBatchSize is the number of documents sent per import call.
// The driver encodes a whole call in memory, so larger inputs are sent in
// several calls.
const DefaultImportBatchSize = 50000

// ImportOptions configures a bulk import.
type ImportOptions struct {
	Collection  string
	OnDuplicate string
	Details     bool
}

// ImportResponse is the server's summary of a bulk import. With the
// replace policy, replaced documents are counted in Updated.
type ImportResponse struct {
	Error   bool     `json:"error"`
	Created int      `json:"created"`
	Errors  int      `json:"errors"`
	Empty   int      `json:"empty"`
	Updated int      `json:"updated"`
	Ignored int      `json:"ignored"`
	Details []string `json:"details,omitempty"`
}

// Import loads newline-delimited JSON documents into a collection. Blank
// lines are skipped. Detail positions count documents from the start of
// body, across calls.
func (c *Client) Import(ctx context.Context, opts ImportOptions, body io.Reader) (*ImportResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	db, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	col, err := db.Collection(ctx, opts.Collection)
	if err != nil {
		return nil, c.driverError(err)
	}

	var (
		total  ImportResponse
		batch  = make([]json.RawMessage, 0, min(c.batchSize, 1024))
		offset int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var details []string
		callCtx := ctx
		if opts.Details {
			callCtx = driver.WithImportDetails(ctx, &details)
		}
		stats, err := col.ImportDocuments(callCtx, batch, &driver.ImportDocumentOptions{
			OnDuplicate: driver.ImportOnDuplicate(opts.OnDuplicate),
		})
		if err != nil {
			return c.driverError(err)
		}
		total.Created += int(stats.Created)
		total.Errors += int(stats.Errors)
		total.Empty += int(stats.Empty)
		total.Updated += int(stats.Updated)
		total.Ignored += int(stats.Ignored)
		total.Error = total.Error || stats.HasError
		for _, d := range details {
			total.Details = append(total.Details, rebasePosition(d, offset))
		}
		c.logger.Debug("arango.import.batch",
			"collection", opts.Collection,
			"documents", len(batch),
			"created", stats.Created,
			"errors", stats.Errors,
		)
		offset += len(batch)
		batch = batch[:0]
		return nil
	}

	r := bufio.NewReader(body)
	for {
		line, readErr := r.ReadBytes('\n')
		if doc := bytes.TrimSpace(line); len(doc) > 0 {
			batch = append(batch, json.RawMessage(doc))
			if len(batch) >= c.batchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, errors.NewInternalError("Cannot read import body", readErr)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return &total, nil
}

var positionRe = regexp.MustCompile(`^at position (\d+)`)

// rebasePosition shifts the "at position N" prefix of a server detail by
// the number of documents sent in earlier calls.
func rebasePosition(detail string, offset int) string {
	if offset == 0 {
		return detail
	}
	m := positionRe.FindStringSubmatchIndex(detail)
	if m == nil {
		return detail
	}
	n, err := strconv.Atoi(detail[m[2]:m[3]])
	if err != nil {
		return detail
	}
	return detail[:m[2]] + strconv.Itoa(n+offset) + detail[m[3]:]
}

// Truncate removes every document from a collection.
func (c *Client) Truncate(ctx context.Context, collection string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	db, err := c.handle(ctx)
	if err != nil {
		return err
	}
	col, err := db.Collection(ctx, collection)
	if err != nil {
		return c.driverError(err)
	}
	if err := col.Truncate(ctx); err != nil {
		return c.driverError(err)
	}
	return nil
}
