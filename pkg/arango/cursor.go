// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package arango

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// CursorRequest is the body of POST /_api/cursor.
type CursorRequest struct {
	Query       string         `json:"query"`
	BindVars    map[string]any `json:"bindVars,omitempty"`
	BatchSize   int            `json:"batchSize,omitempty"`
	MemoryLimit int64          `json:"memoryLimit,omitempty"`
	Count       bool           `json:"count"`
	Options     *CursorOptions `json:"options,omitempty"`
}

// CursorOptions holds the optional cursor settings.
type CursorOptions struct {
	FullCount bool `json:"fullCount,omitempty"`
}

// CursorResponse is one page of query results.
type CursorResponse struct {
	Result  []json.RawMessage `json:"result"`
	HasMore bool              `json:"hasMore"`
	ID      string            `json:"id,omitempty"`
	Count   *int64            `json:"count,omitempty"`
	Cached  bool              `json:"cached"`
	Extra   struct {
		Stats map[string]any `json:"stats"`
	} `json:"extra"`
}

// Query creates a cursor and returns its first page. Cursors go over the
// driver connection as plain requests because the driver's Cursor reads
// across batch boundaries and cannot be resumed by id from a later request.
func (c *Client) Query(ctx context.Context, req CursorRequest) (*CursorResponse, error) {
	var resp CursorResponse
	if err := c.do(ctx, http.MethodPost, "_api/cursor", nil, req, &resp, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NextBatch fetches the next page of an open cursor. The server drops a
// cursor once its last page has been returned; asking again fails with
// IsCursorNotFound.
func (c *Client) NextBatch(ctx context.Context, id string) (*CursorResponse, error) {
	var resp CursorResponse
	if err := c.do(ctx, http.MethodPut, "_api/cursor/"+url.PathEscape(id), nil, nil, &resp, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &resp, nil
}
