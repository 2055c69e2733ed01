// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package arango is the access layer's view of an ArangoDB database, built
// on the official Go driver.
//
// Calls the driver models directly (version, collection creation, truncate,
// bulk import) go through its high-level API. Cursor continuation by id and
// the index, view and analyzer endpoints, whose bodies are compared as raw
// JSON during reconciliation, are sent as requests on the driver's
// connection. Every failure is returned as a backing store error carrying
// the server's errorNum and errorMessage.
package arango

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	driver "github.com/arangodb/go-driver"
	driverhttp "github.com/arangodb/go-driver/http"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

// Server error numbers the access layer reacts to.
const (
	ErrNumDataSourceNotFound = 1203
	ErrNumDuplicateName      = 1207
	ErrNumCursorNotFound     = 1600
)

// Config locates a database.
type Config struct {
	URL      string
	Database string
	User     string
	Password string

	// Timeout bounds every request. Zero means no timeout.
	Timeout time.Duration

	// Transport overrides the driver's HTTP transport.
	Transport http.RoundTripper

	// ImportBatchSize caps the documents sent per bulk import call. Zero
	// uses DefaultImportBatchSize.
	ImportBatchSize int

	Logger *slog.Logger
}

// Client talks to one database.
type Client struct {
	endpoint  string
	database  string
	timeout   time.Duration
	batchSize int
	client    driver.Client
	conn      driver.Connection
	setupErr  error
	logger    *slog.Logger

	mu sync.Mutex
	db driver.Database
}

// NewClient creates a client. It does not contact the server; invalid
// connection settings are reported by the first call.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db := cfg.Database
	if db == "" {
		db = "_system"
	}
	batch := cfg.ImportBatchSize
	if batch <= 0 {
		batch = DefaultImportBatchSize
	}
	c := &Client{
		endpoint:  strings.TrimRight(cfg.URL, "/"),
		database:  db,
		timeout:   cfg.Timeout,
		batchSize: batch,
		logger:    logger,
	}

	conn, err := driverhttp.NewConnection(driverhttp.ConnectionConfig{
		Endpoints: []string{c.endpoint},
		Transport: cfg.Transport,
	})
	if err == nil {
		cc := driver.ClientConfig{Connection: conn}
		if cfg.User != "" {
			cc.Authentication = driver.BasicAuthentication(cfg.User, cfg.Password)
		}
		c.client, err = driver.NewClient(cc)
	}
	if err != nil {
		c.setupErr = errors.NewConfigError("Invalid database connection settings", err.Error(),
			"Check DB_URL, DB_USER and DB_PASS", err).WithDetail("arango_url", c.endpoint)
		return c
	}
	c.conn = c.client.Connection()
	return c
}

// Database returns the database name requests are scoped to.
func (c *Client) Database() string { return c.database }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// handle returns the driver's database handle, looking it up on first use.
func (c *Client) handle(ctx context.Context) (driver.Database, error) {
	if c.setupErr != nil {
		return nil, c.setupErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := c.client.Database(ctx, c.database)
	if err != nil {
		return nil, c.driverError(err)
	}
	c.db = db
	return db, nil
}

// do sends a request on the driver connection and decodes a response with
// one of the accepted status codes into out (if non-nil). p is relative to
// the database, e.g. "_api/cursor".
func (c *Client) do(ctx context.Context, method, p string, query url.Values, body, out any, accepted ...int) error {
	if c.setupErr != nil {
		return c.setupErr
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.conn.NewRequest(method, path.Join("_db", url.PathEscape(c.database), p))
	if err != nil {
		return errors.NewInternalError("Cannot build database request", err)
	}
	for k, vs := range query {
		if len(vs) > 0 {
			req.SetQuery(k, vs[0])
		}
	}
	if body != nil {
		if _, err := req.SetBody(body); err != nil {
			return errors.NewInternalError("Cannot encode database request", err)
		}
	}

	start := time.Now()
	resp, err := c.conn.Do(ctx, req)
	if err != nil {
		return c.driverError(err)
	}
	c.logger.Debug("arango.request",
		"method", method,
		"path", p,
		"status", resp.StatusCode(),
		"duration", time.Since(start),
	)

	if err := resp.CheckStatus(accepted...); err != nil {
		return c.driverError(err)
	}
	if out == nil {
		return nil
	}
	if err := resp.ParseBody("", out); err != nil {
		return errors.Wrap(errors.KindBackingStore, "Malformed database response", err).
			WithDetail("arango_status", resp.StatusCode())
	}
	return nil
}

// driverError turns a driver failure into a backing store error. Server
// answers keep their errorNum; anything else means the server could not be
// talked to.
func (c *Client) driverError(err error) error {
	if ae, ok := driver.AsArangoError(err); ok {
		return responseError(ae)
	}
	return errors.Wrap(errors.KindBackingStore, "Database unreachable", err).
		WithDetail("arango_url", c.endpoint)
}

func responseError(ae driver.ArangoError) error {
	msg := ae.ErrorMessage
	if ae.ErrorNum == ErrNumCursorNotFound {
		msg = "cursor not found"
	}
	return errors.NewBackingStoreError(
		fmt.Sprintf("Database error: %s", msg),
		ae.Code, ae.ErrorNum, ae.ErrorMessage, nil,
	)
}

// errorNum returns the server error number carried by err, or 0.
func errorNum(err error) int {
	e, ok := errors.As(err)
	if !ok || e.Kind != errors.KindBackingStore {
		return 0
	}
	n, _ := e.Details["arango_error_num"].(int)
	return n
}

// IsCursorNotFound reports whether err is the server's answer to a
// continuation on an exhausted or expired cursor.
func IsCursorNotFound(err error) bool { return errorNum(err) == ErrNumCursorNotFound }

// IsDuplicateName reports whether err rejects a create for an existing name.
func IsDuplicateName(err error) bool { return errorNum(err) == ErrNumDuplicateName }

// IsNotFound reports whether err names an unknown collection or view.
func IsNotFound(err error) bool { return errorNum(err) == ErrNumDataSourceNotFound }

// VersionInfo is returned by GET /_api/version.
type VersionInfo struct {
	Server  string `json:"server"`
	Version string `json:"version"`
	License string `json:"license"`
}

// Version reports the server version. It doubles as a liveness check.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	if c.setupErr != nil {
		return nil, c.setupErr
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	v, err := c.client.Version(ctx)
	if err != nil {
		return nil, c.driverError(err)
	}
	return &VersionInfo{Server: v.Server, Version: string(v.Version), License: v.License}, nil
}
