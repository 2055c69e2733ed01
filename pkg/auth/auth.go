// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth wraps the two external collaborators that decide what a
// caller may do: the identity service (token -> custom roles) and the
// workspace service (token -> readable workspace ids).
//
// Nothing is cached. Every request asks again with the caller's token.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

// Context is what one request learned about its caller.
type Context struct {
	Token        string
	Roles        []string
	WorkspaceIDs []int
}

// Config locates the collaborators.
type Config struct {
	AuthURL      string
	WorkspaceURL string
	AdminRoles   []string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client calls the identity and workspace services.
type Client struct {
	authURL      string
	workspaceURL string
	adminRoles   []string
	http         *http.Client
	logger       *slog.Logger
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		authURL:      strings.TrimRight(cfg.AuthURL, "/"),
		workspaceURL: cfg.WorkspaceURL,
		adminRoles:   cfg.AdminRoles,
		http:         hc,
		logger:       logger,
	}
}

// TokenFromHeader extracts a token from an Authorization header value,
// accepting both bare tokens and "Bearer <token>".
func TokenFromHeader(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

func (c *Client) meURL() string { return c.authURL + "/api/V2/me" }

// Roles returns the caller's custom roles.
func (c *Client) Roles(ctx context.Context, token string) ([]string, error) {
	if token == "" {
		return nil, errors.NewUnauthorized("Missing authorization token", c.meURL(), nil).
			WithFix("Send the token in the Authorization header")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.meURL(), nil)
	if err != nil {
		return nil, errors.NewInternalError("Cannot build auth request", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewUnauthorized("Auth service unreachable", c.meURL(), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewUnauthorized("Invalid token", c.meURL(), nil).
			WithCause(fmt.Sprintf("auth service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithDetail("auth_status", resp.StatusCode)
	}

	var me struct {
		User        string   `json:"user"`
		CustomRoles []string `json:"customroles"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, errors.NewUnauthorized("Malformed auth service response", c.meURL(), err)
	}
	c.logger.Debug("auth.roles", "user", me.User, "roles", len(me.CustomRoles))
	return me.CustomRoles, nil
}

// RequireAdmin fails with Unauthorized unless the token holds one of the
// configured admin roles.
func (c *Client) RequireAdmin(ctx context.Context, token string) (*Context, error) {
	roles, err := c.Roles(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, r := range c.adminRoles {
		if slices.Contains(roles, r) {
			return &Context{Token: token, Roles: roles}, nil
		}
	}
	return nil, errors.NewUnauthorized("Admin role required", c.meURL(), nil).
		WithDetail("required_roles", c.adminRoles)
}

// WorkspaceIDs returns the ids of every workspace the token may read,
// public workspaces included. An empty token yields public workspaces only.
func (c *Client) WorkspaceIDs(ctx context.Context, token string) ([]int, error) {
	payload, _ := json.Marshal(map[string]any{
		"method":  "Workspace.list_workspace_ids",
		"version": "1.1",
		"params":  []any{map[string]any{"perm": "r", "excludeGlobal": 0}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.workspaceURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewInternalError("Cannot build workspace request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewUnauthorized("Workspace service unreachable", c.workspaceURL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var rpc struct {
		Result []struct {
			Workspaces []int `json:"workspaces"`
			Pub        []int `json:"pub"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpc); err != nil {
		return nil, errors.NewUnauthorized("Malformed workspace service response", c.workspaceURL, err).
			WithDetail("workspace_status", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || rpc.Error != nil || len(rpc.Result) == 0 {
		msg := strings.TrimSpace(string(body))
		if rpc.Error != nil {
			msg = rpc.Error.Message
		}
		return nil, errors.NewUnauthorized("Workspace lookup failed", c.workspaceURL, nil).
			WithCause(msg).
			WithDetail("workspace_status", resp.StatusCode)
	}

	ids := append([]int{}, rpc.Result[0].Workspaces...)
	for _, id := range rpc.Result[0].Pub {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// URL returns the identity endpoint consulted for role checks.
func (c *Client) URL() string { return c.meURL() }
