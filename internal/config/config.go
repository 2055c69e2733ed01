// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config builds the immutable process configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. The resulting Config is a plain value; it is built
// once in main and handed to every component that needs it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

const (
	// DefaultMaxBatchSize caps the rows returned per query page.
	DefaultMaxBatchSize = 10000

	// DefaultMemoryLimit is the per-query memory ceiling passed to the database, in bytes.
	DefaultMemoryLimit int64 = 16_000_000_000

	// DefaultAdminRole grants ad-hoc queries and spec updates.
	DefaultAdminRole = "RE_ADMIN"
)

// Config is the complete process configuration.
type Config struct {
	HTTP   HTTPConfig   `yaml:"http"`
	DB     DBConfig     `yaml:"db"`
	Auth   AuthConfig   `yaml:"auth"`
	Specs  SpecsConfig  `yaml:"specs"`
	Import ImportConfig `yaml:"import"`
	Query  QueryConfig  `yaml:"query"`
	Log    LogConfig    `yaml:"log"`
}

// HTTPConfig configures the API listener and outbound HTTP clients.
type HTTPConfig struct {
	Addr string `yaml:"addr"`

	// ClientTimeout bounds calls to the database and auth services.
	// Zero means no timeout.
	ClientTimeout time.Duration `yaml:"client_timeout"`
}

// DBConfig locates the backing ArangoDB database.
type DBConfig struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// AuthConfig locates the identity and workspace services.
type AuthConfig struct {
	URL          string   `yaml:"url"`
	WorkspaceURL string   `yaml:"workspace_url"`
	AdminRoles   []string `yaml:"admin_roles"`
}

// SpecsConfig locates the declarative spec tree.
type SpecsConfig struct {
	Path       string `yaml:"path"`
	ReleaseURL string `yaml:"release_url"`
}

// ImportConfig configures the bulk importer.
type ImportConfig struct {
	// TempDir holds staging files. Empty uses os.TempDir().
	TempDir string `yaml:"temp_dir"`
}

// QueryConfig configures the query proxy.
type QueryConfig struct {
	MaxBatchSize int   `yaml:"max_batch_size"`
	MemoryLimit  int64 `yaml:"memory_limit"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":5000"},
		DB: DBConfig{
			URL:  "http://localhost:8529",
			Name: "_system",
			User: "root",
		},
		Auth: AuthConfig{
			URL:          "https://kbase.us/services/auth",
			WorkspaceURL: "https://kbase.us/services/ws",
			AdminRoles:   []string{DefaultAdminRole},
		},
		Specs: SpecsConfig{Path: "/spec/repo"},
		Query: QueryConfig{
			MaxBatchSize: DefaultMaxBatchSize,
			MemoryLimit:  DefaultMemoryLimit,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), and the process environment.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.NewConfigError(
				"Cannot read relengine configuration",
				fmt.Sprintf("Failed to read %s", path),
				"Check the --config path or omit it to use environment variables only",
				err,
			)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.NewConfigError(
				"Cannot parse relengine configuration",
				fmt.Sprintf("%s is not valid YAML", path),
				"Fix the syntax error reported above",
				err,
			)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("DB_URL", &cfg.DB.URL)
	str("DB_NAME", &cfg.DB.Name)
	str("DB_USER", &cfg.DB.User)
	str("DB_PASS", &cfg.DB.Password)
	str("KBASE_AUTH_URL", &cfg.Auth.URL)
	str("KBASE_WORKSPACE_URL", &cfg.Auth.WorkspaceURL)
	str("SPEC_PATH", &cfg.Specs.Path)
	str("SPEC_RELEASE_URL", &cfg.Specs.ReleaseURL)
	str("IMPORT_TEMP_DIR", &cfg.Import.TempDir)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v, ok := lookup("ADMIN_ROLES"); ok && v != "" {
		var roles []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		cfg.Auth.AdminRoles = roles
	}
	if v, ok := lookup("HTTP_CLIENT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.NewConfigError("Invalid HTTP_CLIENT_TIMEOUT", err.Error(), "Use a Go duration such as 30s or 2m", err)
		}
		cfg.HTTP.ClientTimeout = d
	}
	if v, ok := lookup("QUERY_MAX_BATCH_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewConfigError("Invalid QUERY_MAX_BATCH_SIZE", err.Error(), "Use a positive integer", err)
		}
		cfg.Query.MaxBatchSize = n
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	switch {
	case c.DB.URL == "":
		return errors.NewConfigError("Invalid configuration", "db.url is empty", "Set DB_URL", nil)
	case c.DB.Name == "":
		return errors.NewConfigError("Invalid configuration", "db.name is empty", "Set DB_NAME", nil)
	case c.Specs.Path == "":
		return errors.NewConfigError("Invalid configuration", "specs.path is empty", "Set SPEC_PATH", nil)
	case c.Query.MaxBatchSize <= 0:
		return errors.NewConfigError("Invalid configuration", "query.max_batch_size must be positive", "Set QUERY_MAX_BATCH_SIZE", nil)
	case c.Query.MemoryLimit <= 0:
		return errors.NewConfigError("Invalid configuration", "query.memory_limit must be positive", "Set query.memory_limit", nil)
	case len(c.Auth.AdminRoles) == 0:
		return errors.NewConfigError("Invalid configuration", "auth.admin_roles is empty", "Set ADMIN_ROLES", nil)
	}
	if c.HTTP.ClientTimeout < 0 {
		return errors.NewConfigError("Invalid configuration", "http.client_timeout is negative", "Use 0 to disable the timeout", nil)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return errors.NewConfigError("Invalid configuration", fmt.Sprintf("unknown log format %q", c.Log.Format), "Use text or json", nil)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
