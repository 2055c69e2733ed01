// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package specs

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
)

// Registry holds the current Store. Readers take a snapshot with Current;
// Reload builds a new Store and swaps it in only if it loads cleanly.
type Registry struct {
	mu     sync.Mutex // serializes reloads
	fs     billy.Filesystem
	logger *slog.Logger
	store  atomic.Pointer[Store]
}

// NewRegistry loads the spec tree rooted at fs.
func NewRegistry(fs billy.Filesystem, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{fs: fs, logger: logger}
	if _, err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Current returns the active Store.
func (r *Registry) Current() *Store {
	return r.store.Load()
}

// Reload re-reads the registry's filesystem.
func (r *Registry) Reload() (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload(r.fs)
}

// ReloadFrom loads a spec tree from fs and makes it current. Later calls
// to Reload read fs as well. On error the active Store is unchanged.
func (r *Registry) ReloadFrom(fs billy.Filesystem) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload(fs)
}

func (r *Registry) reload(fs billy.Filesystem) (*Store, error) {
	s, err := Load(fs, r.logger)
	if err != nil {
		r.logger.Warn("specs.reload.failed", "err", err)
		return nil, err
	}
	r.fs = fs
	r.store.Store(s)
	return s, nil
}
