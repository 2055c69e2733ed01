// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package specs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

// maxReleaseSize bounds the uncompressed size of a spec release.
const maxReleaseSize = 256 << 20

// ReleaseFetcher downloads spec releases published as .tar.gz archives.
type ReleaseFetcher struct {
	http   *http.Client
	logger *slog.Logger
}

// NewReleaseFetcher creates a fetcher. A nil client uses one with timeout.
func NewReleaseFetcher(hc *http.Client, timeout time.Duration, logger *slog.Logger) *ReleaseFetcher {
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseFetcher{http: hc, logger: logger}
}

// Fetch downloads and unpacks the archive at url into memory. When the
// archive holds a "spec" directory (release tarballs usually wrap the tree
// in "<repo>-<tag>/spec"), the returned filesystem is rooted there.
func (f *ReleaseFetcher) Fetch(ctx context.Context, url string) (billy.Filesystem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewInvalidParameters(fmt.Sprintf("Invalid release URL: %s", url)).
			WithDetail("release_url", url)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "Cannot download spec release", err).
			WithDetail("release_url", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.KindInternal, "Cannot download spec release").
			WithCause(fmt.Sprintf("server returned %d", resp.StatusCode)).
			WithDetail("release_url", url)
	}

	fs, files, err := unpack(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindParse, "Malformed spec release archive", err).
			WithDetail("release_url", url)
	}
	root := specRoot(files)
	f.logger.Info("specs.fetch.complete", "release_url", url, "files", len(files), "root", root)
	if root == "" {
		return fs, nil
	}
	return fs.Chroot(root)
}

func unpack(r io.Reader) (billy.Filesystem, []string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer gz.Close()

	fs := memfs.New()
	var (
		files []string
		total int64
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "/"))
		if name == "." || strings.HasPrefix(name, "../") {
			continue
		}
		total += hdr.Size
		if total > maxReleaseSize {
			return nil, nil, fmt.Errorf("archive exceeds %d bytes", maxReleaseSize)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, err
		}
		if err := util.WriteFile(fs, name, data, 0o644); err != nil {
			return nil, nil, err
		}
		files = append(files, name)
	}
	return fs, files, nil
}

// specRoot returns the shallowest directory named "spec" among files, or
// "" when there is none.
func specRoot(files []string) string {
	best := ""
	for _, f := range files {
		parts := strings.Split(path.Dir(f), "/")
		for i, p := range parts {
			if p != "spec" {
				continue
			}
			dir := strings.Join(parts[:i+1], "/")
			if best == "" || strings.Count(dir, "/") < strings.Count(best, "/") {
				best = dir
			}
			break
		}
	}
	return best
}
