// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package output writes machine-readable command results.
//
// Every relengine command that accepts --json prints its result through
// JSON. Errors are not written here; errors.FatalError renders them.
//
//	res, err := im.Import(ctx, store, req)
//	if err != nil {
//	    errors.FatalError(err, true)
//	}
//	if err := output.JSON(res); err != nil {
//	    errors.FatalError(err, true)
//	}
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSON writes data as indented JSON to stdout.
func JSON(data any) error {
	return JSONTo(os.Stdout, data)
}

// JSONTo writes data as indented JSON to w. HTML characters are not
// escaped, so AQL such as "x.a < @b" prints as written.
func JSONTo(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("JSON encoding failed: %w", err)
	}
	return nil
}
