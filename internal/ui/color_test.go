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

package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
)

// capture redirects Out with colors off for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	origOut, origNoColor := Out, color.NoColor
	t.Cleanup(func() { Out, color.NoColor = origOut, origNoColor })

	var buf bytes.Buffer
	Out = &buf
	color.NoColor = true
	return &buf
}

func TestInitColors(t *testing.T) {
	original := color.NoColor
	defer func() { color.NoColor = original }()

	InitColors(true)
	if !color.NoColor {
		t.Error("InitColors(true) should disable colors")
	}
	InitColors(false)
	if color.NoColor {
		t.Error("InitColors(false) should enable colors")
	}
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name string
		call func()
		want string
	}{
		{"Success", func() { Success("Import complete") }, "✓ Import complete\n"},
		{"Successf", func() { Successf("%s is valid", "doc.json") }, "✓ doc.json is valid\n"},
		{"Warningf", func() { Warningf("%d documents were rejected", 3) }, "⚠ 3 documents were rejected\n"},
		{"Error", func() { Error("cursor not found") }, "✗ cursor not found\n"},
		{"Errorf", func() { Errorf("line %d: %s", 4, "bad") }, "✗ line 4: bad\n"},
		{"SubHeader", func() { SubHeader("Created:") }, "Created:\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			tt.call()
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestHeader(t *testing.T) {
	buf := capture(t)
	Header("Import into ncbi_taxon")
	want := "Import into ncbi_taxon\n======================\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestInlineHelpers(t *testing.T) {
	capture(t)
	if got := Label("Created:"); got != "Created:" {
		t.Errorf("Label() = %q", got)
	}
	if got := Label(""); got != "" {
		t.Errorf("Label(\"\") = %q", got)
	}
	if got := CountText(0); got != "0" {
		t.Errorf("CountText(0) = %q", got)
	}
	if got := CountText(-1); got != "-1" {
		t.Errorf("CountText(-1) = %q", got)
	}
}
