// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONTo_Indented(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"collection": "ncbi_taxon", "created": 42}

	if err := JSONTo(&buf, data); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "  \"collection\": \"ncbi_taxon\"") {
		t.Errorf("expected 2-space indentation, got: %s", out)
	}
	if !strings.Contains(out, `"created": 42`) {
		t.Errorf("missing created field, got: %s", out)
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Errorf("expected trailing newline, got: %q", out)
	}
}

func TestJSONTo_NoHTMLEscaping(t *testing.T) {
	var buf bytes.Buffer
	if err := JSONTo(&buf, map[string]string{"query": "FOR t IN ncbi_taxon FILTER t.rank < @r && t.x > 1 RETURN t"}); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}
	if !strings.Contains(buf.String(), "t.rank < @r && t.x > 1") {
		t.Errorf("query was escaped: %s", buf.String())
	}
}

func TestJSONTo_StructTags(t *testing.T) {
	type summary struct {
		Created int      `json:"created"`
		Errors  int      `json:"errors"`
		Details []string `json:"details,omitempty"`
	}
	var buf bytes.Buffer
	if err := JSONTo(&buf, summary{Created: 3}); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"errors": 0`) {
		t.Errorf("zero value dropped: %s", out)
	}
	if strings.Contains(out, "details") {
		t.Errorf("omitempty field present: %s", out)
	}
}

func TestJSONTo_Unencodable(t *testing.T) {
	var buf bytes.Buffer
	err := JSONTo(&buf, map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Fatal("expected an error for a channel value")
	}
	if !strings.Contains(err.Error(), "JSON encoding failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestJSONTo_Nil(t *testing.T) {
	var buf bytes.Buffer
	if err := JSONTo(&buf, nil); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}
	if buf.String() != "null\n" {
		t.Errorf("got %q, want null", buf.String())
	}
}
