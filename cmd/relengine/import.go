// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	flag "github.com/spf13/pflag"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/internal/ui"
	"github.com/kbase/relation-engine-sub000/pkg/ingestion"
)

// importOptions are the flags of the import command.
type importOptions struct {
	Collection    string
	OnDuplicate   string
	Overwrite     bool
	DisplayErrors bool
	Path          string // "-" reads stdin
}

// runImport bulk loads a JSON-lines file straight into the database, with
// the same validation, edge keys and duplicate handling as PUT /documents.
func runImport(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	var opts importOptions
	fs.StringVarP(&opts.Collection, "collection", "c", "", "Target collection (required)")
	fs.StringVar(&opts.OnDuplicate, "on-duplicate", ingestion.OnDuplicateError, "Duplicate key policy: error, update, replace or ignore")
	fs.BoolVar(&opts.Overwrite, "overwrite", false, "Truncate the collection before loading")
	fs.BoolVar(&opts.DisplayErrors, "display-errors", false, "Report every rejected line")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: relengine import [options] FILE

Validates every line of FILE against the collection schema and loads the
valid documents. Use - to read standard input.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  relengine import -c ncbi_taxon taxa.jsonl
  relengine import -c ncbi_child_of_taxon --on-duplicate replace edges.jsonl
  zcat taxa.jsonl.gz | relengine import -c ncbi_taxon -
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if opts.Collection == "" || fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	opts.Path = fs.Arg(0)

	a, err := newApp(globals)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := a.importFile(ctx, opts, NewProgressConfig(globals))
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if globals.JSON {
		printJSON(res, globals)
	} else {
		printImportResult(opts.Collection, res)
	}
	if res.Error {
		os.Exit(errors.ExitInput)
	}
}

func (a *app) importFile(ctx context.Context, opts importOptions, progress ProgressConfig) (*ingestion.Result, error) {
	registry, err := a.registry()
	if err != nil {
		return nil, err
	}

	var body io.Reader
	req := ingestion.Request{
		Collection:    opts.Collection,
		OnDuplicate:   opts.OnDuplicate,
		Overwrite:     opts.Overwrite,
		DisplayErrors: opts.DisplayErrors,
	}
	if opts.Path == "-" {
		body = os.Stdin
		if spin := NewSpinner(progress, "Validating documents"); spin != nil {
			defer spin.Finish()
			req.Progress = func(int) { _ = spin.Add(1) }
		}
	} else {
		f, err := os.Open(opts.Path)
		if err != nil {
			return nil, errors.Wrap(errors.KindInvalidParameters, "Cannot open import file", err).
				WithDetail("file", opts.Path)
		}
		defer f.Close()
		body = f
		if info, err := f.Stat(); err == nil {
			if bar := NewProgressBar(progress, info.Size(), "Validating documents"); bar != nil {
				defer bar.Finish()
				body = &progressReader{r: f, bar: bar}
			}
		}
	}
	req.Body = body

	im := ingestion.NewImporter(a.db, ingestion.Config{TempDir: a.cfg.Import.TempDir, Logger: a.logger})
	return im.Import(ctx, registry.Current(), req)
}

func printImportResult(collection string, res *ingestion.Result) {
	ui.Header("Import into " + collection)
	fmt.Printf("  %s %s\n", ui.Label("Created:"), ui.CountText(res.Created))
	fmt.Printf("  %s %s\n", ui.Label("Updated:"), ui.CountText(res.Updated))
	fmt.Printf("  %s %s\n", ui.Label("Replaced:"), ui.CountText(res.Replaced))
	fmt.Printf("  %s %s\n", ui.Label("Ignored:"), ui.CountText(res.Ignored))
	fmt.Printf("  %s %s\n", ui.Label("Empty:"), ui.CountText(res.Empty))
	fmt.Printf("  %s %s\n", ui.Label("Errors:"), ui.CountText(res.Errors))
	for _, d := range res.Details {
		if d.Line > 0 {
			ui.Errorf("line %d: %s", d.Line, d.Message)
		} else {
			ui.Error(d.Message)
		}
	}
	if res.Error {
		ui.Warningf("%d documents were rejected", res.Errors)
	} else {
		ui.Success("Import complete")
	}
}
