// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kbase/relation-engine-sub000/internal/errors"
	"github.com/kbase/relation-engine-sub000/internal/ui"
	"github.com/kbase/relation-engine-sub000/pkg/jsonschema"
	"github.com/kbase/relation-engine-sub000/pkg/specs"
)

type validateOptions struct {
	Collection string
	Schema     string
	At         string
	Path       string
}

// runValidate checks one JSON or YAML document against a collection schema
// from the spec tree or against a schema file, and prints the document with
// defaults filled in.
func runValidate(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	var opts validateOptions
	fs.StringVarP(&opts.Collection, "collection", "c", "", "Validate against this collection's schema")
	fs.StringVar(&opts.Schema, "schema", "", "Validate against a JSON or YAML schema file")
	fs.StringVar(&opts.At, "at", "", "JSON pointer to a sub-schema of --schema, e.g. /params")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: relengine validate (--collection NAME | --schema FILE) [options] DOCUMENT

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	opts.Path = fs.Arg(0)

	var store *specs.Store
	if opts.Collection != "" {
		a, err := newApp(globals)
		if err != nil {
			errors.FatalError(err, globals.JSON)
		}
		registry, err := a.registry()
		if err != nil {
			errors.FatalError(err, globals.JSON)
		}
		store = registry.Current()
	}

	doc, err := validateDocument(opts, store)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if !globals.Quiet {
		ui.Successf("%s is valid", opts.Path)
	}
	printJSON(doc, globals)
}

// validateDocument returns the default-filled document. store is only
// consulted for --collection.
func validateDocument(opts validateOptions, store *specs.Store) (any, error) {
	if (opts.Collection == "") == (opts.Schema == "") {
		return nil, errors.NewInvalidParameters("Pass exactly one of --collection or --schema")
	}
	if opts.Collection != "" && opts.At != "" {
		return nil, errors.NewInvalidParameters("--at only applies to --schema")
	}

	if opts.Schema != "" {
		schema, err := jsonschema.Load(jsonschema.LoadOptions{File: opts.Schema})
		if err != nil {
			return nil, err
		}
		return schema.Validate(jsonschema.ValidateOptions{File: opts.Path, At: opts.At})
	}

	coll, err := store.Collection(opts.Collection)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.ReadFile(opts.Path)
	if err != nil {
		return nil, err
	}
	return coll.Validate(doc)
}
