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

// Package main implements the relengine CLI: the HTTP API server and the
// offline tools that share its spec tree and database client.
//
// Usage:
//
//	relengine serve                          Start the HTTP API
//	relengine check [--init]                 Compare specs against the database
//	relengine import --collection C FILE     Bulk import a JSON-lines file
//	relengine validate --collection C FILE   Validate a document against a schema
//	relengine version                        Show version information
package main

import (
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kbase/relation-engine-sub000/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags are accepted before the command name.
type GlobalFlags struct {
	Config  string
	JSON    bool
	Quiet   bool
	NoColor bool
	Verbose int
}

func main() {
	var globals GlobalFlags
	fs := flag.NewFlagSet("relengine", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.StringVar(&globals.Config, "config", "", "Path to a YAML configuration file")
	fs.BoolVar(&globals.JSON, "json", false, "Machine-readable output (implies -q)")
	fs.BoolVarP(&globals.Quiet, "quiet", "q", false, "Suppress progress output")
	fs.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	fs.CountVarP(&globals.Verbose, "verbose", "v", "Debug logging (repeatable)")
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.Usage = usage

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if globals.JSON {
		globals.Quiet = true
	}
	ui.InitColors(globals.NoColor || os.Getenv("NO_COLOR") != "")

	if *showVersion {
		runVersion(globals)
		return
	}

	args := fs.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "serve":
		runServe(cmdArgs, globals)
	case "check":
		runCheck(cmdArgs, globals)
	case "import":
		runImport(cmdArgs, globals)
	case "validate":
		runValidate(cmdArgs, globals)
	case "version":
		runVersion(globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `relengine - schema-governed access layer for the relation engine

Serves stored queries, bulk imports and spec lookups over HTTP in front of
an ArangoDB database, and checks that the database matches the declared
spec tree.

Usage:
  relengine [global options] <command> [options]

Commands:
  serve         Start the HTTP API
  check         Compare declared indexes, views and analyzers with the database
  import        Bulk import a JSON-lines file into a collection
  validate      Validate a JSON or YAML document against a schema
  version       Show version information

Global Options:
  --config      Path to a YAML configuration file
  --json        Machine-readable output (implies -q)
  -q, --quiet   Suppress progress output
  --no-color    Disable colored output
  -v            Debug logging

Examples:
  relengine serve
  relengine check --init
  relengine import --collection ncbi_taxon --on-duplicate update taxa.jsonl
  relengine validate --collection ncbi_taxon doc.json
  relengine validate --schema params.yaml --at /params vars.json

Environment Variables:
  DB_URL, DB_NAME, DB_USER, DB_PASS    ArangoDB connection
  KBASE_AUTH_URL, KBASE_WORKSPACE_URL  Identity and workspace services
  SPEC_PATH, SPEC_RELEASE_URL          Spec tree location and release archive
  ADMIN_ROLES                          Comma separated admin roles

For detailed command help: relengine <command> --help

`)
}

func runVersion(globals GlobalFlags) {
	if globals.JSON {
		printJSON(map[string]string{"version": version, "commit": commit, "date": date}, globals)
		return
	}
	fmt.Printf("relengine version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", date)
}
