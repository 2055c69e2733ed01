// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package errors provides the single error type used across relengine.
//
// Every failure that can reach a caller carries a Kind drawn from a closed
// set. The Kind decides the HTTP status of the response envelope and the
// exit code of the CLI. Detail fields (offending JSON path, keyword,
// identifier name, backing store message) travel with the error so that a
// caller can correct a request without reading server logs.
//
// # Usage Example
//
//	return errors.NewNotFound("collection", "ncbi_taxon")
//
//	err := errors.NewValidationError("value does not match pattern", "/name", "pattern", "x y")
//	body := err.Envelope()
//	// {"error": {"message": "...", "kind": "validation_error", "path": "/name", ...}}
//
// # Formatted Output
//
// The Format() method provides colored terminal output for the CLI:
//
//	Error: Declared specs are missing from the database
//	Cause: 2 indexes, 1 view
//	Fix:   Run: relengine check --init
//
// # Exit Codes
//
//   - ExitSuccess (0): Successful execution
//   - ExitConfig (1): Configuration errors (missing/invalid config)
//   - ExitDatabase (2): Backing store errors
//   - ExitNetwork (3): Collaborator unreachable
//   - ExitInput (4): Invalid input (parse, validation, bad arguments)
//   - ExitPermission (5): Unauthorized
//   - ExitNotFound (6): Unknown collection, stored query, spec
//   - ExitDrift (7): Declared specs missing from the live database
//   - ExitInternal (10): Internal errors (bugs, panics)
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	// ExitSuccess indicates successful execution.
	ExitSuccess = 0

	// ExitConfig indicates configuration errors (missing/invalid config files).
	ExitConfig = 1

	// ExitDatabase indicates errors returned by the backing database.
	ExitDatabase = 2

	// ExitNetwork indicates an external collaborator could not be reached.
	ExitNetwork = 3

	// ExitInput indicates invalid user input (bad arguments, validation errors).
	ExitInput = 4

	// ExitPermission indicates a missing, invalid or insufficient token.
	ExitPermission = 5

	// ExitNotFound indicates resource not found errors.
	ExitNotFound = 6

	// ExitDrift indicates declared specs with no live counterpart.
	ExitDrift = 7

	// ExitInternal indicates internal errors (bugs, unexpected panics).
	// Exit code 10 signals "this is a bug that should be reported".
	ExitInternal = 10
)

// Kind classifies an Error. The set is closed; callers switch on it.
type Kind int

const (
	KindInternal Kind = iota
	KindParse
	KindValidation
	KindNotFound
	KindUnauthorized
	KindBackingStore
	KindReconciliation
	KindInvalidParameters
	KindConfig
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse_error"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindBackingStore:
		return "backing_store_error"
	case KindReconciliation:
		return "reconciliation_error"
	case KindInvalidParameters:
		return "invalid_parameters"
	case KindConfig:
		return "config_error"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind onto the response status family.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindParse, KindValidation, KindInvalidParameters:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBackingStore:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps the kind onto a CLI exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindParse, KindValidation, KindInvalidParameters:
		return ExitInput
	case KindUnauthorized:
		return ExitPermission
	case KindNotFound:
		return ExitNotFound
	case KindBackingStore:
		return ExitDatabase
	case KindReconciliation:
		return ExitDrift
	case KindConfig:
		return ExitConfig
	default:
		return ExitInternal
	}
}

// Error is the structured error carried through every layer.
//
// It provides three levels of information for humans:
//   - Message: What went wrong
//   - Cause: Why it happened (optional, diagnostic)
//   - Fix: How to fix it (optional, actionable)
//
// and Details for machines: kind-specific fields merged into the
// response envelope next to the message.
type Error struct {
	Kind    Kind
	Message string
	Cause   string
	Fix     string

	// Details holds kind-specific fields (path, keyword, value, name,
	// arango_message...). Keys are emitted verbatim in the envelope.
	Details map[string]any

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for compatibility with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail sets a detail field and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithFix sets the actionable suggestion and returns the receiver.
func (e *Error) WithFix(fix string) *Error {
	e.Fix = fix
	return e
}

// WithCause sets the diagnostic explanation and returns the receiver.
func (e *Error) WithCause(cause string) *Error {
	e.Cause = cause
	return e
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewParseError reports malformed JSON input at a line/column/byte position.
func NewParseError(msg string, line, column, position int, err error) *Error {
	e := Wrap(KindParse, msg, err)
	return e.WithDetail("line", line).WithDetail("column", column).WithDetail("position", position)
}

// NewValidationError reports a schema violation at a JSON pointer path.
func NewValidationError(msg, path, keyword string, value any) *Error {
	e := New(KindValidation, msg)
	return e.WithDetail("path", path).WithDetail("keyword", keyword).WithDetail("value", value)
}

// NewNotFound reports an unknown named resource ("collection", "stored query", ...).
func NewNotFound(what, name string) *Error {
	e := New(KindNotFound, fmt.Sprintf("%s not found: %s", what, name))
	return e.WithDetail("name", name).WithDetail("resource", what)
}

// NewUnauthorized reports a missing, invalid or insufficiently privileged token.
// authURL names the authorization endpoint that was consulted, if any.
func NewUnauthorized(msg, authURL string, err error) *Error {
	e := Wrap(KindUnauthorized, msg, err)
	if authURL != "" {
		e.WithDetail("auth_url", authURL)
	}
	return e
}

// NewBackingStoreError passes a database failure through with its server message.
func NewBackingStoreError(msg string, status, errorNum int, serverMessage string, err error) *Error {
	e := Wrap(KindBackingStore, msg, err)
	e.WithDetail("arango_message", serverMessage)
	if errorNum != 0 {
		e.WithDetail("arango_error_num", errorNum)
	}
	if status != 0 {
		e.WithDetail("arango_status", status)
	}
	return e
}

// NewInvalidParameters reports a malformed or contradictory request shape.
func NewInvalidParameters(msg string) *Error {
	return New(KindInvalidParameters, msg)
}

// NewReconciliationError reports declared specs that have no live counterpart.
func NewReconciliationError(msg string, details map[string]any) *Error {
	return &Error{Kind: KindReconciliation, Message: msg, Details: details}
}

// NewConfigError creates a configuration error with exit code ExitConfig.
//
// Example:
//
//	return NewConfigError(
//	    "Cannot load relengine configuration",
//	    "DB_URL is not set",
//	    "Export DB_URL or set db.url in the config file",
//	    nil,
//	)
func NewConfigError(msg, cause, fix string, err error) *Error {
	return &Error{Kind: KindConfig, Message: msg, Cause: cause, Fix: fix, Err: err}
}

// NewInternalError creates an internal error with exit code ExitInternal.
func NewInternalError(msg string, err error) *Error {
	return Wrap(KindInternal, msg, err)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Envelope renders the uniform response body:
//
//	{"error": {"message": ..., "kind": ..., <details>}}
//
// Foreign errors are rendered as internal errors.
func Envelope(err error) map[string]any {
	e, ok := As(err)
	if !ok {
		e = NewInternalError("Unexpected server error", err)
	}
	return e.Envelope()
}

// Envelope renders the receiver as the uniform response body.
func (e *Error) Envelope() map[string]any {
	body := make(map[string]any, len(e.Details)+3)
	for k, v := range e.Details {
		body[k] = v
	}
	body["message"] = e.Error()
	body["kind"] = e.Kind.String()
	if e.Fix != "" {
		body["fix"] = e.Fix
	}
	return map[string]any{"error": body}
}

// Color definitions for error formatting.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format returns a formatted error message for terminal display.
//
// Empty Cause or Fix fields are omitted from the output.
//
// Note: This method temporarily modifies the global color.NoColor state
// and restores it after formatting.
func (e *Error) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	cause := e.Cause
	if cause == "" && e.Err != nil {
		cause = e.Err.Error()
	}
	if cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(cause)
		out.WriteString("\n")
	}

	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}

	return out.String()
}

// ErrorJSON represents error information in JSON format for the CLI.
type ErrorJSON struct {
	Error    string         `json:"error"`
	Kind     string         `json:"kind"`
	Cause    string         `json:"cause,omitempty"`
	Fix      string         `json:"fix,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	ExitCode int            `json:"exit_code"`
}

// ToJSON converts the error to a JSON-serializable structure.
func (e *Error) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:    e.Message,
		Kind:     e.Kind.String(),
		Cause:    e.Cause,
		Fix:      e.Fix,
		Details:  e.Details,
		ExitCode: e.Kind.ExitCode(),
	}
}

// FatalError prints the error and exits with the appropriate code.
//
// This function never returns - it always calls os.Exit().
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if e, ok := As(err); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(e.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, e.Format(false))
		}
		os.Exit(e.Kind.ExitCode())
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitInternal)
}
