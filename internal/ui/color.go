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

// Package ui formats human-readable relengine command output.
//
// Colors respect the --no-color flag and the NO_COLOR environment variable.
//
// Color usage:
//   - Red: rejected documents, drift, failures
//   - Yellow: partial success
//   - Green: success
//   - Cyan: counts
//   - Bold: headers and labels
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Out receives every message. It defaults to color.Output, which is
// stdout wrapped for Windows consoles.
var Out io.Writer = color.Output

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
)

// InitColors turns colored output off when noColor is set. Call it once
// after flag parsing.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// Success prints "✓ msg" in green.
func Success(msg string) {
	fmt.Fprintln(Out, Green.Sprint("✓ "+msg))
}

// Successf is Success with formatting.
func Successf(format string, args ...any) {
	Success(fmt.Sprintf(format, args...))
}

// Warningf prints "⚠ msg" in yellow.
func Warningf(format string, args ...any) {
	fmt.Fprintln(Out, Yellow.Sprint("⚠ "+fmt.Sprintf(format, args...)))
}

// Error prints "✗ msg" in red.
func Error(msg string) {
	fmt.Fprintln(Out, Red.Sprint("✗ "+msg))
}

// Errorf is Error with formatting.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Header prints a bold title underlined with "=".
//
//	Spec Reconciliation
//	===================
func Header(text string) {
	fmt.Fprintln(Out, Bold.Sprint(text))
	fmt.Fprintln(Out, strings.Repeat("=", len([]rune(text))))
}

// SubHeader prints a bold title without an underline.
func SubHeader(text string) {
	fmt.Fprintln(Out, Bold.Sprint(text))
}

// Label returns text in bold for inline use:
//
//	fmt.Printf("  %s %s\n", ui.Label("Created:"), ui.CountText(n))
func Label(text string) string {
	return Bold.Sprint(text)
}

// CountText returns a count in cyan.
func CountText(count int) string {
	return Cyan.Sprint(count)
}
