// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided inputs that end up inside output
// rows or file paths.
//
// Output rows are positional, comma separated and quote paths with '"'.
// A project path containing a newline or a quote would corrupt every row
// after it, so such inputs are rejected before any work starts.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// extensionPattern matches file extensions such as .java, .c++ or .h.
// Max length: 16 characters including the dot.
var extensionPattern = regexp.MustCompile(`^\.[A-Za-z0-9_+\-]{1,15}$`)

// ValidateExtension validates a file extension from the language config.
//
// Valid extensions:
//   - Start with a single dot
//   - 1-15 letters, digits, '_', '+' or '-' after the dot
//
// Example:
//
//	if err := validation.ValidateExtension(".java"); err != nil {
//	    return err
//	}
func ValidateExtension(ext string) error {
	if ext == "" {
		return fmt.Errorf("extension cannot be empty")
	}
	if !extensionPattern.MatchString(ext) {
		return fmt.Errorf("invalid extension format: %q (must be a dot followed by 1-15 alphanumeric, '_', '+' or '-' chars)", ext)
	}
	return nil
}

// ValidateExtensions validates multiple extensions.
// Returns an error listing all invalid extensions if any fail validation.
func ValidateExtensions(exts []string) error {
	var invalid []string
	for _, e := range exts {
		if err := ValidateExtension(e); err != nil {
			invalid = append(invalid, e)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid extensions: %q", invalid)
	}
	return nil
}

// ValidateProjectPath validates one line of a project list.
//
// Rejected:
//   - empty paths
//   - control characters (newline, tab, NUL, ...)
//   - double quotes, which delimit paths in output rows
func ValidateProjectPath(p string) error {
	if p == "" {
		return fmt.Errorf("project path cannot be empty")
	}
	if strings.ContainsRune(p, '"') {
		return fmt.Errorf("invalid project path %q: contains a double quote", p)
	}
	for _, r := range p {
		if unicode.IsControl(r) {
			return fmt.Errorf("invalid project path %q: contains control character %U", p, r)
		}
	}
	return nil
}

// SanitizeProjectPath trims surrounding whitespace (including a Windows
// "\r") and validates the result.
//
// Use this when you need both validation and normalization:
//
//	path, err := validation.SanitizeProjectPath(line)
//	if err != nil {
//	    return err
//	}
func SanitizeProjectPath(line string) (string, error) {
	normalized := strings.TrimSpace(line)
	if err := ValidateProjectPath(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
