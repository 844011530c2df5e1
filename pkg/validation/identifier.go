// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-supplied identifiers before they reach
// storage keys, SQL parameters or InfluxDB tags.
//
// Experiment and variant IDs are embedded in BadgerDB keys separated by NUL
// bytes and written as InfluxDB tag values, so control characters are never
// accepted.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIdentifierLength is the longest accepted identifier, in runes.
const MaxIdentifierLength = 256

// ErrInvalidIdentifier is returned for IDs that fail validation.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ValidateIdentifier checks an experiment or variant ID.
//
// Valid identifiers:
//   - are valid UTF-8
//   - are 1-256 runes and not only whitespace
//   - contain no control characters (NUL, newline, tab, DEL, ...)
//
// kind names the field in the error message, e.g. "experiment_id".
func ValidateIdentifier(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s cannot be empty: %w", kind, ErrInvalidIdentifier)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s is not valid UTF-8: %w", kind, ErrInvalidIdentifier)
	}
	if n := utf8.RuneCountInString(id); n > MaxIdentifierLength {
		return fmt.Errorf("%s is %d characters, max %d: %w", kind, n, MaxIdentifierLength, ErrInvalidIdentifier)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s %q contains control character %U: %w", kind, id, r, ErrInvalidIdentifier)
		}
	}
	return nil
}

// IsIdentifier reports whether id passes ValidateIdentifier.
func IsIdentifier(id string) bool {
	return ValidateIdentifier("id", id) == nil
}
