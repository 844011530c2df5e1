// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ab

import "errors"

// Errors
var (
	// ErrEmptyInput is returned when no variants are supplied.
	ErrEmptyInput = errors.New("no variants supplied")

	// ErrInvalidCount is returned when a variant has negative counts or
	// more successes than trials.
	ErrInvalidCount = errors.New("invalid variant counts")

	// ErrInvalidSampleCount is returned when the number of Monte Carlo
	// rounds is not positive.
	ErrInvalidSampleCount = errors.New("sample count must be positive")

	// ErrDuplicateVariant is returned when two variants share an ID.
	// It wraps ErrInvalidCount so callers matching the broader class
	// still catch it.
	ErrDuplicateVariant = &duplicateError{}

	// ErrInvalidConfidence is returned when a confidence level is outside (0, 1).
	ErrInvalidConfidence = errors.New("confidence must be in (0, 1)")

	// ErrInvalidShardCount is returned when the shard count is not positive.
	ErrInvalidShardCount = errors.New("shard count must be positive")
)

type duplicateError struct{}

func (*duplicateError) Error() string { return "duplicate variant id" }

func (*duplicateError) Unwrap() error { return ErrInvalidCount }
