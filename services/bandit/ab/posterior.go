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

import (
	"fmt"
	"sort"
)

// Prior parameters of the uniform Beta(1,1) prior.
const (
	PriorAlpha = 1.0
	PriorBeta  = 1.0
)

// -----------------------------------------------------------------------------
// Counts
// -----------------------------------------------------------------------------

// VariantCount is the observed evidence for one variant.
//
// Successes are conversions (clicks) and Trials are exposures (impressions).
// A valid count satisfies 0 <= Successes <= Trials.
type VariantCount struct {
	ID        string `json:"variant_id" yaml:"id"`
	Successes int64  `json:"successes" yaml:"successes"`
	Trials    int64  `json:"trials" yaml:"trials"`
}

// Counts is a (successes, trials) pair without an identifier.
type Counts struct {
	Successes int64
	Trials    int64
}

// Validate checks the count invariants.
func (c VariantCount) Validate() error {
	if c.Successes < 0 || c.Trials < 0 {
		return fmt.Errorf("variant %q: negative count (successes=%d, trials=%d): %w",
			c.ID, c.Successes, c.Trials, ErrInvalidCount)
	}
	if c.Successes > c.Trials {
		return fmt.Errorf("variant %q: successes %d exceed trials %d: %w",
			c.ID, c.Successes, c.Trials, ErrInvalidCount)
	}
	return nil
}

// Rate returns the observed success rate, or 0 when there are no trials.
func (c VariantCount) Rate() float64 {
	if c.Trials == 0 {
		return 0
	}
	return float64(c.Successes) / float64(c.Trials)
}

// CountsFromMap converts a map keyed by variant ID into a slice ordered by
// ID. Use it when the caller has no natural order of its own.
func CountsFromMap(m map[string]Counts) []VariantCount {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]VariantCount, 0, len(ids))
	for _, id := range ids {
		c := m[id]
		out = append(out, VariantCount{ID: id, Successes: c.Successes, Trials: c.Trials})
	}
	return out
}

// validateCounts checks emptiness, per-variant invariants and ID uniqueness.
func validateCounts(counts []VariantCount) error {
	if len(counts) == 0 {
		return ErrEmptyInput
	}
	seen := make(map[string]struct{}, len(counts))
	for _, c := range counts {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("variant %q: %w", c.ID, ErrDuplicateVariant)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Posterior
// -----------------------------------------------------------------------------

// Posterior is the Beta posterior over one variant's success rate.
type Posterior struct {
	ID    string
	Alpha float64
	Beta  float64
}

// NewPosterior builds the posterior Beta(1+successes, 1+trials-successes).
//
// Inputs:
//   - c: The variant's counts. Must satisfy 0 <= Successes <= Trials.
//
// Outputs:
//   - Posterior: Alpha >= 1 and Beta >= 1 for valid input.
//   - error: ErrInvalidCount if the counts are invalid.
func NewPosterior(c VariantCount) (Posterior, error) {
	if err := c.Validate(); err != nil {
		return Posterior{}, err
	}
	return Posterior{
		ID:    c.ID,
		Alpha: PriorAlpha + float64(c.Successes),
		Beta:  PriorBeta + float64(c.Trials-c.Successes),
	}, nil
}

// Posteriors builds one posterior per variant, preserving input order.
//
// Outputs:
//   - error: ErrEmptyInput for an empty slice, ErrInvalidCount (or
//     ErrDuplicateVariant) for bad counts.
func Posteriors(counts []VariantCount) ([]Posterior, error) {
	if err := validateCounts(counts); err != nil {
		return nil, err
	}
	out := make([]Posterior, len(counts))
	for i, c := range counts {
		// validateCounts already checked every entry.
		out[i], _ = NewPosterior(c)
	}
	return out, nil
}

// Mean returns the posterior mean α/(α+β).
func (p Posterior) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}
