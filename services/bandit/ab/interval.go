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
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultZ is the two-sided z-score used for 95% intervals.
const DefaultZ = 1.96

// DefaultConfidence is the default confidence level for intervals.
const DefaultConfidence = 0.95

// ZMode selects how a confidence level maps to a z-score.
type ZMode int

const (
	// ZModeFixed always uses DefaultZ, whatever the confidence level.
	ZModeFixed ZMode = iota

	// ZModeExact uses the inverse normal CDF for the requested level.
	ZModeExact
)

// String returns the mode name used in configuration.
func (m ZMode) String() string {
	switch m {
	case ZModeExact:
		return "exact"
	default:
		return "fixed"
	}
}

// ParseZMode parses "fixed" or "exact". Empty means fixed.
func ParseZMode(s string) (ZMode, error) {
	switch s {
	case "", "fixed":
		return ZModeFixed, nil
	case "exact":
		return ZModeExact, nil
	default:
		return ZModeFixed, fmt.Errorf("unknown z mode %q (want fixed or exact)", s)
	}
}

// Interval is a closed range on a success rate.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// VariantInterval is one variant's observed rate and its interval.
type VariantInterval struct {
	ID   string  `json:"variant_id"`
	Rate float64 `json:"rate"`
	Interval
}

// Intervals holds per-variant intervals in input order.
type Intervals struct {
	Variants   []VariantInterval
	Confidence float64
	Z          float64
}

// Map returns the intervals keyed by variant ID.
func (iv Intervals) Map() map[string]Interval {
	m := make(map[string]Interval, len(iv.Variants))
	for _, v := range iv.Variants {
		m[v.ID] = v.Interval
	}
	return m
}

// ZScore returns the z-score for a two-sided confidence level.
//
// Inputs:
//   - confidence: Level in (0, 1), e.g. 0.95.
//   - mode: ZModeFixed returns DefaultZ for any valid level.
//
// Outputs:
//   - float64: The z-score.
//   - error: ErrInvalidConfidence when confidence is outside (0, 1).
func ZScore(confidence float64, mode ZMode) (float64, error) {
	if !(confidence > 0 && confidence < 1) {
		return 0, fmt.Errorf("confidence=%v: %w", confidence, ErrInvalidConfidence)
	}
	if mode == ZModeFixed {
		return DefaultZ, nil
	}
	return distuv.UnitNormal.Quantile((1 + confidence) / 2), nil
}

// WilsonInterval computes the Wilson score interval for a binomial rate.
//
// Description:
//
//	p = successes/trials
//	center = (p + z²/2n) / (1 + z²/n)
//	margin = z·sqrt(p(1-p)/n + z²/4n²) / (1 + z²/n)
//
//	Bounds are clamped to [0, 1] and always contain p. With no trials the
//	result is exactly (0, 0).
//
// Thread Safety: Pure function.
func WilsonInterval(successes, trials int64, z float64) Interval {
	if trials <= 0 {
		return Interval{}
	}
	n := float64(trials)
	p := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n)) / denom

	lower := math.Max(0, center-margin)
	upper := math.Min(1, center+margin)

	// Guard against rounding pushing a bound past the observed rate.
	if lower > p {
		lower = p
	}
	if upper < p {
		upper = p
	}
	return Interval{Lower: lower, Upper: upper}
}

// ConfidenceIntervals computes a Wilson interval for every variant.
//
// Inputs:
//   - counts: Variants in presentation order. An empty slice yields an
//     empty result.
//   - confidence: Level in (0, 1). Use DefaultConfidence for 95%.
//   - mode: How the level maps to z. ZModeFixed uses 1.96 for any level.
//
// Outputs:
//   - Intervals: One entry per variant, in input order.
//   - error: ErrInvalidCount for bad counts, ErrInvalidConfidence for a bad level.
func ConfidenceIntervals(counts []VariantCount, confidence float64, mode ZMode) (Intervals, error) {
	z, err := ZScore(confidence, mode)
	if err != nil {
		return Intervals{}, err
	}
	out := Intervals{
		Variants:   make([]VariantInterval, 0, len(counts)),
		Confidence: confidence,
		Z:          z,
	}
	for _, c := range counts {
		if err := c.Validate(); err != nil {
			return Intervals{}, err
		}
		out.Variants = append(out.Variants, VariantInterval{
			ID:       c.ID,
			Rate:     c.Rate(),
			Interval: WilsonInterval(c.Successes, c.Trials, z),
		})
	}
	return out, nil
}
