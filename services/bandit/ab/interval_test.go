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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Wilson Interval Tests
// -----------------------------------------------------------------------------

func TestWilsonInterval_NoTrials(t *testing.T) {
	iv := WilsonInterval(0, 0, DefaultZ)
	assert.Equal(t, 0.0, iv.Lower)
	assert.Equal(t, 0.0, iv.Upper)
}

func TestWilsonInterval_KnownValue(t *testing.T) {
	// 50/1000 at z=1.96 is roughly [0.0382, 0.0653].
	iv := WilsonInterval(50, 1000, DefaultZ)
	assert.InDelta(t, 0.0382, iv.Lower, 0.0005)
	assert.InDelta(t, 0.0653, iv.Upper, 0.0005)
}

func TestWilsonInterval_Bounds(t *testing.T) {
	cases := [][2]int64{
		{0, 1}, {1, 1}, {0, 10}, {10, 10}, {5, 10},
		{1, 1000}, {999, 1000}, {50, 1000}, {0, 1000000}, {1000000, 1000000},
		{3, 7}, {123, 4567},
	}
	for _, c := range cases {
		s, n := c[0], c[1]
		iv := WilsonInterval(s, n, DefaultZ)
		p := float64(s) / float64(n)

		assert.GreaterOrEqual(t, iv.Lower, 0.0, "s=%d n=%d", s, n)
		assert.LessOrEqual(t, iv.Lower, p, "s=%d n=%d", s, n)
		assert.GreaterOrEqual(t, iv.Upper, p, "s=%d n=%d", s, n)
		assert.LessOrEqual(t, iv.Upper, 1.0, "s=%d n=%d", s, n)
	}
}

func TestWilsonInterval_NarrowsWithMoreData(t *testing.T) {
	small := WilsonInterval(5, 100, DefaultZ)
	large := WilsonInterval(500, 10000, DefaultZ)
	assert.Less(t, large.Upper-large.Lower, small.Upper-small.Lower)
}

// -----------------------------------------------------------------------------
// Z-Score Tests
// -----------------------------------------------------------------------------

func TestZScore(t *testing.T) {
	t.Run("fixed ignores level", func(t *testing.T) {
		for _, c := range []float64{0.8, 0.9, 0.95, 0.99} {
			z, err := ZScore(c, ZModeFixed)
			require.NoError(t, err)
			assert.Equal(t, DefaultZ, z)
		}
	})

	t.Run("exact uses inverse normal", func(t *testing.T) {
		z, err := ZScore(0.95, ZModeExact)
		require.NoError(t, err)
		assert.InDelta(t, 1.95996, z, 1e-4)

		z, err = ZScore(0.99, ZModeExact)
		require.NoError(t, err)
		assert.InDelta(t, 2.5758, z, 1e-3)
	})

	t.Run("invalid level", func(t *testing.T) {
		for _, c := range []float64{0, 1, -0.5, 1.5} {
			_, err := ZScore(c, ZModeExact)
			assert.ErrorIs(t, err, ErrInvalidConfidence)
		}
	})
}

func TestParseZMode(t *testing.T) {
	m, err := ParseZMode("")
	require.NoError(t, err)
	assert.Equal(t, ZModeFixed, m)

	m, err = ParseZMode("exact")
	require.NoError(t, err)
	assert.Equal(t, ZModeExact, m)
	assert.Equal(t, "exact", m.String())

	_, err = ParseZMode("bogus")
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// Confidence Intervals Tests
// -----------------------------------------------------------------------------

func TestConfidenceIntervals(t *testing.T) {
	counts := []VariantCount{
		{ID: "control", Successes: 50, Trials: 1000},
		{ID: "empty", Successes: 0, Trials: 0},
	}
	ivs, err := ConfidenceIntervals(counts, DefaultConfidence, ZModeFixed)
	require.NoError(t, err)

	require.Len(t, ivs.Variants, 2)
	assert.Equal(t, "control", ivs.Variants[0].ID)
	assert.InDelta(t, 0.05, ivs.Variants[0].Rate, 1e-12)
	assert.Equal(t, Interval{}, ivs.Map()["empty"])
	assert.Equal(t, DefaultZ, ivs.Z)
}

func TestConfidenceIntervals_Empty(t *testing.T) {
	ivs, err := ConfidenceIntervals(nil, DefaultConfidence, ZModeFixed)
	require.NoError(t, err)
	assert.Empty(t, ivs.Variants)
}

func TestConfidenceIntervals_InvalidCount(t *testing.T) {
	_, err := ConfidenceIntervals([]VariantCount{{ID: "a", Successes: 2, Trials: 1}}, DefaultConfidence, ZModeFixed)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

// -----------------------------------------------------------------------------
// Ranking Tests
// -----------------------------------------------------------------------------

func TestRank(t *testing.T) {
	alloc := Allocation{Shares: []Share{
		{ID: "a", Percentage: 20},
		{ID: "b", Percentage: 40},
		{ID: "c", Percentage: 20},
		{ID: "d", Percentage: 20},
	}}

	ranked := Rank(alloc)
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, ids)
	// input untouched
	assert.Equal(t, "a", alloc.Shares[0].ID)

	best, ok := Best(alloc)
	assert.True(t, ok)
	assert.Equal(t, "b", best.ID)

	_, ok = Best(Allocation{})
	assert.False(t, ok)
}
