// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBandit/pkg/ux"
	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
)

// =============================================================================
// Test Helpers
// =============================================================================

const testConfig = `output: machine
engine:
  samples: 2000
  shards: 1
  confidence: 0.95
  z_mode: fixed
logging:
  level: error
  dir: ""
`

const testCounts = `variants:
  - id: control
    successes: 10
    trials: 1000
  - id: B
    successes: 100
    trials: 1000
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	orig := ux.Mode()
	t.Cleanup(func() { ux.SetMode(orig) })

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfgPath := writeFile(t, dir, "bandit.yaml", testConfig)

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", cfgPath}, args...))

	err := root.Execute()
	return out.String(), err
}

func parseMachineAllocation(t *testing.T, out string) map[string]float64 {
	t.Helper()
	got := map[string]float64{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 2, line)
		v, err := strconv.ParseFloat(fields[1], 64)
		require.NoError(t, err)
		got[fields[0]] = v
	}
	return got
}

// =============================================================================
// allocate
// =============================================================================

func TestAllocate_Ranked(t *testing.T) {
	countsPath := writeFile(t, t.TempDir(), "counts.yaml", testCounts)

	out, err := execute(t, "", "allocate", "--file", countsPath, "--seed", "7")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "B\t"), "winner first: %q", lines[0])

	got := parseMachineAllocation(t, out)
	assert.Greater(t, got["B"], 70.0)
	assert.InDelta(t, 100.0, got["B"]+got["control"], 0.02)
}

func TestAllocate_SeedReproducible(t *testing.T) {
	countsPath := writeFile(t, t.TempDir(), "counts.yaml", testCounts)

	first, err := execute(t, "", "allocate", "-f", countsPath, "--seed", "42", "--samples", "500")
	require.NoError(t, err)
	second, err := execute(t, "", "allocate", "-f", countsPath, "--seed", "42", "--samples", "500")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAllocate_Stdin(t *testing.T) {
	out, err := execute(t, testCounts, "allocate", "--file", "-", "--seed", "1", "--shards", "4")
	require.NoError(t, err)
	assert.Len(t, parseMachineAllocation(t, out), 2)
}

func TestAllocate_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file flag", func(t *testing.T) {
		_, err := execute(t, "", "allocate")
		assert.Error(t, err)
	})

	t.Run("empty variants", func(t *testing.T) {
		path := writeFile(t, dir, "empty.yaml", "variants: []\n")
		_, err := execute(t, "", "allocate", "--file", path)
		assert.ErrorIs(t, err, ab.ErrEmptyInput)
	})

	t.Run("empty document", func(t *testing.T) {
		path := writeFile(t, dir, "blank.yaml", "")
		_, err := execute(t, "", "allocate", "--file", path)
		assert.ErrorIs(t, err, ab.ErrEmptyInput)
	})

	t.Run("successes above trials", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "variants:\n  - id: A\n    successes: 5\n    trials: 1\n")
		_, err := execute(t, "", "allocate", "--file", path)
		assert.ErrorIs(t, err, ab.ErrInvalidCount)
	})

	t.Run("bad sample count", func(t *testing.T) {
		path := writeFile(t, dir, "ok.yaml", testCounts)
		_, err := execute(t, "", "allocate", "--file", path, "--samples", "0")
		assert.ErrorIs(t, err, ab.ErrInvalidSampleCount)
	})

	t.Run("unknown file", func(t *testing.T) {
		_, err := execute(t, "", "allocate", "--file", filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestAllocate_PlainOutput(t *testing.T) {
	countsPath := writeFile(t, t.TempDir(), "counts.yaml", testCounts)

	out, err := execute(t, "", "--output", "plain", "allocate", "--file", countsPath, "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Thompson sampling")
	assert.Contains(t, out, "seed 3")
	assert.Contains(t, out, "variant")
}

// =============================================================================
// intervals
// =============================================================================

func TestIntervals_Machine(t *testing.T) {
	countsPath := writeFile(t, t.TempDir(), "counts.yaml", testCounts)

	out, err := execute(t, "", "intervals", "--file", countsPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "control\t10\t1000\t0.0100\t"))
	assert.True(t, strings.HasPrefix(lines[1], "B\t100\t1000\t0.1000\t"))

	fields := strings.Split(lines[1], "\t")
	lower, err := strconv.ParseFloat(fields[4], 64)
	require.NoError(t, err)
	upper, err := strconv.ParseFloat(fields[5], 64)
	require.NoError(t, err)
	assert.Less(t, lower, 0.1)
	assert.Greater(t, upper, 0.1)
}

func TestIntervals_ExactMode(t *testing.T) {
	countsPath := writeFile(t, t.TempDir(), "counts.yaml", testCounts)

	fixed, err := execute(t, "", "intervals", "--file", countsPath, "--confidence", "0.8")
	require.NoError(t, err)
	exact, err := execute(t, "", "intervals", "--file", countsPath, "--confidence", "0.8", "--z-mode", "exact")
	require.NoError(t, err)
	assert.NotEqual(t, fixed, exact)
}

func TestIntervals_Errors(t *testing.T) {
	countsPath := writeFile(t, t.TempDir(), "counts.yaml", testCounts)

	_, err := execute(t, "", "intervals", "--file", countsPath, "--confidence", "1.5")
	assert.ErrorIs(t, err, ab.ErrInvalidConfidence)

	_, err = execute(t, "", "intervals", "--file", countsPath, "--z-mode", "sideways")
	assert.Error(t, err)
}

// =============================================================================
// version / serve
// =============================================================================

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "bandit dev\n", out)
}

func TestServe_InvalidConfig(t *testing.T) {
	_, err := execute(t, "", "serve", "--store", "cassandra")
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.aleutian/data", expandHome("~/.aleutian/data"))
	assert.Equal(t, "/srv/data", expandHome("/srv/data"))
}
