// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// OutputMode controls how much styling CLI output carries.
type OutputMode string

const (
	// ModeRich uses colors, icons and bordered tables.
	ModeRich OutputMode = "rich"

	// ModePlain keeps alignment but drops color and borders.
	ModePlain OutputMode = "plain"

	// ModeMachine writes tab-separated lines for scripts.
	ModeMachine OutputMode = "machine"
)

// OutputModeEnv overrides terminal detection.
const OutputModeEnv = "BANDIT_OUTPUT"

var (
	currentMode = ModeRich
	modeMu      sync.RWMutex
)

// Mode returns the active output mode.
func Mode() OutputMode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode sets the active output mode.
func SetMode(m OutputMode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// ParseMode converts a string to an OutputMode. Unknown values map to
// ModePlain.
func ParseMode(s string) OutputMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "color":
		return ModeRich
	case "machine", "tsv", "quiet", "q":
		return ModeMachine
	default:
		return ModePlain
	}
}

// InitMode picks the output mode from BANDIT_OUTPUT, falling back to
// rich on a terminal and machine otherwise.
func InitMode() {
	if env := os.Getenv(OutputModeEnv); env != "" {
		SetMode(ParseMode(env))
		return
	}
	if isTerminal(os.Stdout) {
		SetMode(ModeRich)
		return
	}
	SetMode(ModeMachine)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
