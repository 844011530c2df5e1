// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders bandit results for the terminal.
package ux

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Leader  lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Leader:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBar     Icon = "█"
)

// Render returns the icon, colored in rich mode.
func (i Icon) Render() string {
	if Mode() != ModeRich {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Success writes a success line.
func Success(w io.Writer, text string) {
	switch Mode() {
	case ModeMachine:
		fmt.Fprintf(w, "OK: %s\n", text)
	case ModePlain:
		fmt.Fprintf(w, "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning writes a warning line.
func Warning(w io.Writer, text string) {
	switch Mode() {
	case ModeMachine:
		fmt.Fprintf(w, "WARN: %s\n", text)
	case ModePlain:
		fmt.Fprintf(w, "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error writes an error line.
func Error(w io.Writer, text string) {
	switch Mode() {
	case ModeMachine:
		fmt.Fprintf(w, "ERROR: %s\n", text)
	case ModePlain:
		fmt.Fprintf(w, "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Box writes content under a title, boxed in rich mode.
func Box(w io.Writer, title, content string) {
	switch Mode() {
	case ModeMachine:
		fmt.Fprintf(w, "%s: %s\n", title, content)
	case ModePlain:
		fmt.Fprintf(w, "%s\n%s\n", title, content)
	default:
		fmt.Fprintln(w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// =============================================================================
// Tables
// =============================================================================

// AllocationRow is one line of an allocation table.
type AllocationRow struct {
	VariantID  string
	Percentage float64
}

// AllocationTable writes ranked allocation rows. Percentages print with two
// decimals. The first row is highlighted in rich mode.
func AllocationTable(w io.Writer, rows []AllocationRow, barWidth int) {
	if Mode() == ModeMachine {
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\n", r.VariantID, strconv.FormatFloat(r.Percentage, 'f', 2, 64))
		}
		return
	}

	width := len("variant")
	for _, r := range rows {
		width = max(width, lipgloss.Width(r.VariantID))
	}

	fmt.Fprintf(w, "%s  %8s\n", header(pad("variant", width)), header("traffic"))
	for i, r := range rows {
		name := pad(r.VariantID, width)
		if i == 0 && Mode() == ModeRich {
			name = Styles.Leader.Render(name)
		}
		line := fmt.Sprintf("%s  %7.2f%%", name, r.Percentage)
		if barWidth > 0 {
			line += "  " + Bar(r.Percentage, barWidth)
		}
		fmt.Fprintln(w, line)
	}
}

// IntervalRow is one line of a confidence interval table.
type IntervalRow struct {
	VariantID string
	Successes int64
	Trials    int64
	Rate      float64
	Lower     float64
	Upper     float64
}

// IntervalTable writes observed rates and bounds with four decimals.
func IntervalTable(w io.Writer, rows []IntervalRow, confidence float64) {
	if Mode() == ModeMachine {
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%.4f\t%.4f\n",
				r.VariantID, r.Successes, r.Trials, r.Rate, r.Lower, r.Upper)
		}
		return
	}

	width := len("variant")
	for _, r := range rows {
		width = max(width, lipgloss.Width(r.VariantID))
	}

	fmt.Fprintln(w, Styles.Muted.Render(fmt.Sprintf("%.0f%% Wilson score intervals", confidence*100)))
	fmt.Fprintf(w, "%s  %10s  %10s  %8s  %17s\n",
		header(pad("variant", width)), header("successes"), header("trials"),
		header("rate"), header("interval"))
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %10d  %10d  %8.4f  [%.4f, %.4f]\n",
			pad(r.VariantID, width), r.Successes, r.Trials, r.Rate, r.Lower, r.Upper)
	}
}

// Bar renders pct (0..100) as a bar of the given width.
func Bar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	pct = min(max(pct, 0), 100)
	filled := int(pct / 100 * float64(width))
	bar := strings.Repeat(string(IconBar), filled)
	rest := strings.Repeat("░", width-filled)
	if Mode() == ModeRich {
		return Styles.Success.Render(bar) + Styles.Muted.Render(rest)
	}
	return bar + rest
}

func header(s string) string {
	if Mode() == ModeRich {
		return Styles.Header.Render(s)
	}
	return s
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
