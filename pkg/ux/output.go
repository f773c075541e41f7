// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the leaninspect CLI.
//
// Everything here writes to stdout-style command output. Diagnostics go
// through pkg/logging on stderr instead.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Header   lipgloss.Style
	Box      lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Header:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
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
	IconArrow   Icon = "→"
)

// Mode controls how rich the output is.
type Mode string

const (
	// ModeRich uses colors, icons and boxes.
	ModeRich Mode = "rich"

	// ModePlain uses icons without colors.
	ModePlain Mode = "plain"

	// ModeMachine writes tab-separated, prefix-tagged lines for scripts.
	ModeMachine Mode = "machine"
)

// ParseMode accepts rich, plain, machine, or auto/"" (detect).
func ParseMode(s string, f *os.File) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DetectMode(f), nil
	case string(ModeRich):
		return ModeRich, nil
	case string(ModePlain):
		return ModePlain, nil
	case string(ModeMachine):
		return ModeMachine, nil
	default:
		return ModePlain, fmt.Errorf("unknown output mode %q", s)
	}
}

// DetectMode picks ModeRich for terminals and ModePlain otherwise.
// NO_COLOR forces ModePlain.
func DetectMode(f *os.File) Mode {
	if os.Getenv("NO_COLOR") != "" || f == nil {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeRich
	}
	return ModePlain
}

// Printer writes styled command output.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer. An empty mode is detected from w when it
// is an *os.File.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	if mode == "" {
		f, _ := w.(*os.File)
		mode = DetectMode(f)
	}
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's output mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.mode != ModeRich {
		return text
	}
	return s.Render(text)
}

// Title prints a title. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.style(Styles.Title, text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status("OK", IconSuccess, Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status("WARN", IconWarning, Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status("ERROR", IconError, Styles.Error, text)
}

func (p *Printer) status(tag string, icon Icon, s lipgloss.Style, text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(s, string(icon)), p.style(s, text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(Styles.Muted, "│"), text)
}

// KV prints an aligned key/value list.
func (p *Printer) KV(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		if p.mode == ModeMachine {
			fmt.Fprintf(p.w, "%s=%s\n", kv[0], kv[1])
			continue
		}
		key := fmt.Sprintf("%-*s", width, kv[0])
		fmt.Fprintf(p.w, "%s  %s\n", p.style(Styles.Muted, key), kv[1])
	}
}

// Table prints rows under headers. Machine mode writes tab-separated
// values with the header row first.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.w, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, s lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			parts[i] = p.style(s, cell) + pad
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(p.w, line(headers, Styles.Header))
	for _, row := range rows {
		fmt.Fprintln(p.w, line(row, lipgloss.NewStyle()))
	}
}

// Box prints content in a rounded box under a title.
func (p *Printer) Box(title, content string) {
	if p.mode != ModeRich {
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// ProgressBar renders current/total as a bar of the given width.
func (p *Printer) ProgressBar(current, total, width int) string {
	if p.mode == ModeMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := min(1, float64(current)/float64(total))
	filled := int(pct * float64(width))
	bar := p.style(Styles.Success, strings.Repeat("█", filled)) +
		p.style(Styles.Muted, strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
