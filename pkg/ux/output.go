// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides styled terminal output for the bellwether CLI.
//
// Output has two modes: styled (colors, icons, boxes) when stdout is a
// terminal, and machine (plain prefixed lines suitable for scripting)
// when it is not, or when NO_COLOR is set. Commands can force machine
// mode with SetMachineOutput for --plain style flags.
package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Bellwether color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#2CD7C7") // Bright teal for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

var (
	modeMu      sync.RWMutex
	modeForced  bool
	machineMode bool

	// out is swappable so command tests can capture output.
	out io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

// SetMachineOutput forces plain, prefix-tagged output regardless of
// terminal detection. Used by the --plain flag and by tests.
func SetMachineOutput(plain bool) {
	modeMu.Lock()
	defer modeMu.Unlock()
	modeForced = true
	machineMode = plain
}

// SetOutput redirects styled output, primarily for tests.
func SetOutput(w, ew io.Writer) {
	modeMu.Lock()
	defer modeMu.Unlock()
	out = w
	errOut = ew
}

// Machine reports whether output is in plain machine mode. Without an
// explicit override it is machine mode when stdout is not a terminal
// or NO_COLOR is set.
func Machine() bool {
	modeMu.RLock()
	defer modeMu.RUnlock()
	if modeForced {
		return machineMode
	}
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	return !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func writer() io.Writer {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return out
}

func errWriter() io.Writer {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return errOut
}

// Title prints a styled section title
func Title(text string) {
	if Machine() {
		fmt.Fprintf(writer(), "== %s ==\n", text)
		return
	}
	fmt.Fprintln(writer(), Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	if Machine() {
		fmt.Fprintf(writer(), "OK: %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func Warning(text string) {
	if Machine() {
		fmt.Fprintf(errWriter(), "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func Error(text string) {
	if Machine() {
		fmt.Fprintf(errWriter(), "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message
func Info(text string) {
	if Machine() {
		fmt.Fprintln(writer(), text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints muted/secondary text
func Muted(text string) {
	if Machine() {
		return
	}
	fmt.Fprintln(writer(), Styles.Muted.Render(text))
}

// KeyValue prints an aligned label/value pair
func KeyValue(label, value string) {
	if Machine() {
		fmt.Fprintf(writer(), "%s=%s\n", label, value)
		return
	}
	fmt.Fprintf(writer(), "  %s %s\n", Styles.Muted.Render(fmt.Sprintf("%-20s", label)), value)
}

// Box prints text in a rounded box
func Box(title, content string) {
	if Machine() {
		fmt.Fprintf(writer(), "%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Fprintln(writer(), boxStyle.Render(titleLine+"\n"+content))
}

// StatusIcon maps a health/drift style state string to an icon.
func StatusIcon(state string) Icon {
	switch state {
	case "ok", "stable", "healthy", "loaded":
		return IconSuccess
	case "drift_detected", "degraded":
		return IconWarning
	case "error", "unavailable":
		return IconError
	default:
		return IconPending
	}
}
