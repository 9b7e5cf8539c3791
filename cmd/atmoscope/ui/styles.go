// Package ui renders atmoscope results and the live run view.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	Foreground  = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#f2f2f2"}
	Accent      = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	Muted       = lipgloss.AdaptiveColor{Light: "#6a737d", Dark: "#8b949e"}
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
)

// Styles holds the styled components.
type Styles struct {
	Title   lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Spinner lipgloss.Style
	Line    lipgloss.Style
}

// DefaultStyles returns the styles for the current terminal. NO_COLOR turns
// colors off.
func DefaultStyles() Styles {
	if os.Getenv("NO_COLOR") != "" {
		return PlainStyles()
	}
	return Styles{
		Title: lipgloss.NewStyle().
			Foreground(Accent).
			Bold(true),
		Body: lipgloss.NewStyle().
			Foreground(Foreground),
		Muted: lipgloss.NewStyle().
			Foreground(Muted),
		Bold: lipgloss.NewStyle().
			Foreground(Foreground).
			Bold(true),
		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),
		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),
		Warning: lipgloss.NewStyle().
			Foreground(Warning),
		Spinner: lipgloss.NewStyle().
			Foreground(Accent),
		Line: lipgloss.NewStyle().
			Foreground(Muted),
	}
}

// PlainStyles renders text unchanged.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title:   plain,
		Body:    plain,
		Muted:   plain,
		Bold:    plain,
		Success: plain,
		Error:   plain,
		Warning: plain,
		Spinner: plain,
		Line:    plain,
	}
}
