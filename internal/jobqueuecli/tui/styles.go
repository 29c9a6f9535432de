// Package tui is the bubbletea dashboard behind `jobqueue watch`: a
// live job table and consumer status line, fed by websocket snapshots
// the way internal/cli/tui feeds unit/task progress from the event bus.
package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used by the dashboard.
type Styles struct {
	Title         lipgloss.Style
	Header        lipgloss.Style
	StatusQueued  lipgloss.Style
	StatusRunning lipgloss.Style
	StatusDone    lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusOther   lipgloss.Style
	ConsumerUp    lipgloss.Style
	ConsumerDown  lipgloss.Style
	Footer        lipgloss.Style
}

// DefaultStyles returns the dashboard's default color scheme.
func DefaultStyles() Styles {
	return Styles{
		Title:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Header:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
		StatusQueued:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		StatusDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		StatusOther:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		ConsumerUp:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		ConsumerDown:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Footer:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
	}
}

// IconForStatus returns the one-glyph status indicator used in the job
// table, mirroring the IconActive/IconComplete/IconFailed constants the
// teacher's TUI defines for its own unit rows.
func IconForStatus(status string) string {
	switch status {
	case "queued":
		return "○"
	case "running":
		return "●"
	case "done":
		return "✓"
	case "failed", "error":
		return "✗"
	case "cancelled":
		return "⊘"
	default:
		return "·"
	}
}
