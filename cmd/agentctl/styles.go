package main

import "github.com/charmbracelet/lipgloss"

var (
	agentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// verdictStyle colors a stability verdict.
func verdictStyle(verdict string) lipgloss.Style {
	switch verdict {
	case "stable":
		return okStyle
	case "degraded":
		return warnStyle
	default:
		return errorStyle
	}
}
