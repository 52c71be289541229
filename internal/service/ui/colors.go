// Package ui holds the terminal styles shared by the CLI commands.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// TitleStyle is ANSI 6 (cyan), readable on dark and light terminals.
	TitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true).MarginBottom(1)

	UsageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	// DescStyle is dimmed so descriptions don't compete with names.
	DescStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	FlagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	WarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// statusStyles colours ingestion outcomes.
var statusStyles = map[string]lipgloss.Style{
	"new":     SuccessStyle,
	"updated": WarnStyle,
	"skipped": DescStyle,
	"error":   ErrorStyle,
	"purged":  FlagStyle,
}

// Badge renders status as a fixed-width coloured label.
func Badge(status string) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(status))
	if st, ok := statusStyles[status]; ok {
		return st.Render(label)
	}
	return label
}
