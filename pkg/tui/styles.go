package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	toolStyle         = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("244"))
	modeStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	reconnectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle         = lipgloss.NewStyle().Faint(true)
)

func visibleWidth(s string) int {
	return lipgloss.Width(s)
}
