package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"})

	stateStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#6124DF"})

	speakerStyles = map[string]lipgloss.Style{
		"agent":     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#0B7A75", Dark: "#43BF6D"}),
		"player":    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#A05A00", Dark: "#F2B84B"}),
		"narration": lipgloss.NewStyle().Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#A49FA5"}),
		"system":    lipgloss.NewStyle().Faint(true),
	}

	timeStyle = lipgloss.NewStyle().Faint(true)

	voiceStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8E8E8E", Dark: "#747373"})

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D12F2F", Dark: "#FF5F87"})

	promptStyle = lipgloss.NewStyle().Bold(true)

	inputBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"})
)
