package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#2E7D9A")
	colorAccent  = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#7A8699")
	colorError   = lipgloss.Color("#E53935")
	colorBorder  = lipgloss.Color("#3A4A60")
)

// Styles holds the styled components of every view.
type Styles struct {
	App      lipgloss.Style
	Header   lipgloss.Style
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Help     lipgloss.Style

	Label        lipgloss.Style
	FocusedLabel lipgloss.Style
	Prompt       lipgloss.Style

	Selected lipgloss.Style
	Answered lipgloss.Style
	Option   lipgloss.Style
	Chosen   lipgloss.Style

	Panel   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Spinner lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		App: lipgloss.NewStyle().Padding(1, 2),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorPrimary).
			Padding(0, 1),
		Title:    lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Subtitle: lipgloss.NewStyle().Italic(true).Foreground(colorMuted),
		Muted:    lipgloss.NewStyle().Foreground(colorMuted),
		Help:     lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1),

		Label:        lipgloss.NewStyle().Foreground(colorMuted),
		FocusedLabel: lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Prompt:       lipgloss.NewStyle().Foreground(colorAccent),

		Selected: lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Answered: lipgloss.NewStyle().Foreground(colorAccent),
		Option:   lipgloss.NewStyle().Foreground(colorMuted),
		Chosen:   lipgloss.NewStyle().Bold(true).Underline(true).Foreground(colorAccent),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		Success: lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(colorError),
		Spinner: lipgloss.NewStyle().Foreground(colorPrimary),
	}
}
