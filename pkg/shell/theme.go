package shell

import "github.com/charmbracelet/lipgloss"

type theme struct {
	Muted   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color

	Window     lipgloss.Style
	Title      lipgloss.Style
	TitleMuted lipgloss.Style
	Key        lipgloss.Style
	KeyLabel   lipgloss.Style
	Separator  lipgloss.Style
}

func defaultTheme() theme {
	primary := lipgloss.Color("#7C3AED")   // Purple
	secondary := lipgloss.Color("#06B6D4") // Cyan
	success := lipgloss.Color("#22C55E")   // Green
	warning := lipgloss.Color("#EAB308")   // Yellow
	errorC := lipgloss.Color("#EF4444")    // Red
	muted := lipgloss.Color("#6B7280")     // Gray
	text := lipgloss.Color("#F9FAFB")      // White
	textDim := lipgloss.Color("#9CA3AF")   // Light gray

	return theme{
		Muted:   muted,
		Success: success,
		Warning: warning,
		Error:   errorC,

		Window: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primary).
			Padding(0, 1),
		Title:      lipgloss.NewStyle().Bold(true).Foreground(text),
		TitleMuted: lipgloss.NewStyle().Foreground(textDim),
		Key:        lipgloss.NewStyle().Bold(true).Foreground(secondary),
		KeyLabel:   lipgloss.NewStyle().Foreground(textDim),
		Separator:  lipgloss.NewStyle().Foreground(muted),
	}
}

// statusStyle colours a sequencer status line by its phase prefix.
func (t theme) statusStyle(status string) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch {
	case status == "ready":
		return s.Foreground(t.Success)
	case len(status) >= 6 && status[:6] == "failed":
		return s.Foreground(t.Error)
	default:
		return s.Foreground(t.Warning)
	}
}
