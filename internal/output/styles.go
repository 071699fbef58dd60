package output

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	colorPrimary   = lipgloss.Color("205")
	colorSecondary = lipgloss.Color("241")
	colorSuccess   = lipgloss.Color("42")
	colorError     = lipgloss.Color("160")
	colorWarning   = lipgloss.Color("214")
	colorText      = lipgloss.Color("252")
)

// styles are bound to the printer's renderer so the color profile follows the
// writer, not the process's stdout.
type styles struct {
	title   lipgloss.Style
	subtle  lipgloss.Style
	success lipgloss.Style
	err     lipgloss.Style
	warn    lipgloss.Style
	text    lipgloss.Style
	header  lipgloss.Style
	box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Foreground(colorText).Bold(true),
		subtle:  r.NewStyle().Foreground(colorSecondary),
		success: r.NewStyle().Foreground(colorSuccess),
		err:     r.NewStyle().Foreground(colorError).Bold(true),
		warn:    r.NewStyle().Foreground(colorWarning),
		text:    r.NewStyle().Foreground(colorText),
		header:  r.NewStyle().Foreground(colorPrimary).Bold(true),
		box: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorSecondary).
			Padding(0, 1),
	}
}
