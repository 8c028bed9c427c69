package alerts

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Renderer styles alerts for a terminal.
type Renderer struct {
	normal   lipgloss.Style
	warning  lipgloss.Style
	critical lipgloss.Style
	dim      lipgloss.Style
}

// NewRenderer returns the default severity palette.
func NewRenderer() *Renderer {
	return &Renderer{
		normal:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		critical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9")),
		dim:      lipgloss.NewStyle().Faint(true),
	}
}

// Style returns the style used for l.
func (r *Renderer) Style(l Level) lipgloss.Style {
	switch l {
	case Warning:
		return r.warning
	case Critical:
		return r.critical
	default:
		return r.normal
	}
}

// Transition renders a transition line.
func (r *Renderer) Transition(t Transition) string {
	return fmt.Sprintf("%s %s",
		r.dim.Render(t.At.Format("15:04:05")),
		r.Style(t.To).Render(t.Message()))
}

// Active renders the active set as one line per alert, or a placeholder.
func (r *Renderer) Active(list []Alert) string {
	if len(list) == 0 {
		return r.normal.Render("no active alerts")
	}
	lines := make([]string, len(list))
	for i, a := range list {
		lines[i] = r.Style(a.Level).Render(a.Message)
	}
	return strings.Join(lines, "\n")
}
