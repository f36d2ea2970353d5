package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderCounters shows how many events of each kind arrived this session,
// in first-seen order.
func renderCounters(kinds []string, counters map[string]int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(kinds) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT COUNTERS"),
			theme.Dim.Render("  No events yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var cells []string
	for _, kind := range kinds {
		cells = append(cells, fmt.Sprintf("%s %s",
			theme.Header.Render(kind),
			theme.Highlight.Render(fmt.Sprintf("%d", counters[kind]))))
	}

	row := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(cells, "   "))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT COUNTERS"),
		row,
	)

	return theme.Border.Width(innerWidth).Render(content)
}
