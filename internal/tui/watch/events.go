package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/itops/hub/internal/bus"
)

// renderEventLines formats the log, newest first, for the stream viewport.
func renderEventLines(eventLog []bus.Entry, theme Theme) string {
	if len(eventLog) == 0 {
		return theme.Dim.Render("  Waiting for events...")
	}

	var lines []string
	for _, e := range eventLog {
		lines = append(lines, formatEntry(e, theme))
	}
	return strings.Join(lines, "\n")
}

func formatEntry(e bus.Entry, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var kindStyle lipgloss.Style
	switch {
	case e.Kind == "agent.error" || strings.HasSuffix(e.Kind, ".flag"):
		kindStyle = theme.StatusFailed
	case e.Kind == "build" || e.Kind == "build.release":
		kindStyle = buildStyle(e, theme)
	case strings.HasPrefix(e.Kind, "ticket."):
		kindStyle = theme.Highlight
	case strings.HasSuffix(e.Kind, ".raw") || e.Kind == "internal":
		kindStyle = theme.Dim
	default:
		kindStyle = theme.Header
	}

	kindName := kindStyle.Render(fmt.Sprintf("%-22s", e.Kind))
	return fmt.Sprintf("%s %s %s", ts, kindName, extractEntryDesc(e))
}

// buildStyle colors build entries by their outcome.
func buildStyle(e bus.Entry, theme Theme) lipgloss.Style {
	var payload struct {
		State string `json:"state"`
	}
	_ = json.Unmarshal(e.Data, &payload)
	switch payload.State {
	case "success":
		return theme.StatusOK
	case "failure":
		return theme.StatusFailed
	default:
		return theme.StatusRunning
	}
}

// extractEntryDesc pulls a short human line out of the entry payload.
func extractEntryDesc(e bus.Entry) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if repo, ok := data["repo"].(string); ok && repo != "" {
		parts = append(parts, repo)
	}
	if pr, ok := data["pr"].(float64); ok && pr != 0 {
		parts = append(parts, fmt.Sprintf("#%d", int(pr)))
	}
	if desc, ok := data["description"].(string); ok && desc != "" {
		parts = append(parts, desc)
	}
	if msg, ok := data["message"].(string); ok && msg != "" {
		parts = append(parts, msg)
	}
	if ticket, ok := data["ticket"].(map[string]any); ok {
		if title, ok := ticket["title"].(string); ok {
			parts = append(parts, title)
		}
	}
	if from, ok := data["from"].(string); ok && from != "" {
		if text, ok := data["text"].(string); ok {
			parts = append(parts, fmt.Sprintf("%s: %s", from, text))
		}
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	line := strings.Join(parts, " ")
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return line
}
