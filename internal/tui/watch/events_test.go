package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itops/hub/internal/bus"
)

func entry(kind, data string) bus.Entry {
	return bus.Entry{ID: 1, Kind: kind, At: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), Data: []byte(data)}
}

func TestExtractEntryDesc(t *testing.T) {
	tests := []struct {
		name string
		e    bus.Entry
		want string
	}{
		{"build", entry("build", `{"repo": "acme/repo", "pr": 7, "description": "Build successful"}`),
			"acme/repo #7 Build successful"},
		{"internal", entry("internal", `{"message": "Rebuilding acme/repo PR 7 (via push)"}`),
			"Rebuilding acme/repo PR 7 (via push)"},
		{"ticket", entry("ticket.open", `{"ticket": {"title": "Stream keeps dropping"}}`),
			"Stream keeps dropping"},
		{"chat", entry("chat.message", `{"from": "alice", "text": "rebuild repo:pr 7"}`),
			"alice: rebuild repo:pr 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractEntryDesc(tt.e))
		})
	}
}

func TestExtractEntryDescFallsBackToRaw(t *testing.T) {
	got := extractEntryDesc(entry("github.raw", `{"event": "push"}`))
	assert.Equal(t, `{"event": "push"}`, got)
}

func TestRenderEventLinesEmpty(t *testing.T) {
	out := renderEventLines(nil, NewDefaultTheme())
	assert.Contains(t, out, "Waiting for events")
}
