// Package status renders the plain HTML status page: the recent history of
// every event kind seen since start, newest first.
package status

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
)

// Handler serves the status page from the bus history rings.
type Handler struct {
	bus    *bus.Bus
	logger *slog.Logger
}

func NewHandler(b *bus.Bus, logger *slog.Logger) *Handler {
	return &Handler{bus: b, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	fmt.Fprint(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Status for Hub</title></head><body>`)
	fmt.Fprint(w, "<h2>Status for Hub</h2>")

	for _, kind := range h.bus.Kinds() {
		fmt.Fprintf(w, "<h3>Recent events for %s</h3><pre>", html.EscapeString(kind))
		h.writeRecent(w, h.bus.Recent(kind))
		fmt.Fprint(w, "</pre>")
	}

	fmt.Fprint(w, "<style>body { font-family: Roboto, serif; }</style></body></html>")
}

// writeRecent prints one line per event, newest first.
func (h *Handler) writeRecent(w http.ResponseWriter, events []event.Event) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("status page marshal failed", "kind", ev.Kind(), "error", err)
			continue
		}
		fmt.Fprintf(w, "%s   %s\n",
			event.When(ev).UTC().Format(time.RFC3339),
			html.EscapeString(string(data)))
	}
}
