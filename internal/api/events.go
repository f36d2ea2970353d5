// Package api serves the authenticated machine interface: the live event
// stream consumed by the watch TUI and any other SSE client.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/itops/hub/internal/bus"
)

const keepAliveInterval = 15 * time.Second

// EventsHandler streams the bus feed over SSE. Reconnecting clients present
// Last-Event-ID and get the buffered entries they missed first.
type EventsHandler struct {
	feed   *bus.Feed
	apiKey string
	logger *slog.Logger
}

func NewEventsHandler(feed *bus.Feed, apiKey string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{feed: feed, apiKey: apiKey, logger: logger}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := ExtractAPIKey(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if !ValidateAPIKey(key, h.apiKey) {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	// Send buffered entries first for late clients.
	for _, e := range h.feed.SnapshotSince(lastID) {
		if err := writeSSE(w, e); err != nil {
			return
		}
	}
	flusher.Flush()

	ch, cancel := h.feed.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, e); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			// SSE comment line as keep-alive.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, e bus.Entry) error {
	// SSE framing: https://html.spec.whatwg.org/multipage/server-sent-events.html
	if _, err := fmt.Fprintf(w, "id: %d\n", e.ID); err != nil {
		return err
	}
	if e.Kind != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Kind); err != nil {
			return err
		}
	}
	// Data must be on "data:" lines; entries carry single-line JSON.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", e.Data); err != nil {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\": %q}\n", message)
}
