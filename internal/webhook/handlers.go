package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/itops/hub/internal/event"
	"github.com/itops/hub/internal/normalize"
)

// handleGitHub verifies the delivery signature before anything else touches
// the payload, then publishes the raw hook for the normalizer.
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature")
	}
	if signature == "" {
		s.logger.Warn("github delivery without signature", "remote_addr", r.RemoteAddr)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	ghEvent := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	if ghEvent == "" || delivery == "" {
		s.respondError(w, http.StatusBadRequest, "missing event or delivery id")
		return
	}

	if err := VerifySignature(body, signature, s.cfg.GitHub.HookSecret); err != nil {
		s.logger.Warn("github signature verification failed", "delivery", delivery)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	s.bus.Publish(r.Context(), "http", &event.GitHubRawHook{
		Event:    ghEvent,
		Delivery: delivery,
		Payload:  json.RawMessage(body),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBuildbot(w http.ResponseWriter, r *http.Request) {
	if !s.checkToken(w, r, s.cfg.Buildbot.HookToken) {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if !json.Valid(body) {
		s.respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.bus.Publish(r.Context(), "http", &event.BuildbotRawHook{
		Payload: json.RawMessage(body),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if !s.checkToken(w, r, s.cfg.Agent.HookToken) {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Event == "" || !isJSONObject(req.Data) {
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.bus.Publish(r.Context(), "http", &event.AgentRawHook{
		Event: req.Event,
		Data:  req.Data,
		Addr:  clientIP(r.RemoteAddr),
	})
	w.WriteHeader(http.StatusNoContent)
}

// ticketHandler builds the handler for one WHMCS ticket action. The shared
// body token is checked first; the payload is then validated up front so the
// sender learns about malformed tickets instead of the bus.
func (s *Server) ticketHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}

		var payload normalize.TicketPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if s.cfg.WHMCS.Token == "" || payload.Token != s.cfg.WHMCS.Token {
			s.respondError(w, http.StatusForbidden, "forbidden")
			return
		}

		ev, err := normalize.TicketEvent(action, &payload, s.cfg.WHMCS.AdminURL)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		s.bus.Publish(r.Context(), "whmcs", ev)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleChat ingests messages relayed from the chat platform. Messages from
// channels outside the configured allowlist are acknowledged but dropped;
// direct messages always pass.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.checkToken(w, r, s.cfg.Chat.HookToken) {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req struct {
		From    string `json:"from"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		Direct  bool   `json:"direct"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.From == "" || req.Text == "" {
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	if !req.Direct && !s.channelAllowed(req.Channel) {
		s.logger.Debug("chat message from unwatched channel dropped", "channel", req.Channel)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.bus.Publish(r.Context(), "http", &event.ChatMessage{
		From:    req.From,
		Channel: req.Channel,
		Text:    req.Text,
		Direct:  req.Direct,
		Trusted: s.trust.Contains(req.From),
	})
	w.WriteHeader(http.StatusNoContent)
}

// channelAllowed reports whether the channel is on the allowlist. An empty
// allowlist watches everything.
func (s *Server) channelAllowed(channel string) bool {
	if len(s.cfg.Chat.Channels) == 0 {
		return true
	}
	for _, c := range s.cfg.Chat.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// isJSONObject reports whether raw is a JSON object, mirroring the "data
// must be an object" contract of the agent protocol.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
