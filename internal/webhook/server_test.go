package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/config"
	"github.com/itops/hub/internal/event"
	"github.com/itops/hub/internal/trust"
)

func testConfig() *config.Config {
	cfg := &config.Config{Listen: "127.0.0.1:0"}
	cfg.GitHub.HookSecret = "gh-secret"
	cfg.Buildbot.HookToken = "bb-token"
	cfg.Agent.HookToken = "agent-token"
	cfg.WHMCS.Token = "whmcs-token"
	cfg.WHMCS.AdminURL = "https://billing.example.com/admin"
	cfg.Chat.HookToken = "chat-token"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(cfg *config.Config) (*Server, *bus.Bus, *trust.Set) {
	b := bus.New(quietLogger())
	trustSet := trust.NewSet()
	return New(cfg, b, trustSet, quietLogger()), b, trustSet
}

// captured registers a collector on the bus and returns the slice it fills.
func captured[T event.Event](b *bus.Bus) *[]T {
	var out []T
	bus.Subscribe(b, func(ctx context.Context, ev T) error {
		out = append(out, ev)
		return nil
	})
	return &out
}

func post(t *testing.T, s *Server, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestGitHubValidDelivery(t *testing.T) {
	cfg := testConfig()
	s, b, _ := newTestServer(cfg)
	raws := captured[*event.GitHubRawHook](b)

	body := `{"zen":"Keep it logically awesome."}`
	rec := post(t, s, "/github", body, map[string]string{
		"X-Hub-Signature-256": "sha256=" + ComputeSignature([]byte(body), cfg.GitHub.HookSecret),
		"X-GitHub-Event":      "ping",
		"X-GitHub-Delivery":   "d-1",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, *raws, 1)
	raw := (*raws)[0]
	assert.Equal(t, "ping", raw.Event)
	assert.Equal(t, "d-1", raw.Delivery)
	assert.JSONEq(t, body, string(raw.Payload))
	assert.Equal(t, "http", raw.Source)
}

func TestGitHubRejections(t *testing.T) {
	cfg := testConfig()
	body := `{"zen":"x"}`
	good := "sha256=" + ComputeSignature([]byte(body), cfg.GitHub.HookSecret)

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no signature", map[string]string{
			"X-GitHub-Event": "ping", "X-GitHub-Delivery": "d-1",
		}, http.StatusForbidden},
		{"bad signature", map[string]string{
			"X-Hub-Signature-256": "sha256=" + strings.Repeat("0", 64),
			"X-GitHub-Event":      "ping", "X-GitHub-Delivery": "d-1",
		}, http.StatusForbidden},
		{"missing event header", map[string]string{
			"X-Hub-Signature-256": good, "X-GitHub-Delivery": "d-1",
		}, http.StatusBadRequest},
		{"missing delivery header", map[string]string{
			"X-Hub-Signature-256": good, "X-GitHub-Event": "ping",
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b, _ := newTestServer(cfg)
			raws := captured[*event.GitHubRawHook](b)

			rec := post(t, s, "/github", body, tt.headers)

			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, *raws, "rejected delivery must not reach the bus")
		})
	}
}

func TestGitHubLegacySignatureHeader(t *testing.T) {
	cfg := testConfig()
	s, b, _ := newTestServer(cfg)
	raws := captured[*event.GitHubRawHook](b)

	body := `{"zen":"y"}`
	rec := post(t, s, "/github", body, map[string]string{
		"X-Hub-Signature":   "sha1=" + computeSHA1([]byte(body), cfg.GitHub.HookSecret),
		"X-GitHub-Event":    "push",
		"X-GitHub-Delivery": "d-2",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, *raws, 1)
}

func TestBuildbotTokenPath(t *testing.T) {
	cfg := testConfig()
	s, b, _ := newTestServer(cfg)
	raws := captured[*event.BuildbotRawHook](b)

	rec := post(t, s, "/buildbot/wrong-token", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(t, s, "/buildbot/bb-token", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, s, "/buildbot/bb-token", `{"complete": false}`, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, *raws, 1)
}

func TestAgentValidation(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"event": "log", "data": {"message": "hi"}}`, http.StatusNoContent},
		{"missing event", `{"data": {}}`, http.StatusBadRequest},
		{"data not an object", `{"event": "log", "data": [1,2]}`, http.StatusBadRequest},
		{"not json", `nope`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b, _ := newTestServer(cfg)
			raws := captured[*event.AgentRawHook](b)

			rec := post(t, s, "/agent/agent-token", tt.body, nil)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				require.Len(t, *raws, 1)
				assert.Equal(t, "log", (*raws)[0].Event)
				assert.NotEmpty(t, (*raws)[0].Addr)
			} else {
				assert.Empty(t, *raws)
			}
		})
	}
}

func TestWHMCSTicketRoutes(t *testing.T) {
	cfg := testConfig()

	ticketBody := func(token string) string {
		return `{
			"token": "` + token + `",
			"ticket": {"id": "99", "title": "Help", "client_id": "7", "client_name": "Acme", "message": "please"},
			"who": "Dana Staff"
		}`
	}

	t.Run("wrong token", func(t *testing.T) {
		s, b, _ := newTestServer(cfg)
		opens := captured[*event.TicketOpen](b)

		rec := post(t, s, "/whmcs/ticket-open", ticketBody("bad"), nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, *opens)
	})

	t.Run("open", func(t *testing.T) {
		s, b, _ := newTestServer(cfg)
		opens := captured[*event.TicketOpen](b)

		rec := post(t, s, "/whmcs/ticket-open", ticketBody("whmcs-token"), nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.Len(t, *opens, 1)
		open := (*opens)[0]
		assert.Equal(t, "99", open.Ticket.ID)
		assert.Equal(t, "whmcs", open.Source)
	})

	t.Run("malformed payload is the sender's problem", func(t *testing.T) {
		s, b, _ := newTestServer(cfg)
		replies := captured[*event.TicketReply](b)

		body := `{"token": "whmcs-token", "ticket": {"id": "99", "title": "Help"}, "type": "auto-close"}`
		rec := post(t, s, "/whmcs/ticket-reply-or-note", body, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, *replies)
	})
}

func TestChatMessages(t *testing.T) {
	cfg := testConfig()
	cfg.Chat.Channels = []string{"ops"}

	t.Run("trusted sender on watched channel", func(t *testing.T) {
		s, b, trustSet := newTestServer(cfg)
		trustSet.Add("alice")
		msgs := captured[*event.ChatMessage](b)

		rec := post(t, s, "/chat/chat-token",
			`{"from": "alice", "channel": "ops", "text": "rebuild repo:pr 5"}`, nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.Len(t, *msgs, 1)
		assert.True(t, (*msgs)[0].Trusted)
	})

	t.Run("unwatched channel dropped", func(t *testing.T) {
		s, b, _ := newTestServer(cfg)
		msgs := captured[*event.ChatMessage](b)

		rec := post(t, s, "/chat/chat-token",
			`{"from": "alice", "channel": "random", "text": "hello"}`, nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, *msgs)
	})

	t.Run("direct message bypasses allowlist", func(t *testing.T) {
		s, b, _ := newTestServer(cfg)
		msgs := captured[*event.ChatMessage](b)

		rec := post(t, s, "/chat/chat-token",
			`{"from": "mallory", "text": "hi", "direct": true}`, nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.Len(t, *msgs, 1)
		assert.False(t, (*msgs)[0].Trusted)
	})
}

func TestStatusPageAccess(t *testing.T) {
	cfg := testConfig()
	s, _, _ := newTestServer(cfg)
	s.MountStatus(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("status"))
	}))

	get := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get("127.0.0.1:5000").Code)
	assert.Equal(t, http.StatusForbidden, get("203.0.113.9:5000").Code)

	cfg.PublicStatus = true
	assert.Equal(t, http.StatusOK, get("203.0.113.9:5000").Code)
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.RatePerMinute = 2
	s, b, _ := newTestServer(cfg)
	raws := captured[*event.BuildbotRawHook](b)

	var last int
	for i := 0; i < 5; i++ {
		last = post(t, s, "/buildbot/bb-token", `{}`, nil).Code
	}

	assert.Equal(t, http.StatusTooManyRequests, last)
	// The burst allowance admits the first requests, nothing more.
	assert.Len(t, *raws, 2)
}

func TestBodySizeLimit(t *testing.T) {
	cfg := testConfig()
	s, b, _ := newTestServer(cfg)
	raws := captured[*event.BuildbotRawHook](b)

	huge := `{"pad": "` + strings.Repeat("a", MaxBodySize) + `"}`
	rec := post(t, s, "/buildbot/bb-token", huge, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, *raws)
}
