package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/config"
	"github.com/itops/hub/internal/trust"
)

// Server is the hub's HTTP boundary. It authenticates each sender, publishes
// raw events onto the bus, and serves the status page and event stream.
type Server struct {
	cfg    *config.Config
	bus    *bus.Bus
	trust  *trust.Set
	logger *slog.Logger
	limit  *rateLimiter
	server *http.Server

	// Mounted by the composition root; nil handlers return 404.
	statusHandler http.Handler
	eventsHandler http.Handler
}

// New creates the webhook server. Status and event-stream handlers are
// mounted separately so their packages stay independent of this one.
func New(cfg *config.Config, b *bus.Bus, trustSet *trust.Set, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		bus:    b,
		trust:  trustSet,
		logger: logger,
		limit:  newRateLimiter(cfg.Limits.RatePerMinute),
	}
}

// MountStatus installs the handler served at GET /.
func (s *Server) MountStatus(h http.Handler) { s.statusHandler = h }

// MountEvents installs the handler served at GET /api/events.
func (s *Server) MountEvents(h http.Handler) { s.eventsHandler = h }

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.Router()

	s.server = &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Long write timeout: /api/events holds its connection open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Router configures the HTTP router. Exposed for tests.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleStatus)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/events", s.handleEvents)

	// Every ingest endpoint sits behind the per-IP rate limiter.
	r.Group(func(r chi.Router) {
		r.Use(s.limit.middleware)

		r.Post("/github", s.handleGitHub)
		r.Post("/buildbot/{token}", s.handleBuildbot)
		r.Post("/agent/{token}", s.handleAgent)
		r.Post("/chat/{token}", s.handleChat)

		r.Post("/whmcs/ticket-open", s.ticketHandler("ticket-open"))
		r.Post("/whmcs/ticket-reply-or-note", s.ticketHandler("ticket-reply-or-note"))
		r.Post("/whmcs/ticket-flag", s.ticketHandler("ticket-flag"))
		r.Post("/whmcs/ticket-status-change", s.ticketHandler("ticket-status-change"))
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus serves the status page. Unless public_status is set, only
// loopback clients may see it.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.statusHandler == nil {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	if !s.cfg.PublicStatus && !isLoopback(r.RemoteAddr) {
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	s.statusHandler.ServeHTTP(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventsHandler == nil {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.eventsHandler.ServeHTTP(w, r)
}

// readBody reads the request body under the size cap. A false return means a
// response has already been written.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}
	return body, true
}

// checkToken compares the {token} path segment against the configured
// capability token. A wrong token is indistinguishable from a missing route.
func (s *Server) checkToken(w http.ResponseWriter, r *http.Request, want string) bool {
	if want == "" || chi.URLParam(r, "token") != want {
		s.respondError(w, http.StatusNotFound, "not found")
		return false
	}
	return true
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// clientIP strips the port when present. Behind middleware.RealIP the
// remote address is already a bare IP.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func isLoopback(remoteAddr string) bool {
	ip := net.ParseIP(clientIP(remoteAddr))
	return ip != nil && ip.IsLoopback()
}
