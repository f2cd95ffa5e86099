// Package api is the HTTP surface: chat CRUD, message sending over
// REST and SSE, anonymous ephemeral chats, and migration.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/ephemeral"
)

// ServerConfig contains the dependencies for the API server.
type ServerConfig struct {
	Logger   *slog.Logger
	Config   *config.Config      // Required
	Store    chat.Store          // Required
	Registry *ephemeral.Registry // Required
	Service  *chat.Service       // Required
	Verifier *auth.Verifier      // Required
	Pool     *pgxpool.Pool       // Optional: nil disables DB ping in /readyz
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Config == nil:
		return nil, errors.New("config is required")
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Registry == nil:
		return nil, errors.New("registry is required")
	case cfg.Service == nil:
		return nil, errors.New("chat service is required")
	case cfg.Verifier == nil:
		return nil, errors.New("token verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		store:    cfg.Store,
		registry: cfg.Registry,
		svc:      cfg.Service,
		cfg:      cfg.Config,
		logger:   logger,
	}
	ah := &anonymousHandler{
		registry: cfg.Registry,
		svc:      cfg.Service,
		cfg:      cfg.Config,
		logger:   logger,
	}

	mux := http.NewServeMux()

	// Authenticated chat CRUD and sending
	mux.HandleFunc("POST /chats", requireAuth(logger, ch.createChat))
	mux.HandleFunc("GET /chats", requireAuth(logger, ch.listChats))
	mux.HandleFunc("POST /chats/migrate", requireAuth(logger, ch.migrateChats))
	mux.HandleFunc("GET /chats/{id}", requireAuth(logger, ch.getChat))
	mux.HandleFunc("PUT /chats/{id}", requireAuth(logger, ch.renameChat))
	mux.HandleFunc("DELETE /chats/{id}", requireAuth(logger, ch.deleteChat))
	mux.HandleFunc("POST /chats/{id}/messages", requireAuth(logger, ch.sendMessage))
	mux.HandleFunc("POST /chats/{id}/messages/stream", requireAuth(logger, ch.streamMessage))

	// Anonymous ephemeral chats
	mux.HandleFunc("POST /anonymous/chats", ah.createChat)
	mux.HandleFunc("POST /anonymous/chats/{id}/messages", ah.sendMessage)
	mux.HandleFunc("POST /anonymous/chats/{id}/messages/stream", ah.streamMessage)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.Config.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Verifier, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.Config.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.Config.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", healthz)
	topMux.Handle("GET /readyz", readyz(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
