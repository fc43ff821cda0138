// Package api provides the HTTP server for the progression engine.
// Callers report events, read stats and stream their transitions live.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
	"github.com/valdirmariano/altaper4mance-sub000/internal/health"
)

// HistoryReader returns recent transition batches for a user.
type HistoryReader interface {
	RecentTransitions(ctx context.Context, userID string, limit int) ([]domain.TransitionBatch, error)
}

// Server is the HTTP API server.
type Server struct {
	svc            *progression.Service
	auth           *Authenticator
	hub            *Hub
	health         *health.Checker
	history        HistoryReader
	leaderboard    domain.Leaderboard
	metricsEnabled bool
	corsOrigins    []string
	log            *zap.Logger
}

// NewServer creates a new API server.
func NewServer(svc *progression.Service, auth *Authenticator, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if auth == nil {
		auth = NewAuthenticator(nil)
	}
	return &Server{svc: svc, auth: auth, hub: hub, log: log}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the checker behind /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetHistory enables GET /api/users/me/transitions.
func (s *Server) SetHistory(h HistoryReader) { s.history = h }

// SetLeaderboard enables GET /api/leaderboard.
func (s *Server) SetLeaderboard(l domain.Leaderboard) { s.leaderboard = l }

// SetCORSOrigins restricts CORS and websocket upgrades to the given
// origins. Empty allows any.
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
	if s.hub != nil {
		s.hub.SetAllowedOrigins(origins)
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/badges", s.handleBadges)
			r.Get("/level/{xp}", s.handleLevel)
			r.Get("/events", s.handleEventKinds)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.identify)
			r.With(middleware.Timeout(30*time.Second)).Post("/events/{kind}", s.handleEvent)
			r.With(middleware.Timeout(30*time.Second)).Get("/users/me/stats", s.handleStats)
			r.With(middleware.Timeout(30*time.Second)).Get("/users/me/transitions", s.handleHistory)
			r.With(middleware.Timeout(30*time.Second)).Get("/leaderboard", s.handleLeaderboard)
			// No timeout: the socket lives as long as the client.
			r.Get("/users/me/transitions/ws", s.handleTransitionsWS)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	statuses := s.health.Statuses()
	if len(statuses) == 0 {
		statuses = s.health.RunOnce(r.Context())
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": statuses,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.corsOrigins) > 0 {
			origin = ""
			if reqOrigin := r.Header.Get("Origin"); originAllowed(s.corsOrigins, reqOrigin) {
				origin = reqOrigin
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin matches the allow list. An empty
// list or a "*" entry allows any.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
