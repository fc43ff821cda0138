package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

const maxEventBody = 64 << 10

type badgeResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Icon        string               `json:"icon"`
	Category    domain.BadgeCategory `json:"category"`
	Rule        domain.BadgeRule     `json:"rule"`
}

type statsResponse struct {
	domain.UserStats
	Progress progression.Progress `json:"progress"`
}

// GET /api/badges
func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request) {
	defs := s.svc.Dispatcher().Registry().Definitions()
	out := make([]badgeResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, badgeResponse{
			ID: d.ID, Name: d.Name, Description: d.Description,
			Icon: d.Icon, Category: d.Category, Rule: d.Rule,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": out})
}

// GET /api/level/{xp}
func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	xp, err := strconv.ParseInt(chi.URLParam(r, "xp"), 10, 64)
	if err != nil || xp < 0 {
		writeError(w, http.StatusBadRequest, "xp must be a non-negative integer")
		return
	}
	writeJSON(w, http.StatusOK, progression.ProgressFor(xp))
}

// GET /api/events
func (s *Server) handleEventKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"kinds": domain.EventKinds()})
}

// GET /api/users/me/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{UserStats: stats, Progress: progression.ProgressFor(stats.XP)})
}

// POST /api/events/{kind}
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	kind := domain.EventKind(chi.URLParam(r, "kind"))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "event payload too large")
		return
	}
	ev, err := domain.DecodeEvent(kind, body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out, err := s.svc.Dispatch(r.Context(), identityFrom(r.Context()), ev)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if out.Skipped {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
		return
	}
	if out.Transitions == nil {
		out.Transitions = []domain.Transition{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/users/me/transitions?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	who := identityFrom(r.Context())
	if !who.Authenticated() {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error())
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "transition history not enabled for this store")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	batches, err := s.history.RecentTransitions(r.Context(), who.UserID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if batches == nil {
		batches = []domain.TransitionBatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

// GET /api/leaderboard?limit=N
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !identityFrom(r.Context()).Authenticated() {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error())
		return
	}
	if s.leaderboard == nil {
		writeError(w, http.StatusNotFound, "leaderboard not enabled for this store")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	entries, err := s.leaderboard.TopByXP(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	for i := range entries {
		entries[i].Level = progression.LevelFor(entries[i].XP).Level
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GET /api/users/me/transitions/ws
func (s *Server) handleTransitionsWS(w http.ResponseWriter, r *http.Request) {
	who := identityFrom(r.Context())
	if !who.Authenticated() {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error())
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "live transitions disabled")
		return
	}
	s.hub.ServeWS(w, r, who.UserID)
}

// writeServiceError maps domain errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownEventKind):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
