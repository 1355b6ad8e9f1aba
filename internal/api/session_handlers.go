package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/session"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 100
	maxRequestBytes     = 1 << 20
)

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req insights.SearchInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.handleError(w, "search failed", err)
		return
	}
	status := http.StatusOK
	if resp.Status == insights.StateStarted {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.handleError(w, "session status failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) sessionAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Analysis(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.handleError(w, "session analysis failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) cleanupSession(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Cleanup(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.handleError(w, "session cleanup failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Export(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.handleError(w, "session export failed", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

// listSessions handles GET /v1/sessions?limit=&offset=.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.svc.List(r.Context(), limit, offset)
	if err != nil {
		s.handleError(w, "list sessions failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleError maps service errors onto HTTP status codes.
func (s *Server) handleError(w http.ResponseWriter, op string, err error) {
	var vErr *insights.ValidationError
	switch {
	case errors.As(err, &vErr):
		s.writeError(w, http.StatusBadRequest, vErr.Message)
	case errors.Is(err, insights.ErrNotFound):
		s.writeError(w, http.StatusNotFound, session.MsgNoAnalysis)
	case errors.Is(err, session.ErrExportDisabled):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(op, zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
