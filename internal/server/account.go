package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/repository/postgres"
)

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-Admin-Key"

// handleDeletionRequest files an account deletion request for the session user.
func (s *Server) handleDeletionRequest(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	if s.users == nil || s.deletions == nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable")
		return
	}
	ctx := r.Context()
	sub := a.Record.User.Sub

	userID, err := s.users.FindIDBySub(ctx, sub)
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		s.logger.Error("deletion request lookup failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "request_failed")
		return
	}
	if _, err := s.deletions.Create(ctx, userID); err != nil {
		s.logger.Error("deletion request insert failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "request_failed")
		return
	}

	s.audit.Emit(ctx, audit.EventDeletionRequestCreated, audit.Fields{"sub": sub})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// requireAdmin rejects requests without the configured admin key. An empty
// key disables the admin routes.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.AdminAPIKey
		got := r.Header.Get(AdminKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(got)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAdminInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		SID string `json:"sid"`
		Sub string `json:"sub"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "sid_or_sub_required")
		return
	}

	var (
		count   int
		sidHash any
	)
	switch {
	case body.SID != "":
		if err := s.sessions.End(ctx, body.SID); err != nil {
			s.internalError(w, r, "invalidate session", err)
			return
		}
		count = 1
		sidHash = audit.HashSID(body.SID)
	case body.Sub != "":
		n, err := s.sessions.EndSubject(ctx, body.Sub)
		if err != nil {
			s.internalError(w, r, "invalidate subject sessions", err)
			return
		}
		count = n
	default:
		writeError(w, http.StatusBadRequest, "sid_or_sub_required")
		return
	}

	s.audit.Emit(ctx, audit.EventAdminSessionInvalidate, audit.Fields{
		"sid_hash": sidHash,
		"sub":      body.Sub,
		"count":    count,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "invalidated": count})
}

func (s *Server) handleAdminProcessDeletion(w http.ResponseWriter, r *http.Request) {
	if s.deletions == nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	ctx := r.Context()
	err = s.deletions.MarkProcessed(ctx, id)
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
		return
	case err != nil:
		s.logger.Error("deletion request update failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "process_failed")
		return
	}

	s.audit.Emit(ctx, audit.EventDeletionRequestProcessed, audit.Fields{"id": id})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
