package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/calendar"
	"github.com/diyartec/calassist/internal/logging"
)

func (s *Server) handleCalendarPrimary(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	fields := audit.Fields{"rid": middleware.GetReqID(ctx), "sid_hash": audit.HashSID(a.ID)}

	list, err := s.calendar.PrimaryCalendars(ctx, a.Record.Tokens.AccessToken)
	if err != nil {
		fields["error"] = err.Error()
		s.audit.Emit(ctx, audit.EventCalendarListFailed, fields)
		s.logger.Warn("calendar list failed", logging.Err(err))
		writeError(w, http.StatusBadGateway, "calendar_fetch_failed")
		return
	}
	fields["item_count"] = len(list.Items)
	s.audit.Emit(ctx, audit.EventCalendarListSuccess, fields)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleEventCreate(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	rid := middleware.GetReqID(ctx)

	ev := &gcal.Event{}
	if err := decodeJSON(r, ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event")
		return
	}
	created, err := s.calendar.CreateEvent(ctx, a.Record.Tokens.AccessToken, ev)
	if err != nil {
		fields := audit.Fields{"rid": rid}
		if status := calendar.StatusOf(err); status != 0 {
			fields["error"] = status
		}
		s.audit.Emit(ctx, audit.EventCalendarEventCreateFailed, fields)
		writeError(w, http.StatusBadGateway, "event_create_failed")
		return
	}
	s.audit.Emit(ctx, audit.EventCalendarEventCreate, audit.Fields{"rid": rid})
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleEventGet(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	ev, err := s.calendar.GetEvent(r.Context(), a.Record.Tokens.AccessToken, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case err != nil:
		writeError(w, http.StatusBadGateway, "event_fetch_failed")
	default:
		writeJSON(w, http.StatusOK, ev)
	}
}

func (s *Server) handleEventUpdate(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	ev := &gcal.Event{}
	if err := decodeJSON(r, ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event")
		return
	}
	updated, err := s.calendar.UpdateEvent(ctx, a.Record.Tokens.AccessToken, chi.URLParam(r, "id"), ev)
	if err != nil {
		writeError(w, http.StatusBadGateway, "event_update_failed")
		return
	}
	s.audit.Emit(ctx, audit.EventCalendarEventUpdate, audit.Fields{"rid": middleware.GetReqID(ctx)})
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleEventDelete(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := s.calendar.DeleteEvent(ctx, a.Record.Tokens.AccessToken, chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadGateway, "event_delete_failed")
		return
	}
	s.audit.Emit(ctx, audit.EventCalendarEventDelete, audit.Fields{"rid": middleware.GetReqID(ctx)})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
