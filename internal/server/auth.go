package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/clientip"
	"github.com/diyartec/calassist/internal/csrf"
	"github.com/diyartec/calassist/internal/instrumentation"
	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/notify"
	"github.com/diyartec/calassist/internal/oauth"
	"github.com/diyartec/calassist/internal/repository/postgres"
	"github.com/diyartec/calassist/internal/session"
)

// handleAuthStart begins the authorization code flow. State and the PKCE
// verifier travel in short-lived cookies.
func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	state, err := oauth.GenerateState()
	if err != nil {
		s.internalError(w, r, "generate oauth state", err)
		return
	}
	verifier, err := oauth.GenerateCodeVerifier()
	if err != nil {
		s.internalError(w, r, "generate pkce verifier", err)
		return
	}

	s.cookies.SetTransient(w, session.StateCookie, state)
	s.cookies.SetTransient(w, session.VerifierCookie, verifier)
	http.Redirect(w, r, s.provider.AuthCodeURL(state, oauth.GenerateCodeChallenge(verifier)), http.StatusFound)
}

// handleAuthCallback completes the login: state check, code exchange, ID
// token verification, profile resolution and session creation.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetReqID(ctx)

	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	stored := cookieValue(r, session.StateCookie)
	verifier := cookieValue(r, session.VerifierCookie)

	// Transient cookies are single use whatever the outcome.
	s.cookies.Clear(w, session.StateCookie)
	s.cookies.Clear(w, session.VerifierCookie)

	if code == "" || state == "" || state != stored {
		s.audit.Emit(ctx, audit.EventLoginFailed, audit.Fields{
			"rid":    rid,
			"reason": "state_mismatch_or_missing_code",
		})
		s.metrics.RecordLogin(ctx, instrumentation.ResultFailure)
		writeError(w, http.StatusBadRequest, "state_mismatch")
		return
	}

	tokens, err := s.provider.Exchange(ctx, code, verifier)
	if err != nil {
		fields := audit.Fields{"rid": rid, "reason": "oauth_exchange_error", "error": err.Error()}
		if status := oauth.StatusOf(err); status != 0 {
			fields["status"] = status
		}
		s.audit.Emit(ctx, audit.EventOAuthExchangeError, fields)
		s.metrics.RecordLogin(ctx, instrumentation.ResultFailure)
		s.logger.Warn("oauth code exchange failed", logging.Err(err))
		writeError(w, http.StatusBadGateway, "oauth_exchange_failed")
		return
	}

	claims, err := s.provider.VerifyIDToken(ctx, tokens.IDToken)
	if err != nil {
		s.audit.Emit(ctx, audit.EventIDTokenVerificationError, audit.Fields{
			"rid":    rid,
			"reason": "id_token_verification_failed",
			"error":  err.Error(),
		})
		s.metrics.RecordLogin(ctx, instrumentation.ResultFailure)
		writeError(w, http.StatusBadRequest, "invalid_id_token")
		return
	}

	profile := oauth.ProfileFromClaims(claims)
	if info, err := s.provider.UserInfo(ctx, tokens.AccessToken); err != nil {
		s.logger.Debug("userinfo unavailable, using id token claims", logging.Err(err))
	} else if info.Sub == profile.Sub {
		profile = *info
	}

	if s.users != nil {
		err := s.users.Upsert(ctx, postgres.User{
			Sub:     profile.Sub,
			Email:   profile.Email,
			Name:    profile.Name,
			Picture: profile.Picture,
		})
		if err != nil {
			s.logger.Error("user upsert failed", logging.UserHash(profile.Email), logging.Err(err))
		}
	}

	active, err := s.sessions.Create(ctx, profile, tokens, clientip.FromRequest(r, s.cfg.TrustProxy))
	if err != nil {
		s.metrics.RecordLogin(ctx, instrumentation.ResultFailure)
		s.internalError(w, r, "create session", err)
		return
	}
	s.cookies.SetSession(w, active.ID)

	s.audit.Emit(ctx, audit.EventLoginSuccess, audit.Fields{
		"rid":      rid,
		"sub":      profile.Sub,
		"email":    profile.Email,
		"sid_hash": audit.HashSID(active.ID),
	})
	s.metrics.RecordLogin(ctx, instrumentation.ResultSuccess)
	s.webhook.LoginCompleted(notify.NewLoginEvent(profile, tokens))

	http.Redirect(w, r, strings.TrimSuffix(s.cfg.FrontendBaseURL, "/")+"/dashboard", http.StatusFound)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": a.Record.User})
}

// handleCSRFToken issues the double-submit token for the current session.
func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	token := csrf.Token(a.Record.CSRFSecret, a.ID)
	s.cookies.SetCSRF(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := s.cookies.SessionID(r)

	if s.cfg.CSRFProtection {
		var rec *session.Record
		if sid != "" {
			rec, _ = s.sessions.Lookup(ctx, sid)
		}
		if rec == nil {
			s.audit.Emit(ctx, audit.EventCSRFInvalid, audit.Fields{"reason": "no_session_for_logout"})
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		switch err := csrf.Verify(rec.CSRFSecret, sid, r.Header.Get(csrf.HeaderName)); {
		case errors.Is(err, csrf.ErrMissing):
			s.audit.Emit(ctx, audit.EventCSRFMissing, audit.Fields{"path": r.URL.Path})
			writeError(w, http.StatusForbidden, "csrf_required")
			return
		case err != nil:
			s.audit.Emit(ctx, audit.EventCSRFInvalid, audit.Fields{"reason": "mismatch", "path": r.URL.Path})
			writeError(w, http.StatusForbidden, "csrf_invalid")
			return
		}
	}

	var sidHash any
	if sid != "" {
		if err := s.sessions.End(ctx, sid); err != nil {
			s.logger.Warn("failed to delete session on logout", logging.SIDHash(sid), logging.Err(err))
		}
		sidHash = audit.HashSID(sid)
	}
	s.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	s.audit.Emit(ctx, audit.EventLogout, audit.Fields{
		"rid":      middleware.GetReqID(ctx),
		"sid_hash": sidHash,
	})
}

// handleRefresh forces a refresh grant for the current session.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}

	err := s.sessions.ForceRefresh(r.Context(), a)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":          true,
			"expires_in":  a.Record.Tokens.ExpiresIn,
			"acquired_at": a.Record.Tokens.AcquiredAt,
		})
		return
	}

	var se *session.Error
	if !errors.As(err, &se) {
		s.internalError(w, r, "force refresh", err)
		return
	}
	if errors.Is(err, session.ErrReauthRequired) {
		s.cookies.ClearSession(w)
	}
	writeError(w, se.Status, se.Reason)
}

// ensureSession applies the session lifecycle to the request. On failure it
// has already written the response.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) (*session.Active, bool) {
	sid := s.cookies.SessionID(r)
	a, err := s.sessions.Ensure(r.Context(), sid, clientip.FromRequest(r, s.cfg.TrustProxy))
	if err != nil {
		var se *session.Error
		if !errors.As(err, &se) {
			s.internalError(w, r, "ensure session", err)
			return nil, false
		}
		body := map[string]any{"authenticated": false}
		if se.Reason != "" {
			body["reason"] = se.Reason
			s.cookies.ClearSession(w)
		}
		writeJSON(w, se.Status, body)
		return nil, false
	}
	if a.Rotated {
		s.cookies.SetSession(w, a.ID)
	}
	return a, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error("request failed",
		logging.Operation(op),
		"path", r.URL.Path,
		"rid", middleware.GetReqID(r.Context()),
		logging.Err(err))
	writeError(w, http.StatusInternalServerError, "internal_error")
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
