package server

import (
	"net/http"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/session"
)

func (s *Server) documentVersion(document string) string {
	switch document {
	case session.DocumentPrivacy:
		return s.cfg.PrivacyPolicyVersion
	case session.DocumentTerms:
		return s.cfg.TermsVersion
	default:
		return ""
	}
}

func (s *Server) handleLegalAcceptance(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"acceptedPrivacy": a.Record.HasAccepted(session.DocumentPrivacy, s.cfg.PrivacyPolicyVersion),
		"acceptedTerms":   a.Record.HasAccepted(session.DocumentTerms, s.cfg.TermsVersion),
		"privacyVersion":  s.cfg.PrivacyPolicyVersion,
		"termsVersion":    s.cfg.TermsVersion,
	})
}

// handleLegalAccept records acceptance of the current version of one
// document in the session and, when a database is configured, on the user.
func (s *Server) handleLegalAccept(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var body struct {
		Document string `json:"document"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document")
		return
	}
	version := s.documentVersion(body.Document)
	if version == "" || !a.Record.Accept(body.Document, version) {
		writeError(w, http.StatusBadRequest, "invalid_document")
		return
	}
	if err := s.sessions.Save(ctx, a); err != nil {
		s.internalError(w, r, "save acceptance", err)
		return
	}

	if s.users != nil {
		if err := s.users.RecordAcceptance(ctx, a.Record.User.Sub, body.Document, version); err != nil {
			s.logger.Warn("failed to persist legal acceptance", logging.Err(err))
		}
	}

	s.audit.Emit(ctx, audit.EventLegalAccept, audit.Fields{
		"doc":       body.Document,
		"privacy_v": derefOrNil(a.Record.Accepted.PrivacyVersion),
		"terms_v":   derefOrNil(a.Record.Accepted.TermsVersion),
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func derefOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
