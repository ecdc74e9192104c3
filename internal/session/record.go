package session

import (
	"slices"
	"time"

	"github.com/diyartec/calassist/internal/oauth"
)

// Tokens is the token bundle kept with a session. RefreshToken holds the
// cipher envelope, never the plaintext.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	AcquiredAt   int64  `json:"acquired_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExpiresAt is the access token expiry, or the zero time when unknown.
func (t Tokens) ExpiresAt() time.Time {
	if t.AcquiredAt == 0 || t.ExpiresIn == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.AcquiredAt).Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Acceptance records the legal document versions the user accepted. Nil
// means not accepted.
type Acceptance struct {
	PrivacyVersion *string `json:"privacyVersion"`
	TermsVersion   *string `json:"termsVersion"`
}

// Record is the server-side session state. Timestamps are Unix milliseconds.
type Record struct {
	User       oauth.Profile `json:"user"`
	Tokens     Tokens        `json:"tokens"`
	CreatedAt  int64         `json:"createdAt"`
	LastAccess int64         `json:"lastAccess"`
	CSRFSecret string        `json:"csrfSecret"`
	Accepted   Acceptance    `json:"accepted"`
	IPSet      []string      `json:"ipSet"`
}

// TrackIP adds ip to the observed set and reports the resulting set size.
func (r *Record) TrackIP(ip string) int {
	if ip != "" && !slices.Contains(r.IPSet, ip) {
		r.IPSet = append(r.IPSet, ip)
	}
	return len(r.IPSet)
}

// Accept marks document ("privacy" or "terms") as accepted at version.
// It reports false for unknown documents.
func (r *Record) Accept(document, version string) bool {
	v := version
	switch document {
	case DocumentPrivacy:
		r.Accepted.PrivacyVersion = &v
	case DocumentTerms:
		r.Accepted.TermsVersion = &v
	default:
		return false
	}
	return true
}

// Accepted documents.
const (
	DocumentPrivacy = "privacy"
	DocumentTerms   = "terms"
)

// HasAccepted reports whether the stored version for document equals version.
func (r *Record) HasAccepted(document, version string) bool {
	var got *string
	switch document {
	case DocumentPrivacy:
		got = r.Accepted.PrivacyVersion
	case DocumentTerms:
		got = r.Accepted.TermsVersion
	}
	return got != nil && *got == version
}
