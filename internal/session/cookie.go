package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// Cookie names used by the login flow and CSRF issuer.
const (
	DefaultCookieName = "calassist_sid"
	StateCookie       = "oauth_state"
	VerifierCookie    = "pkce_verifier"
	CSRFCookie        = "csrf_token"
)

// Cookie lifetimes.
const (
	SessionCookieMaxAge   = 7 * 24 * time.Hour
	TransientCookieMaxAge = 5 * time.Minute
	CSRFCookieMaxAge      = time.Hour
)

// Cookies writes the gateway's cookies with consistent attributes.
type Cookies struct {
	// Name is the session cookie name.
	Name string
	// Secure sets the Secure attribute, on in production.
	Secure bool
	// Domain is optional.
	Domain string
	// Secret signs the session cookie value. Unsigned when empty.
	Secret string
}

// CookieName returns the session cookie name.
func (c Cookies) CookieName() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

func (c Cookies) cookie(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	switch {
	case maxAge > 0:
		ck.MaxAge = int(maxAge.Seconds())
		ck.Expires = time.Now().Add(maxAge)
	case maxAge < 0:
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
	}
	return ck
}

// SessionID returns the session id carried by r, or "" when the cookie is
// absent or its signature does not verify.
func (c Cookies) SessionID(r *http.Request) string {
	ck, err := r.Cookie(c.CookieName())
	if err != nil {
		return ""
	}
	sid, _ := c.Unsign(ck.Value)
	return sid
}

// Sign returns the cookie value for sid.
func (c Cookies) Sign(sid string) string {
	if c.Secret == "" {
		return sid
	}
	return sid + "." + c.signature(sid)
}

// Unsign verifies a cookie value produced by Sign.
func (c Cookies) Unsign(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	if c.Secret == "" {
		return value, true
	}
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return "", false
	}
	sid, sig := value[:i], value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(c.signature(sid))) {
		return "", false
	}
	return sid, true
}

func (c Cookies) signature(sid string) string {
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(sid))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SetSession sets the session credential.
func (c Cookies) SetSession(w http.ResponseWriter, sid string) {
	http.SetCookie(w, c.cookie(c.CookieName(), c.Sign(sid), SessionCookieMaxAge, true))
}

// ClearSession expires the session credential.
func (c Cookies) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(c.CookieName(), "", -1, true))
}

// SetTransient sets a short-lived httpOnly cookie for the login flow.
func (c Cookies) SetTransient(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, c.cookie(name, value, TransientCookieMaxAge, true))
}

// Clear expires the named cookie.
func (c Cookies) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, c.cookie(name, "", -1, true))
}

// SetCSRF sets the script-readable CSRF cookie.
func (c Cookies) SetCSRF(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(CSRFCookie, token, CSRFCookieMaxAge, false))
}

// CookieSubjects resolves the user subject behind a raw session cookie value.
type CookieSubjects struct {
	Cookies    Cookies
	Repository *Repository
}

// SubjectFor verifies value and looks up the subject of the session it names.
func (s CookieSubjects) SubjectFor(ctx context.Context, value string) (string, bool) {
	sid, ok := s.Cookies.Unsign(value)
	if !ok {
		return "", false
	}
	return s.Repository.SubjectFor(ctx, sid)
}
