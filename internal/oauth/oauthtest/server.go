// Package oauthtest runs an in-process stand-in for Google's token,
// userinfo and JWKS endpoints.
package oauthtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
)

// ValidCode is the only authorization code the token endpoint accepts.
const ValidCode = "valid-code"

// Server is a fake OAuth provider. Behaviour is changed through its setters.
type Server struct {
	*httptest.Server

	ClientID string
	Key      *rsa.PrivateKey
	KeyID    string

	mu             sync.Mutex
	profile        map[string]any
	issuer         string
	expiresIn      int64
	refreshError   string
	refreshStatus  int
	rotateRefresh  bool
	userInfoStatus int
	userInfo       map[string]any
	certsDelay     time.Duration

	exchanges    int
	refreshes    int
	lastVerifier string
	jwksFetches  int
}

// NewServer starts a fake provider for clientID. It is closed with t.Cleanup.
func NewServer(t testing.TB, clientID string) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	s := &Server{
		ClientID:       clientID,
		Key:            key,
		KeyID:          "test-kid-1",
		issuer:         "https://accounts.google.com",
		expiresIn:      3599,
		userInfoStatus: http.StatusOK,
		profile: map[string]any{
			"sub":     "google-sub-123",
			"email":   "jane@example.com",
			"name":    "Jane Doe",
			"picture": "https://lh3.googleusercontent.com/a/jane",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	mux.HandleFunc("/certs", s.handleCerts)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) AuthURL() string     { return s.URL + "/auth" }
func (s *Server) TokenURL() string    { return s.URL + "/token" }
func (s *Server) UserInfoURL() string { return s.URL + "/userinfo" }
func (s *Server) JWKSURL() string     { return s.URL + "/certs" }

// SetProfile replaces the claims placed in issued ID tokens.
func (s *Server) SetProfile(sub, email, name, picture string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = map[string]any{"sub": sub, "email": email, "name": name, "picture": picture}
}

// SetUserInfo makes the userinfo endpoint answer with a different profile,
// or with status when it is not 200.
func (s *Server) SetUserInfo(status int, profile map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfoStatus = status
	s.userInfo = profile
}

// SetIssuer changes the iss claim of issued ID tokens.
func (s *Server) SetIssuer(iss string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuer = iss
}

// SetExpiresIn changes the expires_in value of token responses.
func (s *Server) SetExpiresIn(seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// FailRefresh makes refresh grants fail with the OAuth error code and status.
// An empty code restores success.
func (s *Server) FailRefresh(status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus, s.refreshError = status, code
}

// RotateRefreshTokens makes refresh responses carry a new refresh token.
func (s *Server) RotateRefreshTokens(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateRefresh = on
}

// SetCertsDelay makes the JWKS endpoint wait d before answering.
func (s *Server) SetCertsDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certsDelay = d
}

// Counts returns how many code exchanges, refresh grants and JWKS fetches
// were served.
func (s *Server) Counts() (exchanges, refreshes, jwksFetches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges, s.refreshes, s.jwksFetches
}

// LastVerifier returns the code_verifier sent with the last exchange.
func (s *Server) LastVerifier() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVerifier
}

// SignIDToken signs claims with the server key. Missing standard claims are
// filled in.
func (s *Server) SignIDToken(claims jwt.MapClaims) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signLocked(claims)
}

func (s *Server) signLocked(claims jwt.MapClaims) string {
	now := time.Now()
	defaults := jwt.MapClaims{
		"iss": s.issuer,
		"aud": s.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range s.profile {
		defaults[k] = v
	}
	for k, v := range claims {
		defaults[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, defaults)
	tok.Header["kid"] = s.KeyID
	signed, err := tok.SignedString(s.Key)
	if err != nil {
		panic(fmt.Sprintf("sign id token: %v", err))
	}
	return signed
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != s.ClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchanges++
		s.lastVerifier = r.PostForm.Get("code_verifier")
		if r.PostForm.Get("code") != ValidCode {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  fmt.Sprintf("access-%d", s.exchanges),
			"refresh_token": "refresh-initial",
			"expires_in":    s.expiresIn,
			"scope":         "openid email profile https://www.googleapis.com/auth/calendar",
			"token_type":    "Bearer",
			"id_token":      s.signLocked(nil),
		})
	case "refresh_token":
		s.refreshes++
		if s.refreshError != "" {
			writeJSON(w, s.refreshStatus, map[string]any{"error": s.refreshError})
			return
		}
		body := map[string]any{
			"access_token": fmt.Sprintf("refreshed-%d", s.refreshes),
			"expires_in":   s.expiresIn,
			"token_type":   "Bearer",
		}
		if s.rotateRefresh {
			body["refresh_token"] = fmt.Sprintf("refresh-rotated-%d", s.refreshes)
		}
		writeJSON(w, http.StatusOK, body)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	status, profile := s.userInfoStatus, s.userInfo
	if profile == nil {
		profile = s.profile
	}
	s.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleCerts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.jwksFetches++
	delay := s.certsDelay
	s.mu.Unlock()
	time.Sleep(delay)

	key, err := jwk.New(&s.Key.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, s.KeyID)
	_ = key.Set(jwk.AlgorithmKey, jwa.RS256)
	set := jwk.NewSet()
	set.Add(key)
	writeJSON(w, http.StatusOK, set)
}

// AuthorizeRedirect follows the consent step: it reads state from an
// authorization URL and returns the callback query a browser would deliver.
func AuthorizeRedirect(authURL string) (url.Values, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, err
	}
	return url.Values{"code": {ValidCode}, "state": {u.Query().Get("state")}}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
