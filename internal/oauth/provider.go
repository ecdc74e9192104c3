// Package oauth talks to Google's OAuth2 and OpenID Connect endpoints.
//
// It covers the authorization-code-with-PKCE flow, refresh grants, ID token
// verification against a cached JWKS, and the userinfo endpoint. Token
// exchange and refresh are single-attempt: an authorization code is
// single-use and a repeated refresh grant can invalidate tokens ambiguously.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/diyartec/calassist/internal/instrumentation"
)

// Google endpoints.
const (
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	GoogleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
)

// Timeouts applied to every provider call.
const (
	TokenTimeout    = 8 * time.Second
	UserInfoTimeout = 5 * time.Second
)

// Config describes the OAuth client. Empty endpoint URLs default to Google's.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	JWKSURL     string
	JWKSTTL     time.Duration

	HTTPClient *http.Client
}

// TokenSet is the subset of a token response the gateway persists.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Scope        string
	ExpiresIn    int64
}

// Profile is the user identity resolved at login.
type Profile struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Provider is the client for one OAuth application.
type Provider struct {
	conf        *oauth2.Config
	httpClient  *http.Client
	userInfoURL string
	verifier    *IDTokenVerifier
	jwks        *JWKSCache
	now         func() time.Time
}

// NewProvider creates a provider client.
func NewProvider(cfg Config) *Provider {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = GoogleUserInfoURL
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = GoogleJWKSURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	jwks := NewJWKSCache(cfg.JWKSURL, cfg.JWKSTTL, cfg.HTTPClient)
	return &Provider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		httpClient:  cfg.HTTPClient,
		userInfoURL: cfg.UserInfoURL,
		jwks:        jwks,
		verifier:    NewIDTokenVerifier(jwks, cfg.ClientID, GoogleIssuers),
		now:         time.Now,
	}
}

// AuthCodeURL builds the consent URL. prompt=consent makes Google return a
// refresh token on repeat logins.
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	return p.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades an authorization code for tokens. verifier may be empty.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, "exchange")
	defer span.End()

	ctx, cancel := context.WithTimeout(p.clientContext(ctx), TokenTimeout)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := p.conf.Exchange(ctx, code, opts...)
	if err != nil {
		err = wrapTokenError(err)
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return p.tokenSet(tok), nil
}

// Refresh runs one refresh-token grant. The returned RefreshToken is set only
// when the provider rotated it.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, "refresh")
	defer span.End()

	ctx, cancel := context.WithTimeout(p.clientContext(ctx), TokenTimeout)
	defer cancel()

	tok, err := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		err = wrapTokenError(err)
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	instrumentation.SetSpanSuccess(span)

	ts := p.tokenSet(tok)
	if ts.RefreshToken == refreshToken {
		ts.RefreshToken = ""
	}
	return ts, nil
}

// VerifyIDToken validates a raw ID token.
func (p *Provider) VerifyIDToken(ctx context.Context, raw string) (*IDClaims, error) {
	if raw == "" {
		return nil, ErrMissingIDToken
	}
	return p.verifier.Verify(ctx, raw)
}

// UserInfo fetches the profile for accessToken.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*Profile, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, "userinfo")
	defer span.End()

	ctx, cancel := context.WithTimeout(p.clientContext(ctx), UserInfoTimeout)
	defer cancel()

	client := p.conf.Client(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrUserInfoFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("%w: status %d", ErrUserInfoFailure, resp.StatusCode)
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrUserInfoFailure, err)
	}
	instrumentation.SetSpanSuccess(span)
	return &profile, nil
}

// ProfileFromClaims builds a profile from verified claims.
func ProfileFromClaims(c *IDClaims) Profile {
	return Profile{Sub: c.Subject, Email: c.Email, Name: c.Name, Picture: c.Picture}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) tokenSet(tok *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		ts.ExpiresIn = int64(tok.Expiry.Sub(p.now()).Round(time.Second).Seconds())
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = v
	}
	if v, ok := tok.Extra("scope").(string); ok {
		ts.Scope = v
	}
	return ts
}
