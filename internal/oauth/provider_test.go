package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diyartec/calassist/internal/oauth/oauthtest"
)

const testClientID = "client-123.apps.googleusercontent.com"

func newTestProvider(t *testing.T) (*Provider, *oauthtest.Server) {
	t.Helper()
	fake := oauthtest.NewServer(t, testClientID)
	p := NewProvider(Config{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3000/api/auth/google/callback",
		Scopes:       []string{"openid", "email", "profile"},
		AuthURL:      fake.AuthURL(),
		TokenURL:     fake.TokenURL(),
		UserInfoURL:  fake.UserInfoURL(),
		JWKSURL:      fake.JWKSURL(),
	})
	return p, fake
}

func TestProvider_AuthCodeURL(t *testing.T) {
	p, fake := newTestProvider(t)

	raw := p.AuthCodeURL("state-abc", "challenge-xyz")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, fake.AuthURL(), u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "challenge-xyz", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "http://localhost:3000/api/auth/google/callback", q.Get("redirect_uri"))
}

func TestProvider_Exchange(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestProvider(t)

	ts, err := p.Exchange(ctx, oauthtest.ValidCode, "verifier-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", ts.AccessToken)
	assert.Equal(t, "refresh-initial", ts.RefreshToken)
	assert.NotEmpty(t, ts.IDToken)
	assert.Contains(t, ts.Scope, "calendar")
	assert.InDelta(t, 3599, ts.ExpiresIn, 2)
	assert.Equal(t, "verifier-1", fake.LastVerifier())

	_, err = p.Exchange(ctx, "bad-code", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
}

func TestProvider_Refresh(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestProvider(t)

	ts, err := p.Refresh(ctx, "refresh-initial")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", ts.AccessToken)
	assert.Empty(t, ts.RefreshToken, "unrotated refresh token is not reported")

	fake.RotateRefreshTokens(true)
	ts, err = p.Refresh(ctx, "refresh-initial")
	require.NoError(t, err)
	assert.Equal(t, "refresh-rotated-2", ts.RefreshToken)

	_, err = p.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestProvider_RefreshErrors(t *testing.T) {
	tests := []struct {
		name             string
		status           int
		code             string
		wantInvalidGrant bool
	}{
		{"invalid grant", http.StatusBadRequest, "invalid_grant", true},
		{"server error", http.StatusInternalServerError, "server_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fake := newTestProvider(t)
			fake.FailRefresh(tt.status, tt.code)

			_, err := p.Refresh(context.Background(), "refresh-initial")
			require.Error(t, err)
			assert.Equal(t, tt.wantInvalidGrant, errors.Is(err, ErrInvalidGrant))
			assert.Equal(t, tt.status, StatusOf(err))
		})
	}
}

func TestProvider_VerifyIDToken(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestProvider(t)

	claims, err := p.VerifyIDToken(ctx, fake.SignIDToken(nil))
	require.NoError(t, err)
	assert.Equal(t, "google-sub-123", claims.Subject)
	assert.Equal(t, "jane@example.com", claims.Email)
	assert.Equal(t, "Jane Doe", claims.Name)

	fake.SetIssuer("accounts.google.com")
	_, err = p.VerifyIDToken(ctx, fake.SignIDToken(nil))
	assert.NoError(t, err, "bare issuer is accepted")
}

func TestProvider_VerifyIDTokenRejects(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestProvider(t)

	hs256 := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "https://accounts.google.com", "aud": testClientID, "sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	hs256.Header["kid"] = fake.KeyID
	hsSigned, err := hs256.SignedString([]byte("shared"))
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": "https://accounts.google.com", "aud": testClientID, "sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noneSigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong audience", fake.SignIDToken(jwt.MapClaims{"aud": "someone-else"})},
		{"wrong issuer", fake.SignIDToken(jwt.MapClaims{"iss": "https://evil.example.com"})},
		{"expired", fake.SignIDToken(jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})},
		{"missing sub", fake.SignIDToken(jwt.MapClaims{"sub": ""})},
		{"hs256", hsSigned},
		{"alg none", noneSigned},
		{"garbage", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.VerifyIDToken(ctx, tt.token)
			assert.ErrorIs(t, err, ErrInvalidIDToken)
		})
	}

	_, err = p.VerifyIDToken(ctx, "")
	assert.ErrorIs(t, err, ErrMissingIDToken)
}

func TestProvider_UserInfo(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestProvider(t)

	profile, err := p.UserInfo(ctx, "access-1")
	require.NoError(t, err)
	assert.Equal(t, "google-sub-123", profile.Sub)
	assert.Equal(t, "jane@example.com", profile.Email)

	fake.SetUserInfo(http.StatusServiceUnavailable, nil)
	_, err = p.UserInfo(ctx, "access-1")
	assert.ErrorIs(t, err, ErrUserInfoFailure)
}

func TestPKCE(t *testing.T) {
	v, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.Len(t, v, 43)

	// RFC 7636 appendix B test vector.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		GenerateCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))

	s1, err := GenerateState()
	require.NoError(t, err)
	s2, _ := GenerateState()
	assert.Len(t, s1, 24)
	assert.NotEqual(t, s1, s2)
}
