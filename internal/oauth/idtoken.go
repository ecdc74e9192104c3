package oauth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GoogleIssuers are the issuer values Google places in ID tokens.
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// KeySource resolves a signing key by kid.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// IDClaims are the ID token claims the gateway reads.
type IDClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenVerifier checks signature, algorithm, audience, issuer and expiry.
type IDTokenVerifier struct {
	keys     KeySource
	audience string
	issuers  []string
	now      func() time.Time
}

// NewIDTokenVerifier creates a verifier that accepts RS256 tokens for audience.
func NewIDTokenVerifier(keys KeySource, audience string, issuers []string) *IDTokenVerifier {
	return &IDTokenVerifier{keys: keys, audience: audience, issuers: issuers, now: time.Now}
}

// Verify parses raw and returns its claims. Every failure wraps ErrInvalidIDToken.
func (v *IDTokenVerifier) Verify(ctx context.Context, raw string) (*IDClaims, error) {
	claims := &IDClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid header")
			}
			return v.keys.PublicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	if !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidIDToken, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidIDToken)
	}
	return claims, nil
}
