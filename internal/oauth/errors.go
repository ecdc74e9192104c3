package oauth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Sentinel errors.
var (
	// ErrInvalidGrant means the refresh token or authorization code is
	// permanently unusable and the user must sign in again.
	ErrInvalidGrant = errors.New("oauth: invalid_grant")

	ErrNoRefreshToken  = errors.New("oauth: no refresh token")
	ErrUnknownKeyID    = errors.New("oauth: unknown signing key id")
	ErrInvalidIDToken  = errors.New("oauth: id token verification failed")
	ErrMissingIDToken  = errors.New("oauth: token response has no id_token")
	ErrUserInfoFailure = errors.New("oauth: userinfo request failed")
)

// ProviderError is an error response from the provider's token endpoint.
type ProviderError struct {
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth: %s (status %d): %s", e.Code, e.Status, e.Description)
	}
	return fmt.Sprintf("oauth: %s (status %d)", e.Code, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInvalidGrant) match provider invalid_grant responses.
func (e *ProviderError) Is(target error) bool {
	return target == ErrInvalidGrant && e.Code == "invalid_grant"
}

// wrapTokenError converts x/oauth2 failures into *ProviderError where the
// provider answered, leaving transport errors untouched.
func wrapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	pe := &ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription, Err: err}
	if re.Response != nil {
		pe.Status = re.Response.StatusCode
	}
	if pe.Code == "" {
		pe.Code = "token_endpoint_error"
	}
	return pe
}

// StatusOf returns the provider HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}
