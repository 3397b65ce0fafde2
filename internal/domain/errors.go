package domain

import (
	"errors"
	"sort"
	"strings"
)

// AuthError is an expected authentication failure. Message is safe to return
// to clients; Kind is the precise diagnosis used for audit logging.
type AuthError struct {
	Kind    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Kind + ": " + e.Message
}

var (
	// Refresh token failures, in the order Rotate checks them.
	ErrMissingToken   = &AuthError{Kind: "missing_token", Message: "Missing refresh token"}
	ErrMalformedToken = &AuthError{Kind: "malformed_token", Message: "Missing refresh token"}
	ErrInvalidToken   = &AuthError{Kind: "invalid_token", Message: "Invalid refresh token"}
	ErrRevokedToken   = &AuthError{Kind: "revoked_token", Message: "Refresh token revoked"}
	ErrRotatedToken   = &AuthError{Kind: "rotated_token", Message: "Refresh token rotated"}
	ErrExpiredToken   = &AuthError{Kind: "expired_token", Message: "Refresh token expired"}

	// Access token failures.
	ErrMissingAccessToken = &AuthError{Kind: "missing_token", Message: "Missing token"}
	ErrInvalidAccessToken = &AuthError{Kind: "invalid_token", Message: "Invalid token"}
	ErrExpiredAccessToken = &AuthError{Kind: "expired_token", Message: "Token expired"}

	ErrInvalidCredentials = &AuthError{Kind: "invalid_credentials", Message: "Invalid credentials"}
)

var (
	ErrEmailExists  = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
	ErrForbidden    = errors.New("forbidden")
)

// AsAuthError unwraps err to an *AuthError.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ValidationError carries field-level problems with client input.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "validation failed: " + strings.Join(keys, ", ")
}

// AsValidationError unwraps err to a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
