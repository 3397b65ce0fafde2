package token

import (
	"net/http"
	"strings"
	"time"
)

const (
	RefreshCookieName = "refresh_token"

	// refreshDelimiter is outside the hex alphabet of both halves.
	refreshDelimiter = "."
)

// EncodeRefresh joins a refresh token's public jti and raw secret into the
// cookie value.
func EncodeRefresh(jti, secret string) string {
	return jti + refreshDelimiter + secret
}

// DecodeRefresh splits a cookie value. ok is false unless the value has
// exactly two non-empty parts.
func DecodeRefresh(value string) (jti, secret string, ok bool) {
	parts := strings.Split(value, refreshDelimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// CookieOptions are the transport attributes of the refresh cookie.
type CookieOptions struct {
	Path   string
	Secure bool
}

// Build returns the cookie delivering value until expires.
func (o CookieOptions) Build(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     o.Path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Clear returns a cookie that makes the client drop the refresh cookie.
func (o CookieOptions) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     o.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
