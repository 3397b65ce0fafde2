package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/token"
)

type contextKey string

const (
	claimsKey   contextKey = "claims"
	identityKey contextKey = "identity"
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// TokenVerifier checks access tokens. *token.AccessCodec satisfies it.
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// Identity is the caller as seen by Optional: either Authenticated or
// Anonymous.
type Identity interface {
	identity()
}

type Authenticated struct {
	Claims *token.Claims
}

type Anonymous struct{}

func (Authenticated) identity() {}
func (Anonymous) identity()     {}

type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{verifier: verifier, logger: logger.Named("auth")}
}

// Authenticate requires a valid bearer access token.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, domain.ErrMissingAccessToken.Message)
			return
		}

		claims, err := m.verifier.Verify(raw)
		if err != nil {
			message := domain.ErrInvalidAccessToken.Message
			if ae, ok := domain.AsAuthError(err); ok {
				message = ae.Message
				m.logger.Debug("access token rejected", zap.String("kind", ae.Kind), zap.String("path", r.URL.Path))
			}
			writeMessage(w, http.StatusUnauthorized, message)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, identityKey, Identity(Authenticated{Claims: claims}))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional never rejects. A valid bearer token yields Authenticated; a
// missing or bad one yields Anonymous.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id Identity = Anonymous{}
		if raw, ok := bearerToken(r); ok {
			if claims, err := m.verifier.Verify(raw); err == nil {
				id = Authenticated{Claims: claims}
				r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// AdminOnly must be used after Authenticate.
func (m *AuthMiddleware) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, domain.ErrMissingAccessToken.Message)
			return
		}
		if claims.Role != domain.RoleAdmin {
			writeMessage(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom returns the identity set by Authenticate or Optional, or
// Anonymous when neither ran.
func IdentityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey).(Identity); ok {
		return id
	}
	return Anonymous{}
}

func GetClaims(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok && claims != nil
}

func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func bearerToken(r *http.Request) (string, bool) {
	m := bearerPattern.FindStringSubmatch(r.Header.Get("Authorization"))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
