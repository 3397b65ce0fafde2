// Package token holds the stateless credential codecs: signed access tokens
// and the refresh cookie that carries a refresh token's jti and secret.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
)

// Claims is the identity asserted by an access token.
type Claims struct {
	Role string `json:"role"`
	Plan string `json:"plan"`
	jwt.RegisteredClaims
}

// AccessCodec signs and verifies HS256 access tokens. It performs no I/O.
type AccessCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAccessCodec(secret string, ttl time.Duration) (*AccessCodec, error) {
	if secret == "" {
		return nil, errors.New("access token secret is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	return &AccessCodec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of c that reads time from now.
func (c *AccessCodec) WithClock(now func() time.Time) *AccessCodec {
	cp := *c
	cp.now = now
	return &cp
}

func (c *AccessCodec) TTL() time.Duration {
	return c.ttl
}

// Sign issues a token for subjectID carrying role and plan.
func (c *AccessCodec) Sign(subjectID, role, plan string) (string, error) {
	if role == "" {
		role = domain.RoleUser
	}
	if plan == "" {
		plan = domain.PlanFree
	}
	issuedAt := c.now()
	claims := &Claims{
		Role: role,
		Plan: plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify returns the claims of a valid token. Expired tokens (now >= exp)
// yield domain.ErrExpiredAccessToken; any other defect yields
// domain.ErrInvalidAccessToken.
func (c *AccessCodec) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredAccessToken
		}
		return nil, domain.ErrInvalidAccessToken
	}
	if !token.Valid || claims.Subject == "" {
		return nil, domain.ErrInvalidAccessToken
	}
	return claims, nil
}
