// Package session owns the refresh token lifecycle: issuing records, rotating
// them exactly once, and revoking them.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/token"
)

const (
	jtiBytes    = 16
	secretBytes = 32
)

// SecretHasher digests refresh secrets. *password.Hasher satisfies it.
type SecretHasher interface {
	Hash(ctx context.Context, secret string) (string, error)
	Verify(ctx context.Context, digest, secret string) (bool, error)
}

// AccessSigner mints access tokens. *token.AccessCodec satisfies it.
type AccessSigner interface {
	Sign(subjectID, role, plan string) (string, error)
}

// EventRecorder stores audit events.
type EventRecorder interface {
	Create(ctx context.Context, event *domain.AuthEvent) error
}

// Issued is a freshly persisted refresh token. Secret and CookieValue exist
// only here; storage keeps the digest.
type Issued struct {
	JTI         string
	Secret      string
	CookieValue string
	ExpiresAt   time.Time
}

// Rotated is the result of a successful Rotate.
type Rotated struct {
	AccessToken string
	Refresh     *Issued
	User        *domain.User
}

type Engine struct {
	tokens   domain.RefreshTokenRepository
	users    domain.UserRepository
	hasher   SecretHasher
	access   AccessSigner
	events   EventRecorder
	logger   *zap.Logger
	ttl      time.Duration
	now      func() time.Time
	newToken func(n int) (string, error)
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvents records audit events through rec.
func WithEvents(rec EventRecorder) Option {
	return func(e *Engine) { e.events = rec }
}

// WithTokenSource replaces the generator of jti and secret values. gen
// receives the number of random bytes wanted.
func WithTokenSource(gen func(n int) (string, error)) Option {
	return func(e *Engine) { e.newToken = gen }
}

func NewEngine(
	tokens domain.RefreshTokenRepository,
	users domain.UserRepository,
	hasher SecretHasher,
	access AccessSigner,
	ttl time.Duration,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		tokens:   tokens,
		users:    users,
		hasher:   hasher,
		access:   access,
		logger:   logger.Named("session"),
		ttl:      ttl,
		now:      time.Now,
		newToken: randomHex,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Issue creates an active refresh token for userID.
func (e *Engine) Issue(ctx context.Context, userID uuid.UUID, meta domain.RequestMeta) (*Issued, error) {
	return e.issue(ctx, userID, nil, meta)
}

func (e *Engine) issue(ctx context.Context, userID uuid.UUID, parent *string, meta domain.RequestMeta) (*Issued, error) {
	jti, err := e.newToken(jtiBytes)
	if err != nil {
		return nil, fmt.Errorf("generate jti: %w", err)
	}
	secret, err := e.newToken(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	digest, err := e.hasher.Hash(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("hash refresh secret: %w", err)
	}

	now := e.now()
	record := &domain.RefreshToken{
		UserID:    userID,
		JTI:       jti,
		TokenHash: digest,
		ParentJTI: parent,
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := e.tokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Issued{
		JTI:         jti,
		Secret:      secret,
		CookieValue: token.EncodeRefresh(jti, secret),
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// Rotate consumes the refresh token in cookieValue and issues its successor
// together with a new access token. Checks run in a fixed order and the
// first failing one decides the error: missing or malformed cookie, unknown
// jti, revoked, rotated, expired, wrong secret. A wrong secret for a live jti
// revokes that jti.
//
// Only one Rotate per jti can succeed. Once the record is marked rotated the
// successor is issued even if ctx is cancelled; a failure at that point
// leaves the user without a session and is returned as a server error.
func (e *Engine) Rotate(ctx context.Context, cookieValue string, meta domain.RequestMeta) (*Rotated, error) {
	if cookieValue == "" {
		return nil, domain.ErrMissingToken
	}
	jti, secret, ok := token.DecodeRefresh(cookieValue)
	if !ok {
		return nil, domain.ErrMalformedToken
	}

	record, err := e.tokens.GetByJTI(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	if record == nil {
		return nil, domain.ErrInvalidToken
	}
	if err := e.checkState(ctx, record, e.now(), meta); err != nil {
		return nil, err
	}

	match, err := e.hasher.Verify(ctx, record.TokenHash, secret)
	if err != nil {
		return nil, fmt.Errorf("verify refresh secret: %w", err)
	}
	if !match {
		if err := e.tokens.Revoke(ctx, jti, e.now()); err != nil {
			return nil, fmt.Errorf("revoke tampered refresh token: %w", err)
		}
		e.logger.Warn("refresh secret mismatch, token revoked",
			zap.String("jti", jti),
			zap.String("user_id", record.UserID.String()),
			zap.String("ip", meta.IP),
		)
		e.record(ctx, domain.EventRefreshTamper, &record.UserID, jti, meta)
		return nil, domain.ErrInvalidToken
	}

	user, err := e.users.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, fmt.Errorf("get token owner: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidToken
	}

	now := e.now()
	won, err := e.tokens.MarkRotated(ctx, jti, now)
	if err != nil {
		return nil, fmt.Errorf("mark refresh token rotated: %w", err)
	}
	if !won {
		return nil, e.lostRace(ctx, jti, now, meta)
	}

	// The rotation is committed; finish it regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	parent := jti
	successor, err := e.issue(ctx, user.ID, &parent, meta)
	if err != nil {
		e.logger.Error("rotated token has no successor", zap.String("jti", jti), zap.Error(err))
		return nil, fmt.Errorf("issue successor of %s: %w", jti, err)
	}
	accessToken, err := e.access.Sign(user.ID.String(), user.Role, user.Plan)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	e.record(ctx, domain.EventRefresh, &user.ID, successor.JTI, meta)
	return &Rotated{AccessToken: accessToken, Refresh: successor, User: user}, nil
}

// checkState applies the revoked, rotated and expired checks in that order.
func (e *Engine) checkState(ctx context.Context, record *domain.RefreshToken, now time.Time, meta domain.RequestMeta) error {
	switch {
	case record.IsRevoked():
		return domain.ErrRevokedToken
	case record.IsRotated():
		e.logger.Info("rotated refresh token presented again",
			zap.String("jti", record.JTI),
			zap.String("user_id", record.UserID.String()),
			zap.String("ip", meta.IP),
		)
		e.record(ctx, domain.EventRefreshReplay, &record.UserID, record.JTI, meta)
		return domain.ErrRotatedToken
	case record.IsExpired(now):
		return domain.ErrExpiredToken
	}
	return nil
}

// lostRace explains a conditional update that changed no row by re-reading
// the record.
func (e *Engine) lostRace(ctx context.Context, jti string, now time.Time, meta domain.RequestMeta) error {
	current, err := e.tokens.GetByJTI(ctx, jti)
	if err != nil {
		return fmt.Errorf("re-read refresh token: %w", err)
	}
	if current == nil {
		return domain.ErrInvalidToken
	}
	if err := e.checkState(ctx, current, now, meta); err != nil {
		return err
	}
	return errors.New("refresh token rotation refused for a usable record")
}

// Revoke marks jti revoked. It is a no-op for unknown, revoked or rotated
// records.
func (e *Engine) Revoke(ctx context.Context, jti string) error {
	if err := e.tokens.Revoke(ctx, jti, e.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Logout revokes the token named by cookieValue. Undecodable values and
// unknown tokens are ignored.
func (e *Engine) Logout(ctx context.Context, cookieValue string, meta domain.RequestMeta) error {
	jti, _, ok := token.DecodeRefresh(cookieValue)
	if !ok {
		return nil
	}
	record, err := e.tokens.GetByJTI(ctx, jti)
	if err != nil {
		return fmt.Errorf("get refresh token: %w", err)
	}
	if record == nil {
		return nil
	}
	if err := e.Revoke(ctx, jti); err != nil {
		return err
	}
	e.record(ctx, domain.EventLogout, &record.UserID, jti, meta)
	return nil
}

func (e *Engine) record(ctx context.Context, kind string, userID *uuid.UUID, jti string, meta domain.RequestMeta) {
	if e.events == nil {
		return
	}
	err := e.events.Create(ctx, &domain.AuthEvent{
		UserID:    userID,
		Event:     kind,
		JTI:       jti,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.logger.Warn("record auth event", zap.String("event", kind), zap.Error(err))
	}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
