package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one issued refresh credential. Records are never deleted:
// they end rotated, revoked, or expired.
type RefreshToken struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	JTI       string     `json:"jti"`
	TokenHash string     `json:"-"`
	ParentJTI *string    `json:"parent_jti,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsRotated() bool {
	return t.RotatedAt != nil
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsable reports whether the record may still be rotated at now.
func (t *RefreshToken) IsUsable(now time.Time) bool {
	return !t.IsRevoked() && !t.IsRotated() && !t.IsExpired(now)
}

// RefreshTokenRepository persists refresh token records.
//
// MarkRotated is the single conditional transition guarding rotation: it sets
// rotated_at only while the record is unrotated, unrevoked and unexpired at
// now, and reports whether this call performed the transition.
//
// Revoke sets revoked_at on a record that is neither revoked nor rotated and
// is a no-op otherwise.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByJTI(ctx context.Context, jti string) (*RefreshToken, error)
	MarkRotated(ctx context.Context, jti string, now time.Time) (bool, error)
	Revoke(ctx context.Context, jti string, now time.Time) error
}
