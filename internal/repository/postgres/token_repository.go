package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
)

type RefreshTokenRepository struct {
	db DB
}

func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO refresh_tokens (id, user_id, jti, token_hash, parent_jti, created_at, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.JTI,
		token.TokenHash,
		token.ParentJTI,
		token.CreatedAt,
		token.ExpiresAt,
		token.IP,
		token.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByJTI(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT id, user_id, jti, token_hash, parent_jti, created_at, expires_at, revoked_at, rotated_at, ip, user_agent
		FROM refresh_tokens WHERE jti = $1
	`

	token := &domain.RefreshToken{}
	err := r.db.QueryRow(ctx, query, jti).Scan(
		&token.ID,
		&token.UserID,
		&token.JTI,
		&token.TokenHash,
		&token.ParentJTI,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.RotatedAt,
		&token.IP,
		&token.UserAgent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select refresh token: %w", err)
	}
	return token, nil
}

// MarkRotated is the only statement that consumes a refresh token. The WHERE
// clause makes concurrent callers race on the row lock; exactly one sees a
// changed row.
func (r *RefreshTokenRepository) MarkRotated(ctx context.Context, jti string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE refresh_tokens SET rotated_at = $2
		WHERE jti = $1 AND rotated_at IS NULL AND revoked_at IS NULL AND expires_at > $2
	`
	tag, err := r.db.Exec(ctx, query, jti, now)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, jti string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE jti = $1 AND revoked_at IS NULL AND rotated_at IS NULL
	`
	if _, err := r.db.Exec(ctx, query, jti, now); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
