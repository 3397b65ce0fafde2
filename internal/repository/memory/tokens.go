package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
)

var ErrDuplicateJTI = errors.New("refresh token jti already exists")

// RefreshTokenRepository keeps records keyed by jti. MarkRotated and Revoke
// run under one mutex, which gives them the same atomicity as the
// conditional UPDATE in the postgres repository.
type RefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func (r *RefreshTokenRepository) Create(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.JTI]; ok {
		return ErrDuplicateJTI
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	r.tokens[token.JTI] = cloneToken(token)
	return nil
}

func (r *RefreshTokenRepository) GetByJTI(_ context.Context, jti string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[jti]
	if !ok {
		return nil, nil
	}
	return cloneToken(t), nil
}

func (r *RefreshTokenRepository) MarkRotated(_ context.Context, jti string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[jti]
	if !ok || !t.IsUsable(now) {
		return false, nil
	}
	at := now
	t.RotatedAt = &at
	return true, nil
}

func (r *RefreshTokenRepository) Revoke(_ context.Context, jti string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[jti]
	if !ok || t.IsRevoked() || t.IsRotated() {
		return nil
	}
	at := now
	t.RevokedAt = &at
	return nil
}

// All returns a snapshot of every record, for inspection in tests.
func (r *RefreshTokenRepository) All() []*domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.RefreshToken, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, cloneToken(t))
	}
	return out
}

func cloneToken(t *domain.RefreshToken) *domain.RefreshToken {
	cp := *t
	if t.ParentJTI != nil {
		p := *t.ParentJTI
		cp.ParentJTI = &p
	}
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		cp.RevokedAt = &v
	}
	if t.RotatedAt != nil {
		v := *t.RotatedAt
		cp.RotatedAt = &v
	}
	return &cp
}
