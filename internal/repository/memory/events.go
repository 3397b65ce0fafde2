package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
)

type AuthEventRepository struct {
	mu     sync.Mutex
	events []*domain.AuthEvent
}

func NewAuthEventRepository() *AuthEventRepository {
	return &AuthEventRepository{}
}

func (r *AuthEventRepository) Create(_ context.Context, event *domain.AuthEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

// ListByUser returns the user's newest events first.
func (r *AuthEventRepository) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*domain.AuthEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.AuthEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.UserID == nil || *e.UserID != userID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Kinds returns the recorded event names in insertion order.
func (r *AuthEventRepository) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}
