package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventRegister      = "register"
	EventLogin         = "login"
	EventRefresh       = "refresh"
	EventRefreshReplay = "refresh_replay"
	EventRefreshTamper = "refresh_tamper"
	EventLogout        = "logout"
)

// AuthEvent is an audit row for a credential lifecycle event.
type AuthEvent struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Event     string     `json:"event"`
	JTI       string     `json:"jti,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type AuthEventRepository interface {
	Create(ctx context.Context, event *AuthEvent) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*AuthEvent, error)
}

// RequestMeta carries diagnostic request data. It is never used for
// authorization decisions.
type RequestMeta struct {
	IP        string
	UserAgent string
}
