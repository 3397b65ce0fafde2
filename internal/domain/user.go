package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	PlanFree  = "free"
)

type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Country         string     `json:"country"`
	Role            string     `json:"role"`
	Plan            string     `json:"plan"`
	AvatarKey       *string    `json:"avatar_key"`
	AvatarUpdatedAt *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"-"`
}

// Profile is the editable subset of a user.
type Profile struct {
	FirstName string
	LastName  string
	Country   string
}

// UserRepository returns (nil, nil) from the Get methods when no user matches.
// Create returns ErrEmailExists when the email is already registered.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, profile Profile) (*User, error)
	SetAvatar(ctx context.Context, id uuid.UUID, key string) error
}
