package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/media"
)

// ObjectStore is the avatar bucket. *media.Store satisfies it.
type ObjectStore interface {
	AvatarSigner
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Actor is the authenticated caller of a user operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) canAccess(target uuid.UUID) bool {
	return a.ID == target || a.Role == domain.RoleAdmin
}

type AvatarUpload struct {
	Body        io.Reader
	Size        int64
	ContentType string
	Filename    string
}

type AvatarResult struct {
	Key string `json:"avatarKey"`
	URL string `json:"avatarUrl"`
}

type UserUsecase struct {
	users  domain.UserRepository
	store  ObjectStore
	logger *zap.Logger
	now    func() time.Time
}

// NewUserUsecase accepts a nil store; avatar operations then fail with
// ErrStorageUnavailable.
func NewUserUsecase(users domain.UserRepository, store ObjectStore, logger *zap.Logger) *UserUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserUsecase{users: users, store: store, logger: logger.Named("users"), now: time.Now}
}

func (u *UserUsecase) signer() AvatarSigner {
	if u.store == nil {
		return nil
	}
	return u.store
}

func (u *UserUsecase) GetProfile(ctx context.Context, id uuid.UUID) (*UserView, error) {
	user, err := u.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return newUserView(ctx, user, u.signer(), u.logger), nil
}

func (u *UserUsecase) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*UserView, error) {
	if err := ValidateProfile(in); err != nil {
		return nil, err
	}
	user, err := u.users.UpdateProfile(ctx, id, domain.Profile{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Country:   strings.TrimSpace(in.Country),
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return newUserView(ctx, user, u.signer(), u.logger), nil
}

// UploadAvatar stores a new avatar for target. Only the user themself or an
// admin may do so.
func (u *UserUsecase) UploadAvatar(ctx context.Context, actor Actor, target uuid.UUID, upload AvatarUpload) (*AvatarResult, error) {
	if !actor.canAccess(target) {
		return nil, domain.ErrForbidden
	}
	if u.store == nil {
		return nil, ErrStorageUnavailable
	}
	if upload.Body == nil {
		return nil, &domain.ValidationError{Message: "No file provided"}
	}
	if upload.Size > media.MaxAvatarBytes {
		return nil, &domain.ValidationError{Message: "File too large", Fields: map[string]string{"avatar": "Max 5MB"}}
	}

	key, err := media.AvatarKey(target, upload.ContentType, upload.Filename, u.now())
	if errors.Is(err, media.ErrUnsupportedType) {
		return nil, &domain.ValidationError{Message: "Unsupported file type"}
	}
	if err != nil {
		return nil, err
	}

	user, err := u.users.GetByID(ctx, target)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}

	if err := u.store.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		return nil, err
	}
	if err := u.users.SetAvatar(ctx, target, key); err != nil {
		return nil, err
	}

	url, err := u.store.PresignGet(ctx, key, media.PresignTTL)
	if err != nil {
		return nil, err
	}
	u.logger.Info("avatar updated", zap.String("user_id", target.String()), zap.String("key", key))
	return &AvatarResult{Key: key, URL: url}, nil
}

// AvatarURL returns a presigned URL for target's avatar.
func (u *UserUsecase) AvatarURL(ctx context.Context, actor Actor, target uuid.UUID) (string, error) {
	if !actor.canAccess(target) {
		return "", domain.ErrForbidden
	}
	user, err := u.users.GetByID(ctx, target)
	if err != nil {
		return "", err
	}
	if user == nil || user.AvatarKey == nil || *user.AvatarKey == "" {
		return "", ErrNoAvatar
	}
	if u.store == nil {
		return "", ErrStorageUnavailable
	}
	return u.store.PresignGet(ctx, *user.AvatarKey, media.PresignTTL)
}
