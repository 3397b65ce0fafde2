package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/media"
)

// AvatarSigner hands out temporary download URLs for stored avatars.
type AvatarSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// UserView is the public JSON shape of a user.
type UserView struct {
	*domain.User
	AvatarURL *string `json:"avatar_url"`
}

// newUserView attaches a presigned avatar URL when the user has an avatar.
// Presign failures leave the URL null.
func newUserView(ctx context.Context, user *domain.User, signer AvatarSigner, logger *zap.Logger) *UserView {
	view := &UserView{User: user}
	if user.AvatarKey == nil || *user.AvatarKey == "" || signer == nil {
		return view
	}
	url, err := signer.PresignGet(ctx, *user.AvatarKey, media.PresignTTL)
	if err != nil {
		logger.Warn("presign avatar", zap.String("user_id", user.ID.String()), zap.Error(err))
		return view
	}
	view.AvatarURL = &url
	return view
}
