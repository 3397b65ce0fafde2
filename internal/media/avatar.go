package media

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxAvatarBytes caps avatar uploads.
const MaxAvatarBytes = 5 << 20

var ErrUnsupportedType = errors.New("unsupported file type")

var avatarExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// AvatarKey names a new avatar object:
// avatars/users/{id}/{stamp}_{rand}.{ext}.
func AvatarKey(userID uuid.UUID, contentType, filename string, now time.Time) (string, error) {
	ext, err := avatarExtension(contentType, filename)
	if err != nil {
		return "", err
	}
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("avatars/users/%s/%s_%s.%s", userID, stamp, hex.EncodeToString(b), ext), nil
}

// avatarExtension accepts jpeg, png and webp only. The extension comes from
// the content type, falling back to the file name.
func avatarExtension(contentType, filename string) (string, error) {
	if ext, ok := avatarExtensions[strings.ToLower(contentType)]; ok {
		return ext, nil
	}
	if contentType != "" && contentType != "application/octet-stream" {
		return "", ErrUnsupportedType
	}
	switch strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")) {
	case "jpg", "jpeg":
		return "jpg", nil
	case "png":
		return "png", nil
	case "webp":
		return "webp", nil
	}
	return "", ErrUnsupportedType
}
