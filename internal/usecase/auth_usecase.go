package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/session"
)

var (
	ErrNoAvatar           = errors.New("no avatar")
	ErrStorageUnavailable = errors.New("avatar storage unavailable")
)

// CredentialHasher digests and checks passwords. *password.Hasher satisfies it.
type CredentialHasher interface {
	Hash(ctx context.Context, secret string) (string, error)
	Verify(ctx context.Context, digest, secret string) (bool, error)
}

type AuthUsecase struct {
	users     domain.UserRepository
	events    domain.AuthEventRepository
	engine    *session.Engine
	passwords CredentialHasher
	access    session.AccessSigner
	avatars   AvatarSigner
	logger    *zap.Logger

	decoyMu sync.Mutex
	decoy   string
}

// AuthResult is what login-like operations deliver: the user, a new access
// token and the refresh token to set as a cookie.
type AuthResult struct {
	User        *UserView
	AccessToken string
	Refresh     *session.Issued
}

func NewAuthUsecase(
	users domain.UserRepository,
	events domain.AuthEventRepository,
	engine *session.Engine,
	passwords CredentialHasher,
	access session.AccessSigner,
	avatars AvatarSigner,
	logger *zap.Logger,
) *AuthUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthUsecase{
		users:     users,
		events:    events,
		engine:    engine,
		passwords: passwords,
		access:    access,
		avatars:   avatars,
		logger:    logger.Named("auth"),
	}
}

func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput, meta domain.RequestMeta) (*AuthResult, error) {
	if err := ValidateRegister(in); err != nil {
		return nil, err
	}

	hashed, err := u.passwords.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hashed,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Country:      strings.TrimSpace(in.Country),
		Role:         domain.RoleUser,
		Plan:         domain.PlanFree,
	}
	if err := u.users.Create(ctx, user); err != nil {
		return nil, err
	}

	result, err := u.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	u.record(ctx, domain.EventRegister, user.ID, result.Refresh.JTI, meta)
	return result, nil
}

func (u *AuthUsecase) Login(ctx context.Context, in LoginInput, meta domain.RequestMeta) (*AuthResult, error) {
	if err := ValidateLogin(in); err != nil {
		return nil, err
	}

	user, err := u.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Unknown emails pay for one verify too, so response time does not
		// reveal which addresses are registered.
		u.verifyDecoy(ctx, in.Password)
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := u.passwords.Verify(ctx, user.PasswordHash, in.Password)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}

	result, err := u.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	u.record(ctx, domain.EventLogin, user.ID, result.Refresh.JTI, meta)
	return result, nil
}

// verifyDecoy checks secret against a digest made with the same parameters
// as real password hashes. The outcome is discarded.
func (u *AuthUsecase) verifyDecoy(ctx context.Context, secret string) {
	u.decoyMu.Lock()
	if u.decoy == "" {
		digest, err := u.passwords.Hash(ctx, uuid.NewString())
		if err != nil {
			u.decoyMu.Unlock()
			u.logger.Warn("decoy password digest unavailable", zap.Error(err))
			return
		}
		u.decoy = digest
	}
	decoy := u.decoy
	u.decoyMu.Unlock()

	_, _ = u.passwords.Verify(ctx, decoy, secret)
}

// Refresh rotates the refresh token carried in cookieValue.
func (u *AuthUsecase) Refresh(ctx context.Context, cookieValue string, meta domain.RequestMeta) (*AuthResult, error) {
	rotated, err := u.engine.Rotate(ctx, cookieValue, meta)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		User:        u.view(ctx, rotated.User),
		AccessToken: rotated.AccessToken,
		Refresh:     rotated.Refresh,
	}, nil
}

func (u *AuthUsecase) Logout(ctx context.Context, cookieValue string, meta domain.RequestMeta) error {
	return u.engine.Logout(ctx, cookieValue, meta)
}

func (u *AuthUsecase) Me(ctx context.Context, userID uuid.UUID) (*UserView, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return u.view(ctx, user), nil
}

// AuthEvents lists the user's recent credential events, newest first.
func (u *AuthUsecase) AuthEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.AuthEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return u.events.ListByUser(ctx, userID, limit)
}

func (u *AuthUsecase) startSession(ctx context.Context, user *domain.User, meta domain.RequestMeta) (*AuthResult, error) {
	issued, err := u.engine.Issue(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}
	accessToken, err := u.access.Sign(user.ID.String(), user.Role, user.Plan)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &AuthResult{User: u.view(ctx, user), AccessToken: accessToken, Refresh: issued}, nil
}

func (u *AuthUsecase) view(ctx context.Context, user *domain.User) *UserView {
	return newUserView(ctx, user, u.avatars, u.logger)
}

func (u *AuthUsecase) record(ctx context.Context, kind string, userID uuid.UUID, jti string, meta domain.RequestMeta) {
	if u.events == nil {
		return
	}
	err := u.events.Create(ctx, &domain.AuthEvent{
		UserID:    &userID,
		Event:     kind,
		JTI:       jti,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		u.logger.Warn("record auth event", zap.String("event", kind), zap.Error(err))
	}
}
