package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/password"
	"github.com/DanFrunza/Public-Data-Explorer/internal/repository/memory"
	"github.com/DanFrunza/Public-Data-Explorer/internal/session"
	"github.com/DanFrunza/Public-Data-Explorer/internal/token"
)

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPut  error
	failSign error
	lastTTL  time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if s.failPut != nil {
		return s.failPut
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.failSign != nil {
		return "", s.failSign
	}
	s.mu.Lock()
	s.lastTTL = ttl
	s.mu.Unlock()
	return "https://bucket.local/" + key + "?sig=x", nil
}

type fixture struct {
	auth   *AuthUsecase
	users  *UserUsecase
	repo   *memory.UserRepository
	events *memory.AuthEventRepository
	store  *fakeStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hasher, err := password.New(password.Params{Memory: 1024, Time: 1, Parallelism: 1}, nil)
	require.NoError(t, err)
	codec, err := token.NewAccessCodec("test-secret", 15*time.Minute)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	repo := memory.NewUserRepository()
	events := memory.NewAuthEventRepository()
	store := newFakeStore()
	engine := session.NewEngine(memory.NewRefreshTokenRepository(), repo, hasher, codec, 7*24*time.Hour, logger,
		session.WithEvents(events))

	return &fixture{
		auth:   NewAuthUsecase(repo, events, engine, hasher, codec, store, logger),
		users:  NewUserUsecase(repo, store, logger),
		repo:   repo,
		events: events,
		store:  store,
	}
}

func validRegister() RegisterInput {
	return RegisterInput{
		Email:     "Ana@Example.com",
		Password:  "secret123",
		FirstName: " Ana ",
		LastName:  "Pop",
		Country:   "Romania",
	}
}

func TestValidateRegister(t *testing.T) {
	assert.NoError(t, ValidateRegister(validRegister()))

	in := RegisterInput{Email: "nope", Password: "short1", FirstName: "  ", LastName: strings.Repeat("x", 101)}
	err := ValidateRegister(in)
	ve, ok := domain.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid email", ve.Fields["email"])
	assert.Equal(t, "Weak password: min 8 chars, include letters and digits", ve.Fields["password"])
	assert.Equal(t, "First name is required", ve.Fields["first_name"])
	assert.Equal(t, "Last name is required", ve.Fields["last_name"])
	assert.Equal(t, "Country is required", ve.Fields["country"])

	for _, pw := range []string{"onlyletters", "12345678", strings.Repeat("a1", 65)} {
		in := validRegister()
		in.Password = pw
		assert.Error(t, ValidateRegister(in), pw)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.auth.Register(ctx, validRegister(), domain.RequestMeta{IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", res.User.Email)
	assert.Equal(t, "Ana", res.User.FirstName)
	assert.Equal(t, domain.RoleUser, res.User.Role)
	assert.Nil(t, res.User.AvatarURL)
	assert.NotEmpty(t, res.AccessToken)
	require.NotNil(t, res.Refresh)
	assert.Equal(t, res.Refresh.JTI+"."+res.Refresh.Secret, res.Refresh.CookieValue)
	assert.NotContains(t, res.User.PasswordHash, "secret123")
	assert.Equal(t, []string{domain.EventRegister}, f.events.Kinds())

	_, err = f.auth.Register(ctx, validRegister(), domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrEmailExists)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.Register(ctx, validRegister(), domain.RequestMeta{})
	require.NoError(t, err)

	res, err := f.auth.Login(ctx, LoginInput{Email: "ANA@example.com", Password: "secret123"}, domain.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", res.User.Email)

	_, err = f.auth.Login(ctx, LoginInput{Email: "ana@example.com", Password: "wrong1234"}, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.auth.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "secret123"}, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.auth.Login(ctx, LoginInput{Email: "ana@example.com"}, domain.RequestMeta{})
	ve, ok := domain.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "Email and password are required", ve.Message)
}

// countingHasher records how often passwords are hashed and verified.
type countingHasher struct {
	CredentialHasher
	hashes, verifies int
}

func (c *countingHasher) Hash(ctx context.Context, secret string) (string, error) {
	c.hashes++
	return c.CredentialHasher.Hash(ctx, secret)
}

func (c *countingHasher) Verify(ctx context.Context, digest, secret string) (bool, error) {
	c.verifies++
	return c.CredentialHasher.Verify(ctx, digest, secret)
}

func TestLogin_UnknownEmailStillVerifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inner, err := password.New(password.Params{Memory: 1024, Time: 1, Parallelism: 1}, nil)
	require.NoError(t, err)
	hasher := &countingHasher{CredentialHasher: inner}
	codec, err := token.NewAccessCodec("test-secret", 15*time.Minute)
	require.NoError(t, err)
	auth := NewAuthUsecase(f.repo, f.events, nil, hasher, codec, nil, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		_, err = auth.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "secret123"}, domain.RequestMeta{})
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}
	assert.Equal(t, 3, hasher.verifies)
	assert.Equal(t, 1, hasher.hashes, "decoy digest is built once")
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.auth.Register(ctx, validRegister(), domain.RequestMeta{})
	require.NoError(t, err)

	next, err := f.auth.Refresh(ctx, reg.Refresh.CookieValue, domain.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, next.User.ID)
	assert.NotEqual(t, reg.Refresh.JTI, next.Refresh.JTI)

	_, err = f.auth.Refresh(ctx, reg.Refresh.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrRotatedToken)

	require.NoError(t, f.auth.Logout(ctx, next.Refresh.CookieValue, domain.RequestMeta{}))
	_, err = f.auth.Refresh(ctx, next.Refresh.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrRevokedToken)

	events, err := f.auth.AuthEvents(ctx, reg.User.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventLogout, events[0].Event)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.auth.Register(ctx, validRegister(), domain.RequestMeta{})
	require.NoError(t, err)

	me, err := f.auth.Me(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.User.Email, me.Email)

	_, err = f.auth.Me(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.auth.Register(ctx, validRegister(), domain.RequestMeta{})
	require.NoError(t, err)

	view, err := f.users.UpdateProfile(ctx, reg.User.ID, ProfileInput{FirstName: "Ioana", LastName: " Pop ", Country: "Moldova"})
	require.NoError(t, err)
	assert.Equal(t, "Ioana", view.FirstName)
	assert.Equal(t, "Pop", view.LastName)

	_, err = f.users.UpdateProfile(ctx, reg.User.ID, ProfileInput{FirstName: "Ioana"})
	_, ok := domain.AsValidationError(err)
	assert.True(t, ok)

	_, err = f.users.UpdateProfile(ctx, uuid.New(), ProfileInput{FirstName: "a", LastName: "b", Country: "c"})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUploadAvatar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.auth.Register(ctx, validRegister(), domain.RequestMeta{})
	require.NoError(t, err)
	self := Actor{ID: reg.User.ID, Role: domain.RoleUser}
	png := []byte("\x89PNG fake")

	upload := func() AvatarUpload {
		return AvatarUpload{Body: bytes.NewReader(png), Size: int64(len(png)), ContentType: "image/png", Filename: "me.png"}
	}

	res, err := f.users.UploadAvatar(ctx, self, reg.User.ID, upload())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Key, "avatars/users/"+reg.User.ID.String()+"/"))
	assert.True(t, strings.HasSuffix(res.Key, ".png"))
	assert.Contains(t, res.URL, res.Key)
	assert.Equal(t, png, f.store.objects[res.Key])
	assert.Equal(t, 15*time.Minute, f.store.lastTTL)

	me, err := f.auth.Me(ctx, reg.User.ID)
	require.NoError(t, err)
	require.NotNil(t, me.AvatarURL)
	assert.Equal(t, res.Key, *me.AvatarKey)

	t.Run("other user is forbidden", func(t *testing.T) {
		_, err := f.users.UploadAvatar(ctx, Actor{ID: uuid.New(), Role: domain.RoleUser}, reg.User.ID, upload())
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("admin may upload for others", func(t *testing.T) {
		_, err := f.users.UploadAvatar(ctx, Actor{ID: uuid.New(), Role: domain.RoleAdmin}, reg.User.ID, upload())
		assert.NoError(t, err)
	})

	t.Run("unsupported type", func(t *testing.T) {
		u := upload()
		u.ContentType = "image/gif"
		u.Filename = "x.gif"
		_, err := f.users.UploadAvatar(ctx, self, reg.User.ID, u)
		ve, ok := domain.AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "Unsupported file type", ve.Message)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := f.users.UploadAvatar(ctx, self, reg.User.ID, AvatarUpload{})
		ve, ok := domain.AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "No file provided", ve.Message)
	})

	t.Run("too large", func(t *testing.T) {
		u := upload()
		u.Size = 6 << 20
		_, err := f.users.UploadAvatar(ctx, self, reg.User.ID, u)
		_, ok := domain.AsValidationError(err)
		assert.True(t, ok)
	})

	t.Run("storage failure", func(t *testing.T) {
		f.store.failPut = errors.New("s3 down")
		defer func() { f.store.failPut = nil }()
		_, err := f.users.UploadAvatar(ctx, self, reg.User.ID, upload())
		assert.EqualError(t, err, "s3 down")
	})
}

func TestAvatarURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.auth.Register(ctx, validRegister(), domain.RequestMeta{})
	require.NoError(t, err)
	self := Actor{ID: reg.User.ID, Role: domain.RoleUser}

	_, err = f.users.AvatarURL(ctx, self, reg.User.ID)
	assert.ErrorIs(t, err, ErrNoAvatar)

	require.NoError(t, f.repo.SetAvatar(ctx, reg.User.ID, "avatars/users/x/a.png"))
	url, err := f.users.AvatarURL(ctx, self, reg.User.ID)
	require.NoError(t, err)
	assert.Contains(t, url, "avatars/users/x/a.png")

	_, err = f.users.AvatarURL(ctx, Actor{ID: uuid.New()}, reg.User.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.store.failSign = errors.New("presign failed")
	view, err := f.users.GetProfile(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Nil(t, view.AvatarURL)
}

func TestUserUsecase_WithoutStore(t *testing.T) {
	repo := memory.NewUserRepository()
	user := &domain.User{Email: "a@b.co"}
	require.NoError(t, repo.Create(context.Background(), user))
	uc := NewUserUsecase(repo, nil, nil)

	_, err := uc.UploadAvatar(context.Background(), Actor{ID: user.ID}, user.ID, AvatarUpload{Body: strings.NewReader("x"), Size: 1})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	view, err := uc.GetProfile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, view.AvatarURL)
}
