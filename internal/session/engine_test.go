package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/password"
	"github.com/DanFrunza/Public-Data-Explorer/internal/repository/memory"
	"github.com/DanFrunza/Public-Data-Explorer/internal/token"
)

const refreshTTL = 7 * 24 * time.Hour

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// spyTokens counts lookups and lets tests fail or interleave storage calls.
type spyTokens struct {
	*memory.RefreshTokenRepository
	lookups      int32
	failCreate   error
	beforeRotate func(jti string, now time.Time)
}

func (s *spyTokens) GetByJTI(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	atomic.AddInt32(&s.lookups, 1)
	return s.RefreshTokenRepository.GetByJTI(ctx, jti)
}

func (s *spyTokens) Create(ctx context.Context, t *domain.RefreshToken) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	return s.RefreshTokenRepository.Create(ctx, t)
}

func (s *spyTokens) MarkRotated(ctx context.Context, jti string, now time.Time) (bool, error) {
	if s.beforeRotate != nil {
		s.beforeRotate(jti, now)
	}
	return s.RefreshTokenRepository.MarkRotated(ctx, jti, now)
}

type fixture struct {
	engine *Engine
	tokens *spyTokens
	users  *memory.UserRepository
	events *memory.AuthEventRepository
	codec  *token.AccessCodec
	clock  *clock
	user   *domain.User
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	hasher, err := password.New(password.Params{Memory: 1024, Time: 1, Parallelism: 1}, nil)
	require.NoError(t, err)

	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := token.NewAccessCodec("test-secret", 15*time.Minute)
	require.NoError(t, err)
	codec = codec.WithClock(clk.Now)

	users := memory.NewUserRepository()
	user := &domain.User{Email: "ana@example.com", Role: domain.RoleUser, Plan: domain.PlanFree}
	require.NoError(t, users.Create(context.Background(), user))

	tokens := &spyTokens{RefreshTokenRepository: memory.NewRefreshTokenRepository()}
	events := memory.NewAuthEventRepository()

	opts = append([]Option{WithClock(clk.Now), WithEvents(events)}, opts...)
	engine := NewEngine(tokens, users, hasher, codec, refreshTTL, zaptest.NewLogger(t), opts...)

	return &fixture{engine: engine, tokens: tokens, users: users, events: events, codec: codec, clock: clk, user: user}
}

func (f *fixture) issue(t *testing.T) *Issued {
	t.Helper()
	issued, err := f.engine.Issue(context.Background(), f.user.ID, domain.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	return issued
}

func (f *fixture) record(t *testing.T, jti string) *domain.RefreshToken {
	t.Helper()
	rec, err := f.tokens.RefreshTokenRepository.GetByJTI(context.Background(), jti)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

// sequence yields the given values in order as jti and secret material.
func sequence(values ...string) func(int) (string, error) {
	var mu sync.Mutex
	return func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(values) == 0 {
			return "", errors.New("sequence exhausted")
		}
		v := values[0]
		values = values[1:]
		return v, nil
	}
}

func TestIssue_PersistsDigestOnly(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	assert.Len(t, issued.JTI, 32)
	assert.Len(t, issued.Secret, 64)
	assert.Equal(t, issued.JTI+"."+issued.Secret, issued.CookieValue)
	assert.True(t, issued.ExpiresAt.Equal(f.clock.Now().Add(refreshTTL)))

	rec := f.record(t, issued.JTI)
	assert.NotContains(t, rec.TokenHash, issued.Secret)
	assert.Equal(t, f.user.ID, rec.UserID)
	assert.Nil(t, rec.ParentJTI)
	assert.Equal(t, "10.0.0.1", rec.IP)
	assert.True(t, rec.IsUsable(f.clock.Now()))
}

func TestRotate_Success(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	rotated, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, rotated.User.ID)
	assert.NotEqual(t, issued.JTI, rotated.Refresh.JTI)

	claims, err := f.codec.Verify(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID.String(), claims.Subject)
	assert.Equal(t, domain.RoleUser, claims.Role)
	assert.Equal(t, domain.PlanFree, claims.Plan)

	old := f.record(t, issued.JTI)
	assert.True(t, old.IsRotated())
	assert.False(t, old.IsRevoked())

	successor := f.record(t, rotated.Refresh.JTI)
	require.NotNil(t, successor.ParentJTI)
	assert.Equal(t, issued.JTI, *successor.ParentJTI)
	assert.True(t, successor.IsUsable(f.clock.Now()))

	assert.Contains(t, f.events.Kinds(), domain.EventRefresh)
}

func TestRotate_ConcreteScenario(t *testing.T) {
	f := newFixture(t, WithTokenSource(sequence("a1", "s1", "a2", "s2")))
	ctx := context.Background()

	issued := f.issue(t)
	require.Equal(t, "a1", issued.JTI)
	require.Equal(t, "s1", issued.Secret)
	assert.True(t, issued.ExpiresAt.Equal(f.clock.Now().Add(7*24*time.Hour)))

	rotated, err := f.engine.Rotate(ctx, "a1.s1", domain.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "a2", rotated.Refresh.JTI)
	assert.Equal(t, "s2", rotated.Refresh.Secret)
	assert.True(t, f.record(t, "a1").IsRotated())

	_, err = f.engine.Rotate(ctx, "a1.s1", domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrRotatedToken)

	_, err = f.engine.Rotate(ctx, "a2.s1", domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.True(t, f.record(t, "a2").IsRevoked())
}

func TestRotate_ConcurrentCallsRotateOnce(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	const callers = 16
	var (
		wg        sync.WaitGroup
		successes int32
		errs      = make(chan error, callers)
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
			if err == nil {
				atomic.AddInt32(&successes, 1)
				return
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), successes)
	for err := range errs {
		assert.ErrorIs(t, err, domain.ErrRotatedToken)
	}

	var children int
	for _, rec := range f.tokens.All() {
		if rec.ParentJTI != nil && *rec.ParentJTI == issued.JTI {
			children++
		}
	}
	assert.Equal(t, 1, children)
}

func TestRotate_AfterLogoutIsRevoked(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	require.NoError(t, f.engine.Logout(context.Background(), issued.CookieValue, domain.RequestMeta{}))
	assert.True(t, f.clock.Now().Before(issued.ExpiresAt))

	_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrRevokedToken)
	assert.Contains(t, f.events.Kinds(), domain.EventLogout)
}

func TestRotate_ReplayAfterRotation(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	require.NoError(t, err)

	_, err = f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrRotatedToken)
	assert.Contains(t, f.events.Kinds(), domain.EventRefreshReplay)

	// Replays do not touch other sessions.
	other := f.issue(t)
	assert.True(t, f.record(t, other.JTI).IsUsable(f.clock.Now()))
}

func TestRotate_TamperRevokesThenReportsRevoked(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	_, err := f.engine.Rotate(context.Background(), issued.JTI+".deadbeef", domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.True(t, f.record(t, issued.JTI).IsRevoked())
	assert.Contains(t, f.events.Kinds(), domain.EventRefreshTamper)

	_, err = f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrRevokedToken)
}

func TestRotate_MissingOrMalformedNeverTouchesStorage(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Rotate(context.Background(), "", domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrMissingToken)

	for _, v := range []string{"a1", "a1.s1.x", ".s1", "a1.", "."} {
		_, err := f.engine.Rotate(context.Background(), v, domain.RequestMeta{})
		assert.ErrorIs(t, err, domain.ErrMalformedToken, v)
	}
	assert.Zero(t, atomic.LoadInt32(&f.tokens.lookups))
}

func TestRotate_UnknownJTI(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Rotate(context.Background(), "nope.s1", domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRotate_Expired(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	f.clock.Advance(refreshTTL)
	_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrExpiredToken)
}

func TestRotate_CheckOrder(t *testing.T) {
	t.Run("revoked and expired reports revoked", func(t *testing.T) {
		f := newFixture(t)
		issued := f.issue(t)
		require.NoError(t, f.engine.Revoke(context.Background(), issued.JTI))
		f.clock.Advance(2 * refreshTTL)

		_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
		assert.ErrorIs(t, err, domain.ErrRevokedToken)
	})

	t.Run("rotated and expired reports rotated", func(t *testing.T) {
		f := newFixture(t)
		issued := f.issue(t)
		_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
		require.NoError(t, err)
		f.clock.Advance(2 * refreshTTL)

		_, err = f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
		assert.ErrorIs(t, err, domain.ErrRotatedToken)
	})

	t.Run("expired with wrong secret reports expired and keeps record", func(t *testing.T) {
		f := newFixture(t)
		issued := f.issue(t)
		f.clock.Advance(refreshTTL)

		_, err := f.engine.Rotate(context.Background(), issued.JTI+".wrong", domain.RequestMeta{})
		assert.ErrorIs(t, err, domain.ErrExpiredToken)
		assert.False(t, f.record(t, issued.JTI).IsRevoked())
	})
}

func TestRotate_LostRaceReReadsRecord(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	f.tokens.beforeRotate = func(jti string, now time.Time) {
		_ = f.tokens.RefreshTokenRepository.Revoke(context.Background(), jti, now)
	}

	_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrRevokedToken)

	var children int
	for _, rec := range f.tokens.All() {
		if rec.ParentJTI != nil {
			children++
		}
	}
	assert.Zero(t, children)
}

func TestRotate_MissingOwner(t *testing.T) {
	f := newFixture(t)
	issued, err := f.engine.Issue(context.Background(), uuid.New(), domain.RequestMeta{})
	require.NoError(t, err)

	_, err = f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.False(t, f.record(t, issued.JTI).IsRotated())
}

func TestRotate_SuccessorInsertFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	storeDown := errors.New("insert failed")
	f.tokens.failCreate = storeDown

	_, err := f.engine.Rotate(context.Background(), issued.CookieValue, domain.RequestMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, storeDown)
	_, isAuth := domain.AsAuthError(err)
	assert.False(t, isAuth)

	assert.True(t, f.record(t, issued.JTI).IsRotated())
}

func TestRotate_CancelledAfterCommitStillIssues(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.tokens.beforeRotate = func(string, time.Time) { cancel() }

	rotated, err := f.engine.Rotate(ctx, issued.CookieValue, domain.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, f.record(t, rotated.Refresh.JTI).IsUsable(f.clock.Now()))
}

func TestRevoke_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)

	require.NoError(t, f.engine.Revoke(context.Background(), issued.JTI))
	first := *f.record(t, issued.JTI).RevokedAt

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.Revoke(context.Background(), issued.JTI))
	assert.True(t, f.record(t, issued.JTI).RevokedAt.Equal(first))

	require.NoError(t, f.engine.Revoke(context.Background(), "unknown"))
}

func TestLogout_IgnoresMalformedAndUnknown(t *testing.T) {
	f := newFixture(t)
	for _, v := range []string{"", "garbage", "unknown.secret"} {
		assert.NoError(t, f.engine.Logout(context.Background(), v, domain.RequestMeta{}), v)
	}
	assert.Empty(t, f.events.Kinds())
}

func TestRotate_ChainKeepsWorking(t *testing.T) {
	f := newFixture(t)
	cookie := f.issue(t).CookieValue

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		rotated, err := f.engine.Rotate(context.Background(), cookie, domain.RequestMeta{})
		require.NoError(t, err, fmt.Sprintf("rotation %d", i))
		cookie = rotated.Refresh.CookieValue
	}
}
