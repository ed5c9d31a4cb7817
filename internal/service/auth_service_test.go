package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-token-auth/internal/event"
	"go-token-auth/internal/model"
	"go-token-auth/internal/repository"
	"go-token-auth/internal/token"
	"go-token-auth/pkg/apierror"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type authFixture struct {
	svc    *AuthService
	users  *repository.MemoryUserRepository
	tokens *repository.MemoryTokenRepository
	mgr    *token.Manager
	clock  *testClock
	bus    *event.InMemoryBus
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	clock := newTestClock()
	mgr, err := token.NewManager(token.Options{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "test",
		Now:           clock.Now,
	})
	require.NoError(t, err)

	users := repository.NewMemoryUserRepository()
	tokens := repository.NewMemoryTokenRepository()
	bus := event.NewBus()

	svc := NewAuthService(users, tokens, mgr, NewPasswordHasher(bcrypt.MinCost), bus)
	svc.SetClock(clock.Now)

	return &authFixture{svc: svc, users: users, tokens: tokens, mgr: mgr, clock: clock, bus: bus}
}

func (f *authFixture) registerAndLogin(t *testing.T, email string) model.LoginResult {
	t.Helper()

	_, err := f.svc.Register(context.Background(), model.RegisterRequest{Email: email, Password: "s3cretpass", Name: "Alice"})
	require.NoError(t, err)

	result, err := f.svc.Login(context.Background(), model.LoginRequest{Email: email, Password: "s3cretpass"})
	require.NoError(t, err)
	return result
}

func requireAPIError(t *testing.T, err error, status int, message string) *apierror.APIError {
	t.Helper()

	var apiErr *apierror.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, status, apiErr.HTTPStatus)
	if message != "" {
		assert.Equal(t, message, apiErr.Message)
	}
	return apiErr
}

func TestRegisterAndLoginFlow(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, model.RegisterRequest{Email: "  Alice@Example.com ", Password: "s3cretpass", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.ID)

	result, err := f.svc.Login(ctx, model.LoginRequest{Email: "alice@example.com", Password: "s3cretpass"})
	require.NoError(t, err)
	assert.Equal(t, user, result.User)
	assert.Equal(t, model.TokenTypeBearer, result.TokenType)
	assert.Equal(t, int64(900), result.ExpiresIn)

	claims, err := f.svc.ValidateAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())

	records := f.tokens.ListByUser(user.ID)
	require.Len(t, records, 1)
	assert.True(t, records[0].Active(f.clock.Now()))
	assert.True(t, f.clock.Now().Add(7*24*time.Hour).Equal(records[0].ExpiresAt))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, model.RegisterRequest{Email: "bob@example.com", Password: "s3cretpass", Name: "Bob"})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, model.RegisterRequest{Email: "BOB@example.com", Password: "otherpass", Name: "Bob"})
	requireAPIError(t, err, http.StatusConflict, "email already in use")
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), model.RegisterRequest{Email: "not-an-email", Password: "short", Name: ""})
	apiErr := requireAPIError(t, err, http.StatusBadRequest, "")
	assert.Contains(t, apiErr.Fields, "email")
	assert.Contains(t, apiErr.Fields, "password")
	assert.Contains(t, apiErr.Fields, "name")
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	f.registerAndLogin(t, "carol@example.com")

	_, wrongPassword := f.svc.Login(context.Background(), model.LoginRequest{Email: "carol@example.com", Password: "wrong-password"})
	_, unknownEmail := f.svc.Login(context.Background(), model.LoginRequest{Email: "nobody@example.com", Password: "wrong-password"})

	a := requireAPIError(t, wrongPassword, http.StatusUnauthorized, "invalid credentials")
	b := requireAPIError(t, unknownEmail, http.StatusUnauthorized, "invalid credentials")
	assert.Equal(t, a.Error(), b.Error())
}

func TestRefreshRotatesOnce(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	ctx := context.Background()
	login := f.registerAndLogin(t, "alice@example.com")

	f.clock.Advance(time.Minute)
	pair, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)
	assert.NotEqual(t, login.AccessToken, pair.AccessToken)

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")

	records := f.tokens.ListByUser(login.User.ID)
	require.Len(t, records, 2)
	assert.True(t, records[0].Revoked)
	require.NotNil(t, records[0].ReplacedByJTI)
}

func TestRefreshReuseRevokesChain(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	ctx := context.Background()
	login := f.registerAndLogin(t, "alice@example.com")

	second, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	// Replaying the consumed token kills its live descendant.
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")

	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")
}

func TestRefreshReplayWithinGraceKeepsWinner(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	f.svc.SetReuseGrace(2 * time.Second)
	ctx := context.Background()
	login := f.registerAndLogin(t, "alice@example.com")
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	second, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, event.TypeTokenRefreshed, (<-events).Type)

	// A concurrent request from the same client arrives just after rotation.
	f.clock.Advance(time.Second)
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")

	rejected := <-events
	assert.Equal(t, event.TypeRefreshRejected, rejected.Type)
	assert.Equal(t, "concurrent rotation", rejected.Detail)

	third, err := f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, event.TypeTokenRefreshed, (<-events).Type)

	// Once the window has passed, a replay is treated as theft.
	f.clock.Advance(3 * time.Second)
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")
	assert.Equal(t, event.TypeRefreshReuse, (<-events).Type)

	_, err = f.svc.Refresh(ctx, third.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")
}

func TestRefreshReuseDetectionDisabled(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	f.svc.SetReuseDetection(false)
	ctx := context.Background()
	login := f.registerAndLogin(t, "alice@example.com")

	second, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)

	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	f.svc.SetReuseDetection(false)
	login := f.registerAndLogin(t, "alice@example.com")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), login.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, failures)
	assert.Len(t, f.tokens.ListByUser(login.User.ID), 2)
}

func TestRefreshRejectsExpiredRecordWithValidSignature(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	ctx := context.Background()
	login := f.registerAndLogin(t, "alice@example.com")

	now := f.clock.Now()
	jti := "4f1c3d2e-0000-4000-8000-000000000001"
	require.NoError(t, f.tokens.Create(ctx, model.RefreshTokenRecord{
		UserID:    login.User.ID,
		JTI:       jti,
		ExpiresAt: now.Add(-time.Second),
		CreatedAt: now,
	}))

	signed, err := f.mgr.IssueRefresh(login.User.ID, jti, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, signed)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")
}

func TestRefreshRejectsExpiredSignatureWithLiveRecord(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	ctx := context.Background()
	login := f.registerAndLogin(t, "alice@example.com")

	now := f.clock.Now()
	jti := "4f1c3d2e-0000-4000-8000-000000000002"
	require.NoError(t, f.tokens.Create(ctx, model.RefreshTokenRecord{
		UserID:    login.User.ID,
		JTI:       jti,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))

	signed, err := f.mgr.IssueRefresh(login.User.ID, jti, now.Add(time.Second))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	_, err = f.svc.Refresh(ctx, signed)
	requireAPIError(t, err, http.StatusUnauthorized, "invalid refresh token")
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	login := f.registerAndLogin(t, "alice@example.com")

	_, err := f.svc.Refresh(context.Background(), login.AccessToken)
	requireAPIError(t, err, http.StatusUnauthorized, "invalid refresh token")

	_, err = f.svc.ValidateAccessToken(login.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "")
}

func TestRefreshRequiresToken(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)

	_, err := f.svc.Refresh(context.Background(), "   ")
	requireAPIError(t, err, http.StatusBadRequest, "refreshToken is required")
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	ctx := context.Background()
	login := f.registerAndLogin(t, "alice@example.com")

	require.NoError(t, f.svc.Logout(ctx, login.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, login.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, "garbage"))

	_, err := f.svc.Refresh(ctx, login.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, "refresh token revoked or expired")

	records := f.tokens.ListByUser(login.User.ID)
	require.Len(t, records, 1)
	assert.True(t, records[0].Revoked)
	assert.False(t, records[0].Rotated())

	err = f.svc.Logout(ctx, "")
	requireAPIError(t, err, http.StatusBadRequest, "refreshToken is required")
}

func TestAccessTokenSurvivesLogout(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	login := f.registerAndLogin(t, "alice@example.com")

	require.NoError(t, f.svc.Logout(context.Background(), login.RefreshToken))

	_, err := f.svc.ValidateAccessToken(login.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.ValidateAccessToken(login.AccessToken)
	require.Error(t, err)
}

func TestAuthEventsArePublished(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	ctx := event.WithClientIP(context.Background(), "203.0.113.7")
	_, err := f.svc.Register(ctx, model.RegisterRequest{Email: "dave@example.com", Password: "s3cretpass", Name: "Dave"})
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, model.LoginRequest{Email: "dave@example.com", Password: "nope-nope"})
	require.Error(t, err)

	first := <-events
	assert.Equal(t, event.TypeUserRegistered, first.Type)
	assert.Equal(t, "203.0.113.7", first.ClientIP)

	second := <-events
	assert.Equal(t, event.TypeLoginFailed, second.Type)
	assert.True(t, second.Type.Failure())
}
