package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-token-auth/internal/event"
	"go-token-auth/internal/model"
	"go-token-auth/internal/token"
	"go-token-auth/pkg/apierror"
)

type AuthService struct {
	users          UserStore
	refreshTokens  RefreshTokenStore
	tokens         *token.Manager
	hasher         *PasswordHasher
	verifier       *CredentialVerifier
	bus            event.Bus
	reuseDetection bool
	reuseGrace     time.Duration
	now            func() time.Time
}

func NewAuthService(users UserStore, refreshTokens RefreshTokenStore, tokens *token.Manager, hasher *PasswordHasher, bus event.Bus) *AuthService {
	return &AuthService{
		users:          users,
		refreshTokens:  refreshTokens,
		tokens:         tokens,
		hasher:         hasher,
		verifier:       NewCredentialVerifier(users, hasher),
		bus:            bus,
		reuseDetection: true,
		now:            time.Now,
	}
}

// SetReuseDetection controls whether replaying an already-rotated refresh
// token revokes the rest of its chain.
func (s *AuthService) SetReuseDetection(enabled bool) {
	s.reuseDetection = enabled
}

// SetReuseGrace sets how long after a rotation a replay of the consumed token
// is treated as a concurrent refresh from the same client. Such replays are
// rejected without revoking the chain. Zero disables the window.
func (s *AuthService) SetReuseGrace(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.reuseGrace = d
}

func (s *AuthService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.AuthUser, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	problems := fieldErrors{}
	problems.email(email)
	problems.newPassword(req.Password)
	problems.name(name)
	if err := problems.err(); err != nil {
		return model.AuthUser{}, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.AuthUser{}, err
	}

	now := s.now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return model.AuthUser{}, apierror.Conflict("email already in use")
		}
		return model.AuthUser{}, err
	}

	s.publish(ctx, event.Event{Type: event.TypeUserRegistered, UserID: user.ID})
	return user.AuthUser(), nil
}

func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.LoginResult, error) {
	email := normalizeEmail(req.Email)

	problems := fieldErrors{}
	problems.email(email)
	if strings.TrimSpace(req.Password) == "" {
		problems["password"] = "password is required"
	}
	if err := problems.err(); err != nil {
		return model.LoginResult{}, err
	}

	user, err := s.verifier.Verify(ctx, email, req.Password)
	if err != nil {
		var apiErr *apierror.APIError
		if errors.As(err, &apiErr) {
			s.publish(ctx, event.Event{Type: event.TypeLoginFailed})
		}
		return model.LoginResult{}, err
	}

	pair, jti, err := s.IssueTokenPair(ctx, user.ID)
	if err != nil {
		return model.LoginResult{}, err
	}

	s.publish(ctx, event.Event{Type: event.TypeLogin, UserID: user.ID, JTI: jti})
	return model.LoginResult{User: user.AuthUser(), TokenPair: pair}, nil
}

// IssueTokenPair mints an access/refresh pair and persists the refresh
// record. If the insert fails nothing is returned to the caller.
func (s *AuthService) IssueTokenPair(ctx context.Context, userID string) (model.TokenPair, string, error) {
	pair, rec, err := s.mintPair(userID)
	if err != nil {
		return model.TokenPair{}, "", err
	}

	if err := s.refreshTokens.Create(ctx, rec); err != nil {
		return model.TokenPair{}, "", fmt.Errorf("persist refresh token: %w", err)
	}

	return pair, rec.JTI, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token can be
// exchanged at most once.
func (s *AuthService) Refresh(ctx context.Context, presented string) (model.TokenPair, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return model.TokenPair{}, apierror.BadRequest("refreshToken is required", "refreshToken")
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		s.publish(ctx, event.Event{Type: event.TypeRefreshRejected, Detail: "invalid signature or claims"})
		return model.TokenPair{}, apierror.Unauthorized("invalid refresh token")
	}

	userID, jti := claims.UserID(), claims.JTI()

	rec, err := s.refreshTokens.Find(ctx, userID, jti)
	if errors.Is(err, model.ErrTokenNotFound) {
		s.publish(ctx, event.Event{Type: event.TypeRefreshRejected, UserID: userID, JTI: jti, Detail: "unknown record"})
		return model.TokenPair{}, errRevokedOrExpired()
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	now := s.now().UTC()
	if !rec.Active(now) {
		s.rejectInactive(ctx, rec, now)
		return model.TokenPair{}, errRevokedOrExpired()
	}

	pair, next, err := s.mintPair(userID)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := s.refreshTokens.Rotate(ctx, userID, jti, next, now); err != nil {
		if errors.Is(err, model.ErrTokenNotActive) {
			s.publish(ctx, event.Event{Type: event.TypeRefreshRejected, UserID: userID, JTI: jti, Detail: "lost rotation race"})
			return model.TokenPair{}, errRevokedOrExpired()
		}
		return model.TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.publish(ctx, event.Event{Type: event.TypeTokenRefreshed, UserID: userID, JTI: next.JTI})
	return pair, nil
}

// Logout revokes the presented refresh token. Anything other than a missing
// token succeeds, whether or not the token was valid.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return apierror.BadRequest("refreshToken is required", "refreshToken")
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		return nil
	}

	revoked, err := s.refreshTokens.Revoke(ctx, claims.UserID(), claims.JTI())
	if err != nil {
		slog.Error("logout revoke failed", "user_id", claims.UserID(), "error", err)
		return nil
	}

	if revoked {
		s.publish(ctx, event.Event{Type: event.TypeLogout, UserID: claims.UserID(), JTI: claims.JTI()})
	}
	return nil
}

// ValidateAccessToken backs the access guard. It never touches storage.
func (s *AuthService) ValidateAccessToken(tokenString string) (*token.Claims, error) {
	claims, err := s.tokens.VerifyAccess(tokenString)
	if err != nil {
		return nil, apierror.Unauthorized("invalid or expired token")
	}
	return claims, nil
}

func (s *AuthService) rejectInactive(ctx context.Context, rec model.RefreshTokenRecord, now time.Time) {
	if !s.reuseDetection || !rec.Rotated() {
		s.publish(ctx, event.Event{Type: event.TypeRefreshRejected, UserID: rec.UserID, JTI: rec.JTI, Detail: "revoked or expired"})
		return
	}

	if s.rotatedWithinGrace(ctx, rec, now) {
		s.publish(ctx, event.Event{Type: event.TypeRefreshRejected, UserID: rec.UserID, JTI: rec.JTI, Detail: "concurrent rotation"})
		return
	}

	revoked, err := s.refreshTokens.RevokeChain(ctx, rec.JTI)
	if err != nil {
		slog.Error("revoke refresh chain failed", "user_id", rec.UserID, "jti", rec.JTI, "error", err)
	}

	slog.Warn("refresh token reuse detected", "user_id", rec.UserID, "jti", rec.JTI, "revoked", revoked)
	s.publish(ctx, event.Event{
		Type:   event.TypeRefreshReuse,
		UserID: rec.UserID,
		JTI:    rec.JTI,
		Detail: fmt.Sprintf("revoked %d descendant token(s)", revoked),
	})
}

// rotatedWithinGrace reports whether rec's successor was minted less than the
// grace window before now.
func (s *AuthService) rotatedWithinGrace(ctx context.Context, rec model.RefreshTokenRecord, now time.Time) bool {
	if s.reuseGrace <= 0 {
		return false
	}

	successor, err := s.refreshTokens.Find(ctx, rec.UserID, *rec.ReplacedByJTI)
	if err != nil {
		if !errors.Is(err, model.ErrTokenNotFound) {
			slog.Error("load successor refresh token failed", "user_id", rec.UserID, "jti", rec.JTI, "error", err)
		}
		return false
	}
	return now.Sub(successor.CreatedAt) < s.reuseGrace
}

func (s *AuthService) mintPair(userID string) (model.TokenPair, model.RefreshTokenRecord, error) {
	now := s.now().UTC()

	access, _, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return model.TokenPair{}, model.RefreshTokenRecord{}, err
	}

	rec := model.RefreshTokenRecord{
		UserID:    userID,
		JTI:       uuid.NewString(),
		ExpiresAt: now.Add(s.tokens.RefreshTTL()).Truncate(time.Second),
		CreatedAt: now,
	}

	refresh, err := s.tokens.IssueRefresh(userID, rec.JTI, rec.ExpiresAt)
	if err != nil {
		return model.TokenPair{}, model.RefreshTokenRecord{}, err
	}

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    model.TokenTypeBearer,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, rec, nil
}

func (s *AuthService) publish(ctx context.Context, e event.Event) {
	if s.bus == nil {
		return
	}
	if e.ClientIP == "" {
		e.ClientIP = event.ClientIPFromContext(ctx)
	}
	e.Timestamp = s.now().UTC()
	s.bus.Publish(e)
}

func errRevokedOrExpired() *apierror.APIError {
	return apierror.Unauthorized("refresh token revoked or expired")
}
