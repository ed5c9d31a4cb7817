package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()

	m, err := NewManager(Options{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "test-issuer",
		Now:           now,
	})
	require.NoError(t, err)
	return m
}

func TestNewManagerValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts Options
	}{
		{"missing access secret", Options{RefreshSecret: "r", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"missing refresh secret", Options{AccessSecret: "a", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"identical secrets", Options{AccessSecret: "same", RefreshSecret: "same", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"zero ttl", Options{AccessSecret: "a", RefreshSecret: "r", RefreshTTL: time.Hour}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewManager(tc.opts)
			require.Error(t, err)
		})
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	signed, expiresAt, err := m.IssueAccess("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 2*time.Second)

	claims, err := m.VerifyAccess(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, TypeAccess, claims.Type)
	assert.Equal(t, "test-issuer", claims.Issuer)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	expiresAt := time.Now().Add(time.Hour)

	signed, err := m.IssueRefresh("user-1", "jti-1", expiresAt)
	require.NoError(t, err)

	claims, err := m.VerifyRefresh(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "jti-1", claims.JTI())
	assert.Equal(t, TypeRefresh, claims.Type)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	access, _, err := m.IssueAccess("user-1")
	require.NoError(t, err)
	refresh, err := m.IssueRefresh("user-1", "jti-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = m.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTypeClaimIsEnforced(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	// Signed with the access secret but labelled as a refresh token.
	forged, err := m.sign(m.accessSecret, Claims{
		Type: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	_, err = m.VerifyAccess(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	t.Parallel()

	current := time.Now()
	m := newTestManager(t, func() time.Time { return current })

	signed, _, err := m.IssueAccess("user-1")
	require.NoError(t, err)

	current = current.Add(16 * time.Minute)

	_, err = m.VerifyAccess(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	for _, raw := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		_, err := m.VerifyAccess(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, raw)
	}
}

func TestRefreshWithoutJTIRejected(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	_, err := m.IssueRefresh("user-1", "", time.Now().Add(time.Hour))
	require.Error(t, err)

	noJTI, err := m.sign(m.refreshSecret, Claims{
		Type: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	_, err = m.VerifyRefresh(noJTI)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSigningMethodRejected(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.VerifyAccess(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
