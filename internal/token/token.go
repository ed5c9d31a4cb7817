// Package token signs and verifies the service's access and refresh JWTs.
//
// Access and refresh tokens are signed with distinct HMAC secrets so a token of
// one kind can never be replayed as the other, even before the type claim is
// inspected.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken is returned for every verification failure. Callers never
// learn whether the signature, expiry, type or subject was wrong.
var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// JTI returns the token identifier claim.
func (c *Claims) JTI() string {
	return c.ID
}

type Options struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Now           func() time.Time
}

type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

func NewManager(opts Options) (*Manager, error) {
	access := strings.TrimSpace(opts.AccessSecret)
	refresh := strings.TrimSpace(opts.RefreshSecret)

	if access == "" || refresh == "" {
		return nil, errors.New("access and refresh signing secrets are required")
	}
	if access == refresh {
		return nil, errors.New("access and refresh signing secrets must differ")
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		accessSecret:  []byte(access),
		refreshSecret: []byte(refresh),
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		issuer:        opts.Issuer,
		now:           now,
	}, nil
}

func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *Manager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// IssueAccess mints a short-lived access token for userID.
func (m *Manager) IssueAccess(userID string) (string, time.Time, error) {
	issuedAt := m.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(m.accessTTL)

	signed, err := m.sign(m.accessSecret, Claims{
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// IssueRefresh mints a refresh token carrying jti. expiresAt should match the
// persisted record so both expiry checks agree.
func (m *Manager) IssueRefresh(userID string, jti string, expiresAt time.Time) (string, error) {
	if strings.TrimSpace(jti) == "" {
		return "", errors.New("refresh token requires a jti")
	}

	signed, err := m.sign(m.refreshSecret, Claims{
		Type: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(m.now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	return signed, nil
}

func (m *Manager) VerifyAccess(tokenString string) (*Claims, error) {
	return m.verify(tokenString, m.accessSecret, TypeAccess)
}

func (m *Manager) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := m.verify(tokenString, m.refreshSecret, TypeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.JTI() == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (m *Manager) sign(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *Manager) verify(tokenString string, secret []byte, expectedType string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != expectedType || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
