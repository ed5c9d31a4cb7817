package model

import "time"

const TokenTypeBearer = "Bearer"

// RefreshTokenRecord tracks one issued refresh token by its jti. Rows are
// never deleted by the service; revocation is a flag.
type RefreshTokenRecord struct {
	UserID        string
	JTI           string
	Revoked       bool
	ReplacedByJTI *string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Active reports whether the record may still be exchanged at now.
func (r RefreshTokenRecord) Active(now time.Time) bool {
	return !r.Revoked && r.ExpiresAt.After(now)
}

// Rotated reports whether the record was consumed by a refresh, as opposed to
// a logout.
func (r RefreshTokenRecord) Rotated() bool {
	return r.Revoked && r.ReplacedByJTI != nil && *r.ReplacedByJTI != ""
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type LoginResult struct {
	User AuthUser `json:"user"`
	TokenPair
}
