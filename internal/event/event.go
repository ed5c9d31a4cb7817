package event

import (
	"context"
	"time"
)

type Type string

const (
	TypeUserRegistered  Type = "register"
	TypeLogin           Type = "login"
	TypeLoginFailed     Type = "login_failed"
	TypeTokenRefreshed  Type = "refresh"
	TypeRefreshRejected Type = "refresh_rejected"
	TypeRefreshReuse    Type = "refresh_reuse"
	TypeLogout          Type = "logout"
	TypeProfileUpdated  Type = "profile_update"
)

// Failure reports whether the event records a rejected attempt.
func (t Type) Failure() bool {
	switch t {
	case TypeLoginFailed, TypeRefreshRejected, TypeRefreshReuse:
		return true
	default:
		return false
	}
}

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	JTI       string    `json:"jti,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address so events published while serving
// the request can carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
