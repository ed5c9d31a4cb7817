package service

import (
	"context"
	"time"

	"go-token-auth/internal/model"
)

type UserStore interface {
	Create(ctx context.Context, u model.User) error
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	UpdateName(ctx context.Context, id string, name string, updatedAt time.Time) (model.User, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, rec model.RefreshTokenRecord) error
	Find(ctx context.Context, userID string, jti string) (model.RefreshTokenRecord, error)
	Rotate(ctx context.Context, userID string, oldJTI string, next model.RefreshTokenRecord, now time.Time) error
	Revoke(ctx context.Context, userID string, jti string) (bool, error)
	RevokeChain(ctx context.Context, jti string) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error)
}

type ProfileCache interface {
	Get(ctx context.Context, userID string) (model.Profile, bool, error)
	Set(ctx context.Context, profile model.Profile) error
	Delete(ctx context.Context, userID string) error
}
