package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"go-token-auth/internal/database"
	"go-token-auth/internal/model"
)

type TokenRepository struct {
	db database.DBTX
}

func NewTokenRepository(db database.DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, rec model.RefreshTokenRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO refresh_tokens (user_id, jti, revoked, replaced_by_jti, expires_at, created_at)
		 VALUES ($1, $2, false, NULL, $3, $4)`,
		rec.UserID, rec.JTI, rec.ExpiresAt, createdAt)
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Find(ctx context.Context, userID string, jti string) (model.RefreshTokenRecord, error) {
	if !validUUIDs(userID, jti) {
		return model.RefreshTokenRecord{}, model.ErrTokenNotFound
	}

	var rec model.RefreshTokenRecord
	err := r.db.QueryRow(ctx,
		`SELECT user_id, jti, revoked, replaced_by_jti, expires_at, created_at
		 FROM refresh_tokens WHERE user_id = $1 AND jti = $2`, userID, jti).
		Scan(&rec.UserID, &rec.JTI, &rec.Revoked, &rec.ReplacedByJTI, &rec.ExpiresAt, &rec.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.RefreshTokenRecord{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshTokenRecord{}, fmt.Errorf("find refresh token: %w", err)
	}
	return rec, nil
}

// Rotate consumes oldJTI and stores next in one transaction. The conditional
// update guarantees a single winner when the same token is presented
// concurrently; losers get model.ErrTokenNotActive.
func (r *TokenRepository) Rotate(ctx context.Context, userID string, oldJTI string, next model.RefreshTokenRecord, now time.Time) error {
	if !validUUIDs(userID, oldJTI) {
		return model.ErrTokenNotActive
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET revoked = true, replaced_by_jti = $3
			 WHERE user_id = $1 AND jti = $2 AND revoked = false AND expires_at > $4`,
			userID, oldJTI, next.JTI, now)
		if err != nil {
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrTokenNotActive
		}

		if err := NewTokenRepository(tx).Create(ctx, next); err != nil {
			return err
		}
		return nil
	})
}

// Revoke marks an active record revoked without a successor. It reports
// whether a row changed.
func (r *TokenRepository) Revoke(ctx context.Context, userID string, jti string) (bool, error) {
	if !validUUIDs(userID, jti) {
		return false, nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true
		 WHERE user_id = $1 AND jti = $2 AND revoked = false`, userID, jti)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeChain revokes every record reachable from jti through replaced_by_jti.
func (r *TokenRepository) RevokeChain(ctx context.Context, jti string) (int64, error) {
	if !validUUIDs(jti) {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`WITH RECURSIVE chain AS (
		     SELECT jti, replaced_by_jti FROM refresh_tokens WHERE jti = $1
		     UNION ALL
		     SELECT rt.jti, rt.replaced_by_jti
		     FROM refresh_tokens rt JOIN chain c ON rt.jti = c.replaced_by_jti
		 )
		 UPDATE refresh_tokens SET revoked = true
		 WHERE jti IN (SELECT jti FROM chain) AND revoked = false`, jti)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token chain: %w", err)
	}
	return tag.RowsAffected(), nil
}

func validUUIDs(values ...string) bool {
	for _, v := range values {
		if _, err := uuid.Parse(v); err != nil {
			return false
		}
	}
	return true
}
