package repository

import (
	"context"
	"fmt"

	"go-token-auth/internal/database"
	"go-token-auth/internal/model"
)

type AuditRepository struct {
	db database.DBTX
}

func NewAuditRepository(db database.DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth_audit (action, user_id, jti, status, client_ip, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Action, nullableUUID(entry.UserID), nullableUUID(entry.JTI),
		entry.Status, entry.ClientIP, entry.Detail, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("log audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if !validUUIDs(userID) {
		return []model.AuditEntry{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT action, COALESCE(user_id::text, ''), COALESCE(jti::text, ''),
		        status, client_ip, detail, occurred_at
		 FROM auth_audit WHERE user_id = $1
		 ORDER BY occurred_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.Action, &e.UserID, &e.JTI, &e.Status, &e.ClientIP, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableUUID(v string) any {
	if !validUUIDs(v) {
		return nil
	}
	return v
}
