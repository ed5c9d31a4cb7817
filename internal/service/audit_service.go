package service

import (
	"context"
	"log/slog"
	"time"

	"go-token-auth/internal/event"
	"go-token-auth/internal/model"
)

const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"

	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// AuditService persists auth events published on the bus.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Run consumes events until ctx is cancelled. The returned channel closes
// once the subscription has been released.
func (s *AuditService) Run(ctx context.Context, bus event.Bus) <-chan struct{} {
	events, unsubscribe := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.Record(ctx, e)
			}
		}
	}()

	return done
}

func (s *AuditService) Record(ctx context.Context, e event.Event) {
	status := AuditStatusSuccess
	if e.Type.Failure() {
		status = AuditStatusFailure
	}

	occurredAt := e.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	entry := model.AuditEntry{
		Action:     string(e.Type),
		UserID:     e.UserID,
		JTI:        e.JTI,
		Status:     status,
		ClientIP:   e.ClientIP,
		Detail:     e.Detail,
		OccurredAt: occurredAt,
	}

	if err := s.store.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("audit write failed", "action", entry.Action, "user_id", entry.UserID, "error", err)
	}
}

func (s *AuditService) Recent(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	entries, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return entries, nil
}
