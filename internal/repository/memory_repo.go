package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go-token-auth/internal/model"
)

// MemoryUserRepository is an in-process UserRepository used by STORE_DRIVER=memory
// and by tests. It follows the same error contract as the Postgres version.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]model.User
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    map[string]model.User{},
		byEmail: map[string]string{},
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	key := strings.ToLower(strings.TrimSpace(u.Email))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[key]; exists {
		return model.ErrEmailTaken
	}

	r.byID[u.ID] = u
	r.byEmail[key] = u.ID
	return nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, exists := r.byID[id]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) UpdateName(_ context.Context, id string, name string, updatedAt time.Time) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, exists := r.byID[id]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}

	u.Name = name
	u.UpdatedAt = updatedAt
	r.byID[id] = u
	return u, nil
}

// Delete removes a user and, like the foreign key cascade, its refresh tokens.
func (r *MemoryUserRepository) Delete(id string, tokens *MemoryTokenRepository) {
	r.mu.Lock()
	if u, exists := r.byID[id]; exists {
		delete(r.byEmail, strings.ToLower(u.Email))
		delete(r.byID, id)
	}
	r.mu.Unlock()

	if tokens != nil {
		tokens.deleteUser(id)
	}
}

type MemoryTokenRepository struct {
	mu      sync.Mutex
	records map[string]model.RefreshTokenRecord
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{records: map[string]model.RefreshTokenRecord{}}
}

func (r *MemoryTokenRepository) Create(_ context.Context, rec model.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.insertLocked(rec)
	return nil
}

func (r *MemoryTokenRepository) Find(_ context.Context, userID string, jti string) (model.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[jti]
	if !exists || rec.UserID != userID {
		return model.RefreshTokenRecord{}, model.ErrTokenNotFound
	}
	return rec, nil
}

func (r *MemoryTokenRepository) Rotate(_ context.Context, userID string, oldJTI string, next model.RefreshTokenRecord, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.records[oldJTI]
	if !exists || old.UserID != userID || !old.Active(now) {
		return model.ErrTokenNotActive
	}

	successor := next.JTI
	old.Revoked = true
	old.ReplacedByJTI = &successor
	r.records[oldJTI] = old
	r.insertLocked(next)
	return nil
}

func (r *MemoryTokenRepository) Revoke(_ context.Context, userID string, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[jti]
	if !exists || rec.UserID != userID || rec.Revoked {
		return false, nil
	}

	rec.Revoked = true
	r.records[jti] = rec
	return true, nil
}

func (r *MemoryTokenRepository) RevokeChain(_ context.Context, jti string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var revoked int64
	seen := map[string]struct{}{}
	for current := jti; current != ""; {
		if _, loop := seen[current]; loop {
			break
		}
		seen[current] = struct{}{}

		rec, exists := r.records[current]
		if !exists {
			break
		}
		if !rec.Revoked {
			rec.Revoked = true
			r.records[current] = rec
			revoked++
		}

		if rec.ReplacedByJTI == nil {
			break
		}
		current = *rec.ReplacedByJTI
	}

	return revoked, nil
}

// ListByUser returns a user's records ordered by creation time.
func (r *MemoryTokenRepository) ListByUser(userID string) []model.RefreshTokenRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.RefreshTokenRecord, 0)
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i int, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryTokenRepository) insertLocked(rec model.RefreshTokenRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Revoked = false
	rec.ReplacedByJTI = nil
	r.records[rec.JTI] = rec
}

func (r *MemoryTokenRepository) deleteUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for jti, rec := range r.records {
		if rec.UserID == userID {
			delete(r.records, jti)
		}
	}
}

type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Log(_ context.Context, entry model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryAuditRepository) ListByUser(_ context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.AuditEntry, 0)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

// Actions returns the recorded actions in insertion order.
func (r *MemoryAuditRepository) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}
