package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go-token-auth/internal/event"
	"go-token-auth/internal/model"
	"go-token-auth/pkg/apierror"
)

type ProfileService struct {
	users UserStore
	cache ProfileCache
	bus   event.Bus
	now   func() time.Time
}

func NewProfileService(users UserStore, cache ProfileCache, bus event.Bus) *ProfileService {
	return &ProfileService{users: users, cache: cache, bus: bus, now: time.Now}
}

func (s *ProfileService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetProfile reads through the cache. Cache failures fall back to storage.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	if s.cache != nil {
		profile, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			slog.Warn("profile cache read failed", "user_id", userID, "error", err)
		}
		if ok {
			return profile, nil
		}
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Profile{}, apierror.NotFound("user not found")
	}
	if err != nil {
		return model.Profile{}, err
	}

	profile := user.Profile()
	if s.cache != nil {
		if err := s.cache.Set(ctx, profile); err != nil {
			slog.Warn("profile cache write failed", "user_id", userID, "error", err)
		}
	}

	return profile, nil
}

func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, req model.UpdateProfileRequest) (model.Profile, error) {
	name := strings.TrimSpace(req.Name)

	problems := fieldErrors{}
	problems.name(name)
	if err := problems.err(); err != nil {
		return model.Profile{}, err
	}

	user, err := s.users.UpdateName(ctx, userID, name, s.now().UTC())
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Profile{}, apierror.NotFound("user not found")
	}
	if err != nil {
		return model.Profile{}, err
	}

	profile := user.Profile()
	s.refreshCache(ctx, profile)

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type:     event.TypeProfileUpdated,
			UserID:   userID,
			ClientIP: event.ClientIPFromContext(ctx),
		})
	}

	return profile, nil
}

// refreshCache writes the updated profile through. The cache refuses entries
// older than what it holds, so a concurrent read-through cannot restore the
// previous name. If the write fails the entry is evicted instead.
func (s *ProfileService) refreshCache(ctx context.Context, profile model.Profile) {
	if s.cache == nil {
		return
	}
	err := s.cache.Set(ctx, profile)
	if err == nil {
		return
	}
	slog.Warn("profile cache write failed", "user_id", profile.ID, "error", err)
	if err := s.cache.Delete(ctx, profile.ID); err != nil {
		slog.Warn("profile cache evict failed", "user_id", profile.ID, "error", err)
	}
}
