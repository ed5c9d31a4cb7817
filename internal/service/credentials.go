package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"go-token-auth/internal/model"
	"go-token-auth/pkg/apierror"
)

type PasswordHasher struct {
	cost      int
	dummyOnce sync.Once
	dummy     []byte
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h *PasswordHasher) Matches(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// burn spends the same work as a real comparison so unknown emails cost as
// much as wrong passwords.
func (h *PasswordHasher) burn(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

type CredentialVerifier struct {
	users  UserStore
	hasher *PasswordHasher
}

func NewCredentialVerifier(users UserStore, hasher *PasswordHasher) *CredentialVerifier {
	return &CredentialVerifier{users: users, hasher: hasher}
}

// Verify returns the user owning email if password matches. Unknown emails and
// wrong passwords produce the same error.
func (v *CredentialVerifier) Verify(ctx context.Context, email string, password string) (model.User, error) {
	user, err := v.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, model.ErrUserNotFound) {
		v.hasher.burn(password)
		return model.User{}, errInvalidCredentials()
	}
	if err != nil {
		return model.User{}, err
	}

	if !v.hasher.Matches(user.PasswordHash, password) {
		return model.User{}, errInvalidCredentials()
	}

	return user, nil
}

func errInvalidCredentials() *apierror.APIError {
	return apierror.Unauthorized("invalid credentials")
}
