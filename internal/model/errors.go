package model

import "errors"

var (
	// User related errors
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")

	// Refresh token record errors
	ErrTokenNotFound  = errors.New("refresh token not found")
	ErrTokenNotActive = errors.New("refresh token revoked or expired")
)
