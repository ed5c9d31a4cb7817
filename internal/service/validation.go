package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"go-token-auth/pkg/apierror"
)

const (
	maxNameLength     = 150
	maxEmailLength    = 191
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return apierror.Validation(f)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (f fieldErrors) email(email string) {
	switch {
	case email == "":
		f["email"] = "email is required"
	case len(email) > maxEmailLength || !emailPattern.MatchString(email):
		f["email"] = "email must be a valid address"
	}
}

func (f fieldErrors) newPassword(password string) {
	switch {
	case strings.TrimSpace(password) == "":
		f["password"] = "password is required"
	case utf8.RuneCountInString(password) < minPasswordLength:
		f["password"] = "password must be at least 8 characters"
	case len(password) > maxPasswordBytes:
		f["password"] = "password must be at most 72 bytes"
	}
}

func (f fieldErrors) name(name string) {
	switch {
	case name == "":
		f["name"] = "name is required"
	case utf8.RuneCountInString(name) > maxNameLength:
		f["name"] = "name must be at most 150 characters"
	}
}
