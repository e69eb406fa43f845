package data

import (
	"errors"

	"github.com/sitekit/oidc-login/internal/ports"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrUserNotFound aliases ports.ErrNotFound so callers can match either.
	ErrUserNotFound = ports.ErrNotFound
	// ErrUserExists is returned when an insert collides with an existing user.
	ErrUserExists = errors.New("user already exists")
)
