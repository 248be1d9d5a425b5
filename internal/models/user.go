package models

import (
	"time"
)

type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	PasswordSalt        string
	Name                string
	Role                string // "user", "admin"
	IsActive            bool
	FailedLoginAttempts int        // Account-level counter, independent of the per-IP counter
	LockoutEnd          *time.Time // Temporary account lock expiration
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLockedOut reports whether the account-level lockout is still in effect.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && now.Before(*u.LockoutEnd)
}
