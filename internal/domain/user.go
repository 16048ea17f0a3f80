// Package domain contains the core business entities for Meridian Vault.
// These are pure Go structs with no external dependencies, representing
// the fundamental concepts of the deduplicating file store.
package domain

import (
	"time"
)

// User represents a registered user in the system.
// Users own file records and may optionally hold admin privileges.
type User struct {
	// ID is the unique identifier for the user (auto-generated).
	ID int64 `json:"id"`

	// Email is the unique email address for the user, used for login.
	Email string `json:"email"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// IsActive indicates whether the user account is active.
	// Inactive users cannot authenticate or perform any operations.
	IsActive bool `json:"is_active"`

	// IsAdmin indicates whether the user has administrative privileges.
	// Admins can manage other users' files and repoint blob references.
	IsAdmin bool `json:"is_admin"`

	// QuotaBytes is the per-user storage quota measured against actual
	// (deduplicated) usage. Zero means unlimited.
	QuotaBytes int64 `json:"quota_bytes"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser creates a new User with default values.
func NewUser(email, passwordHash string, quotaBytes int64) *User {
	now := time.Now().UTC()
	return &User{
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		IsAdmin:      false,
		QuotaBytes:   quotaBytes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CanAuthenticate returns true if the user is allowed to authenticate.
func (u *User) CanAuthenticate() bool {
	return u.IsActive
}

// HasQuota returns true if the user has a storage quota configured.
func (u *User) HasQuota() bool {
	return u.QuotaBytes > 0
}
