// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"time"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdmin
}

// User is one authenticated identity. At least one of PasswordHash and
// FederatedID is set.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID                string     `db:"id" json:"id"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      *string    `db:"password_hash" json:"-"`
	DisplayName       *string    `db:"display_name" json:"display_name,omitempty"`
	ProfilePictureURL *string    `db:"profile_picture_url" json:"profile_picture_url,omitempty"`
	Role              Role       `db:"role" json:"role"`
	FederatedID       *string    `db:"federated_id" json:"-"`
	LastLogin         *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// HasPassword reports whether the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasProfilePicture reports whether a non-empty picture URL is stored.
func (u *User) HasProfilePicture() bool {
	return u.ProfilePictureURL != nil && *u.ProfilePictureURL != ""
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// StringPtr returns nil for an empty string and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
