// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// OTP is one issued one-time passcode. Used only ever flips false to true.
type OTP struct { //nolint:govet // fieldalignment: readability over optimization
	ID        string     `db:"id" json:"id"`
	Email     string     `db:"email" json:"email"`
	Code      string     `db:"code" json:"-"`
	IssuedAt  time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	Used      bool       `db:"used" json:"used"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	UserID    *string    `db:"user_id" json:"user_id,omitempty"`
}

// Expired reports whether the passcode can no longer be matched at now.
func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
