// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package hasher wraps bcrypt for password storage.
package hasher

import (
	"fmt"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// Hasher hashes and verifies passwords.
type Hasher struct {
	cost  int
	dummy []byte
}

// New returns a Hasher using the given bcrypt cost. Zero selects
// bcrypt.DefaultCost.
func New(cost int) *Hasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	return &Hasher{cost: cost, dummy: dummy}
}

// Hash returns the bcrypt hash of password. Passwords over MaxPasswordBytes
// are rejected with autherr.ErrWeakPassword.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", fmt.Errorf("%w: longer than %d bytes", autherr.ErrWeakPassword, MaxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash.
func (h *Hasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy burns the same time as Verify for callers with no stored hash.
func (h *Hasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
