// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package autherr defines the failures every authentication operation can
// report. Callers match them with errors.Is.
package autherr

import "errors"

var (
	ErrRateLimitExceeded       = errors.New("too many passcodes requested")
	ErrInvalidCode             = errors.New("invalid code")
	ErrCodeExpired             = errors.New("code expired")
	ErrDuplicateEmail          = errors.New("email already registered")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidToken            = errors.New("invalid token")
	ErrTokenExpired            = errors.New("token expired")
	ErrForbidden               = errors.New("forbidden")
	ErrFederatedExchangeFailed = errors.New("federated exchange failed")
	ErrNotFound                = errors.New("not found")
	ErrInvalidEmail            = errors.New("invalid email format")
	ErrWeakPassword            = errors.New("password does not meet requirements")

	// ErrStoreUnavailable wraps storage failures that are not a domain outcome.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store wraps err as ErrStoreUnavailable while keeping the cause in the chain.
func Store(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStoreUnavailable, err)
}
