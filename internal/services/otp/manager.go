// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"codeberg.org/oliverandrich/otpgate/internal/repository"
)

// DefaultValidity is how long an issued passcode can be verified.
const DefaultValidity = 10 * time.Minute

// Store persists passcodes. Implemented by *repository.Repository.
type Store interface {
	Counter
	CreateOTP(ctx context.Context, otp *models.OTP) error
	FindLatestUnusedOTP(ctx context.Context, email, code string) (*models.OTP, error)
	ConsumeOTP(ctx context.Context, id string, at time.Time) error
	ListOTPs(ctx context.Context, offset, limit int) ([]models.OTP, error)
	DeleteOTP(ctx context.Context, id string) error
	DeleteOTPsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Dispatcher hands a passcode to the delivery channel. It must not block
// and has no way to fail the issuance.
type Dispatcher interface {
	Dispatch(ctx context.Context, email, code string)
}

// Config holds the issuance policy.
type Config struct {
	Length     int
	Validity   time.Duration
	RateLimit  int
	RateWindow time.Duration
}

// Manager owns the passcode lifecycle: issue, verify and administrative access.
type Manager struct {
	store      Store
	dispatcher Dispatcher
	generator  *Generator
	limiter    *RateLimiter
	validity   time.Duration
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = func() time.Time { return now().UTC() }
	}
}

// NewManager creates a Manager.
func NewManager(store Store, dispatcher Dispatcher, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		dispatcher: dispatcher,
		generator:  NewGenerator(cfg.Length),
		validity:   cfg.Validity,
		now:        utcNow,
	}
	if m.validity <= 0 {
		m.validity = DefaultValidity
	}
	for _, opt := range opts {
		opt(m)
	}
	m.limiter = NewRateLimiter(store, cfg.RateLimit, cfg.RateWindow, m.now)
	return m
}

// Issue creates a passcode for email and queues it for delivery. ownerID
// links the passcode to an existing user and may be nil.
func (m *Manager) Issue(ctx context.Context, email string, ownerID *string) (*models.OTP, error) {
	allowed, err := m.limiter.Allow(ctx, email)
	if err != nil {
		return nil, autherr.Store(err)
	}
	if !allowed {
		slog.Warn("otp_rate_limited", "email", email)
		return nil, autherr.ErrRateLimitExceeded
	}

	code, err := m.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}

	issuedAt := m.now()
	otp := &models.OTP{
		Email:     email,
		Code:      code,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(m.validity),
		UserID:    ownerID,
	}
	if err := m.store.CreateOTP(ctx, otp); err != nil {
		return nil, autherr.Store(err)
	}

	slog.Info("otp_issued", "otp_id", otp.ID, "email", email, "expires_at", otp.ExpiresAt)

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(ctx, email, code)
	}

	return otp, nil
}

// Verify consumes the most recently issued unused passcode for email that
// matches code. Only one caller can consume a given passcode.
func (m *Manager) Verify(ctx context.Context, email, code string) (*models.OTP, error) {
	otp, err := m.store.FindLatestUnusedOTP(ctx, email, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("otp_verify_failed", "email", email, "reason", "no_match")
			return nil, autherr.ErrInvalidCode
		}
		return nil, autherr.Store(err)
	}

	now := m.now()
	if otp.Expired(now) {
		slog.Warn("otp_verify_failed", "email", email, "otp_id", otp.ID, "reason", "expired")
		return nil, autherr.ErrCodeExpired
	}

	if err := m.store.ConsumeOTP(ctx, otp.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("otp_verify_failed", "email", email, "otp_id", otp.ID, "reason", "already_used")
			return nil, autherr.ErrInvalidCode
		}
		return nil, autherr.Store(err)
	}

	otp.Used = true
	otp.UsedAt = &now
	slog.Info("otp_verified", "otp_id", otp.ID, "email", email)
	return otp, nil
}

// List returns passcode records newest first.
func (m *Manager) List(ctx context.Context, offset, limit int) ([]models.OTP, error) {
	otps, err := m.store.ListOTPs(ctx, offset, limit)
	if err != nil {
		return nil, autherr.Store(err)
	}
	return otps, nil
}

// Delete removes a passcode record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteOTP(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return autherr.ErrNotFound
		}
		return autherr.Store(err)
	}
	slog.Info("otp_deleted", "otp_id", id)
	return nil
}

// Purge deletes passcodes that expired more than retention ago.
func (m *Manager) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := m.store.DeleteOTPsBefore(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, autherr.Store(err)
	}
	slog.Info("otp_purged", "count", n, "retention", retention)
	return n, nil
}
