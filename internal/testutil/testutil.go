// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/database"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"codeberg.org/oliverandrich/otpgate/internal/repository"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewTestUser creates a password user in the database.
func NewTestUser(t *testing.T, repo *repository.Repository, email string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		PasswordHash: models.StringPtr("$2a$04$invalidinvalidinvalidinvalidinvalidinvalidinvalidinv"),
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

// NewTestFederatedUser creates a user known only through a federated identity.
func NewTestFederatedUser(t *testing.T, repo *repository.Repository, email, federatedID string) *models.User {
	t.Helper()
	user := &models.User{
		Email:       email,
		FederatedID: models.StringPtr(federatedID),
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

// NewTestOTP stores a passcode issued at issuedAt with the given validity.
func NewTestOTP(t *testing.T, repo *repository.Repository, email, code string, issuedAt time.Time, validity time.Duration) *models.OTP {
	t.Helper()
	otp := &models.OTP{
		Email:     email,
		Code:      code,
		IssuedAt:  issuedAt.UTC(),
		ExpiresAt: issuedAt.UTC().Add(validity),
	}
	require.NoError(t, repo.CreateOTP(context.Background(), otp))
	return otp
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// NewEchoContextWithHeaders creates an Echo context with custom headers.
func NewEchoContextWithHeaders(e *echo.Echo, method, path string, body io.Reader, headers map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}
