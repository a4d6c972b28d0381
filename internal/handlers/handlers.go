// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers implements the JSON API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/repository"
	authsvc "codeberg.org/oliverandrich/otpgate/internal/services/auth"
	"codeberg.org/oliverandrich/otpgate/internal/services/federated"
	"codeberg.org/oliverandrich/otpgate/internal/services/otp"
	"github.com/labstack/echo/v4"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	repo   *repository.Repository
	auth   *authsvc.Service
	otps   *otp.Manager
	google *federated.Provider
}

// New creates a new Handlers instance. google may be nil when federated
// sign-in is not configured.
func New(repo *repository.Repository, auth *authsvc.Service, otps *otp.Manager, google *federated.Provider) *Handlers {
	return &Handlers{
		repo:   repo,
		auth:   auth,
		otps:   otps,
		google: google,
	}
}

// Health reports whether the store is reachable.
func (h *Handlers) Health(c echo.Context) error {
	if h.repo != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "health_check_failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
