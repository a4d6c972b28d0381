// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"
	"strconv"

	"codeberg.org/oliverandrich/otpgate/internal/models"
	"github.com/labstack/echo/v4"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// OTPListResponse is the admin passcode log page.
type OTPListResponse struct {
	OTPs []models.OTP `json:"otps"`
}

// ListOTPs returns passcode records, newest first. Codes are never included.
func (h *Handlers) ListOTPs(c echo.Context) error {
	skip, err := queryInt(c, "skip", 0)
	if err != nil || skip < 0 {
		return badRequest(c, "invalid skip")
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		return badRequest(c, "invalid limit")
	}
	limit = min(limit, maxPageSize)

	otps, err := h.otps.List(c.Request().Context(), skip, limit)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, OTPListResponse{OTPs: otps})
}

// DeleteOTP removes a passcode record.
func (h *Handlers) DeleteOTP(c echo.Context) error {
	if err := h.otps.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return RespondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
