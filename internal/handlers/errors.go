// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	authsvc "codeberg.org/oliverandrich/otpgate/internal/services/auth"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

// StatusFor translates an error into a status code and a client-safe body.
// Internal details never reach the body.
func StatusFor(err error) (int, ErrorResponse) {
	var pwErr *authsvc.PasswordValidationError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &pwErr):
		return http.StatusBadRequest, ErrorResponse{Error: "password does not meet requirements", Messages: pwErr.Messages()}
	case errors.Is(err, autherr.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, ErrorResponse{Error: "too many requests, try again later"}
	case errors.Is(err, autherr.ErrInvalidCode), errors.Is(err, autherr.ErrCodeExpired):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid or expired code"}
	case errors.Is(err, autherr.ErrDuplicateEmail):
		return http.StatusConflict, ErrorResponse{Error: "email already registered"}
	case errors.Is(err, autherr.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"}
	case errors.Is(err, autherr.ErrInvalidToken), errors.Is(err, autherr.ErrTokenExpired):
		return http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"}
	case errors.Is(err, autherr.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden"}
	case errors.Is(err, autherr.ErrFederatedExchangeFailed):
		return http.StatusUnauthorized, ErrorResponse{Error: "federated authentication failed"}
	case errors.Is(err, autherr.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found"}
	case errors.Is(err, autherr.ErrInvalidEmail):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid email address"}
	case errors.Is(err, autherr.ErrWeakPassword):
		return http.StatusBadRequest, ErrorResponse{Error: "password does not meet requirements"}
	case errors.Is(err, autherr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable"}
	case errors.As(err, &httpErr):
		return httpErr.Code, ErrorResponse{Error: httpMessage(httpErr)}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

func httpMessage(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	if text := http.StatusText(he.Code); text != "" {
		return text
	}
	return fmt.Sprint(he.Message)
}

// RespondError writes err as JSON. Server-side failures are logged with the
// full chain.
func RespondError(c echo.Context, err error) error {
	status, body := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request().Context(), "request_failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}
	return c.JSON(status, body)
}

// HTTPErrorHandler renders errors returned by middleware and the router.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		status, _ := StatusFor(err)
		_ = c.NoContent(status)
		return
	}
	_ = RespondError(c, err)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}
