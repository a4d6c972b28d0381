// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"strings"

	"codeberg.org/oliverandrich/otpgate/internal/auth"
	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/services/guard"
	"codeberg.org/oliverandrich/otpgate/internal/services/token"
	"github.com/labstack/echo/v4"
)

// AdminKeyHeader carries the break-glass service key.
const AdminKeyHeader = "X-Admin-Key"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// RequireBearer rejects requests without a valid bearer token and stores the
// claims of valid ones in the request context.
func RequireBearer(tokens TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return autherr.ErrInvalidToken
			}

			claims, err := tokens.Validate(raw)
			if err != nil {
				return err
			}

			ctx := auth.WithClaims(c.Request().Context(), claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireAdmin admits requests that present either an admin bearer token or
// the configured service key. The service key header wins when both are set.
func RequireAdmin(g *guard.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := g.AuthorizeAdmin(c.Request().Context(), credentialFrom(c)); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func credentialFrom(c echo.Context) guard.Credential {
	header := c.Request().Header
	if key := header.Get(AdminKeyHeader); key != "" {
		return guard.ServiceKey(key)
	}
	if raw, ok := BearerToken(header.Get(echo.HeaderAuthorization)); ok {
		return guard.BearerToken(raw)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}
