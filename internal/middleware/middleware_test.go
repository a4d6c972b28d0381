// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/auth"
	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/i18n"
	"codeberg.org/oliverandrich/otpgate/internal/middleware"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"codeberg.org/oliverandrich/otpgate/internal/services/guard"
	"codeberg.org/oliverandrich/otpgate/internal/services/token"
	"codeberg.org/oliverandrich/otpgate/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	_ = i18n.Init()
}

func mint(t *testing.T, issuer *token.Issuer, role models.Role) string {
	t.Helper()
	raw, _, err := issuer.Mint(&models.User{ID: "user-1", Email: "a@example.com", Role: role})
	require.NoError(t, err)
	return raw
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"BEARER  abc ", "abc", true},
		{"Bearer ", "", false},
		{"Bearer", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			raw, ok := middleware.BearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, raw)
		})
	}
}

func TestRequireBearer(t *testing.T) {
	issuer := token.NewIssuer(testSecret, time.Minute)
	mw := middleware.RequireBearer(issuer)
	e := echo.New()

	t.Run("valid token stores claims", func(t *testing.T) {
		c, _ := testutil.NewEchoContextWithHeaders(e, http.MethodGet, "/api/auth/me", nil, map[string]string{
			echo.HeaderAuthorization: "Bearer " + mint(t, issuer, models.RoleStandard),
		})

		var seen *token.Claims
		err := mw(func(c echo.Context) error {
			seen = auth.GetClaims(c.Request().Context())
			return nil
		})(c)

		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, "user-1", seen.UserID)
		assert.Equal(t, "a@example.com", seen.Email())
	})

	t.Run("missing header", func(t *testing.T) {
		c, _ := testutil.NewEchoContext(e, http.MethodGet, "/api/auth/me", nil)

		err := mw(okHandler)(c)

		assert.ErrorIs(t, err, autherr.ErrInvalidToken)
	})

	t.Run("tampered token", func(t *testing.T) {
		raw := mint(t, issuer, models.RoleStandard)
		c, _ := testutil.NewEchoContextWithHeaders(e, http.MethodGet, "/api/auth/me", nil, map[string]string{
			echo.HeaderAuthorization: "Bearer " + raw[:len(raw)-2] + "xx",
		})

		err := mw(okHandler)(c)

		assert.ErrorIs(t, err, autherr.ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		clock := testutil.NewClock(time.Now().Add(-time.Hour))
		old := token.NewIssuer(testSecret, time.Minute, token.WithClock(clock.Now))
		c, _ := testutil.NewEchoContextWithHeaders(e, http.MethodGet, "/api/auth/me", nil, map[string]string{
			echo.HeaderAuthorization: "Bearer " + mint(t, old, models.RoleStandard),
		})

		err := mw(okHandler)(c)

		assert.ErrorIs(t, err, autherr.ErrTokenExpired)
	})
}

func TestRequireAdmin(t *testing.T) {
	issuer := token.NewIssuer(testSecret, time.Minute)
	mw := middleware.RequireAdmin(guard.New(issuer, "break-glass"))
	e := echo.New()

	tests := []struct {
		name    string
		headers map[string]string
		allowed bool
	}{
		{"admin token", map[string]string{echo.HeaderAuthorization: "Bearer " + mint(t, issuer, models.RoleAdmin)}, true},
		{"standard token", map[string]string{echo.HeaderAuthorization: "Bearer " + mint(t, issuer, models.RoleStandard)}, false},
		{"service key", map[string]string{middleware.AdminKeyHeader: "break-glass"}, true},
		{"wrong service key", map[string]string{middleware.AdminKeyHeader: "nope"}, false},
		{"wrong key wins over admin token", map[string]string{
			middleware.AdminKeyHeader: "nope",
			echo.HeaderAuthorization:  "Bearer " + mint(t, issuer, models.RoleAdmin),
		}, false},
		{"no credential", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := testutil.NewEchoContextWithHeaders(e, http.MethodGet, "/api/admin/otp-logs", nil, tt.headers)

			err := mw(okHandler)(c)

			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
			} else {
				assert.ErrorIs(t, err, autherr.ErrForbidden)
			}
		})
	}
}

func TestLocale(t *testing.T) {
	e := echo.New()

	tests := []struct {
		acceptLanguage string
		expected       string
	}{
		{"de", "de"},
		{"en", "en"},
		{"", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.acceptLanguage, func(t *testing.T) {
			c, _ := testutil.NewEchoContextWithHeaders(e, http.MethodGet, "/", nil, map[string]string{
				"Accept-Language": tt.acceptLanguage,
			})

			var locale string
			err := middleware.Locale()(func(c echo.Context) error {
				locale = i18n.GetLocale(c.Request().Context())
				return nil
			})(c)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, locale)
		})
	}
}

func TestStripTrailingSlash(t *testing.T) {
	e := echo.New()
	mw := middleware.StripTrailingSlash()

	t.Run("GET redirects", func(t *testing.T) {
		c, rec := testutil.NewEchoContext(e, http.MethodGet, "/health/?x=1", nil)

		require.NoError(t, mw(okHandler)(c))

		assert.Equal(t, http.StatusMovedPermanently, rec.Code)
		assert.Equal(t, "/health?x=1", rec.Header().Get(echo.HeaderLocation))
	})

	t.Run("POST is rewritten", func(t *testing.T) {
		c, rec := testutil.NewEchoContext(e, http.MethodPost, "/api/auth/login/", strings.NewReader(`{}`))

		var path string
		err := mw(func(c echo.Context) error {
			path = c.Request().URL.Path
			return c.NoContent(http.StatusOK)
		})(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "/api/auth/login", path)
	})

	t.Run("root untouched", func(t *testing.T) {
		c, rec := testutil.NewEchoContext(e, http.MethodGet, "/", nil)

		require.NoError(t, mw(okHandler)(c))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
