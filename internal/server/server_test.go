// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/i18n"
	"codeberg.org/oliverandrich/otpgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

const strongPassword = "Tr0ub4dor&3-horse"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 8080, MaxBodySize: 1},
		Auth: config.AuthConfig{
			JWTSecret:         strings.Repeat("k", config.MinJWTSecretLength),
			TokenTTL:          30 * time.Minute,
			AdminAPIKey:       "break-glass",
			OTPLength:         6,
			OTPValidity:       10 * time.Minute,
			OTPRateLimit:      5,
			OTPRateWindow:     time.Hour,
			PasswordMinLength: 8,
		},
	}
}

func newTestApp(t *testing.T) (*App, *sqlx.DB) {
	t.Helper()
	require.NoError(t, i18n.Init())
	db, _ := testutil.NewTestDB(t)
	app, err := New(testConfig(), db)
	require.NoError(t, err)
	return app, db
}

func do(app *App, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.Echo.ServeHTTP(rec, req)
	return rec
}

func latestCode(t *testing.T, db *sqlx.DB, email string) string {
	t.Helper()
	var code string
	require.NoError(t, db.Get(&code, "SELECT code FROM otps WHERE email = ? ORDER BY issued_at DESC LIMIT 1", email))
	return code
}

func TestHealthRoute(t *testing.T) {
	app, _ := newTestApp(t)

	rec := do(app, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestUnknownRoute(t *testing.T) {
	app, _ := newTestApp(t)

	rec := do(app, http.MethodGet, "/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not Found"}`, rec.Body.String())
}

func TestRegistrationEndToEnd(t *testing.T) {
	app, db := newTestApp(t)

	rec := do(app, http.MethodPost, "/api/auth/register",
		`{"email":"alice@example.com","password":"`+strongPassword+`"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(app, http.MethodPost, "/api/auth/verify-registration",
		`{"email":"alice@example.com","otp":"`+latestCode(t, db, "alice@example.com")+`","password":"`+strongPassword+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "bearer", session.TokenType)

	t.Run("me with token", func(t *testing.T) {
		rec := do(app, http.MethodGet, "/api/auth/me", "", map[string]string{"Authorization": "Bearer " + session.AccessToken})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "alice@example.com")
	})

	t.Run("me without token", func(t *testing.T) {
		rec := do(app, http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid or expired token"}`, rec.Body.String())
	})

	t.Run("standard user is not admin", func(t *testing.T) {
		rec := do(app, http.MethodGet, "/api/admin/otp-logs", "", map[string]string{"Authorization": "Bearer " + session.AccessToken})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())
	})
}

func TestAdminRoutes(t *testing.T) {
	app, _ := newTestApp(t)
	rec := do(app, http.MethodPost, "/api/auth/send-otp", `{"email":"log@example.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	keyHeader := map[string]string{"X-Admin-Key": "break-glass"}

	rec = do(app, http.MethodGet, "/api/admin/otp-logs", "", keyHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		OTPs []map[string]any `json:"otps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.OTPs, 1)
	assert.NotContains(t, page.OTPs[0], "code")

	id, ok := page.OTPs[0]["id"].(string)
	require.True(t, ok)

	rec = do(app, http.MethodDelete, "/api/admin/otp-logs/"+id, "", keyHeader)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(app, http.MethodDelete, "/api/admin/otp-logs/"+id, "", keyHeader)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(app, http.MethodGet, "/api/admin/otp-logs", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTrailingSlashPost(t *testing.T) {
	app, _ := newTestApp(t)

	rec := do(app, http.MethodPost, "/api/auth/send-otp/", `{"email":"slash@example.com"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGoogleDisabled(t *testing.T) {
	app, _ := newTestApp(t)

	rec := do(app, http.MethodGet, "/api/auth/google/url", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	app, _ := newTestApp(t)
	huge := `{"email":"` + strings.Repeat("a", 2<<20) + `"}`

	rec := do(app, http.MethodPost, "/api/auth/send-otp", huge, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGeneratedSecretOnLocalhost(t *testing.T) {
	require.NoError(t, i18n.Init())
	db, _ := testutil.NewTestDB(t)
	cfg := testConfig()
	cfg.Auth.JWTSecret = ""

	app, err := New(cfg, db)

	require.NoError(t, err)
	assert.NotNil(t, app.Echo)
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	SetupLogger("debug", "json")
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	SetupLogger("warn", "text")
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelWarn))
}

func TestStartAndShutdown(t *testing.T) {
	app, _ := newTestApp(t)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	app.Start(context.Background())
	assert.Contains(t, logs.String(), `"msg":"user_store_ready","users":0`)

	rec := do(app, http.MethodPost, "/api/auth/register",
		`{"email":"alice@example.com","password":"`+strongPassword+`"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	assert.Contains(t, logs.String(), `"msg":"notify_queue_stopped","sent":1,"failed":0,"dropped":0`)
}
