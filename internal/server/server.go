// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/database"
	"codeberg.org/oliverandrich/otpgate/internal/handlers"
	"codeberg.org/oliverandrich/otpgate/internal/i18n"
	"codeberg.org/oliverandrich/otpgate/internal/middleware"
	"codeberg.org/oliverandrich/otpgate/internal/repository"
	authsvc "codeberg.org/oliverandrich/otpgate/internal/services/auth"
	"codeberg.org/oliverandrich/otpgate/internal/services/email"
	"codeberg.org/oliverandrich/otpgate/internal/services/federated"
	"codeberg.org/oliverandrich/otpgate/internal/services/guard"
	"codeberg.org/oliverandrich/otpgate/internal/services/hasher"
	"codeberg.org/oliverandrich/otpgate/internal/services/notify"
	"codeberg.org/oliverandrich/otpgate/internal/services/otp"
	"codeberg.org/oliverandrich/otpgate/internal/services/token"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// App is the assembled HTTP application.
type App struct {
	Echo  *echo.Echo
	repo  *repository.Repository
	queue *notify.Queue
}

// Start launches the notification workers.
func (a *App) Start(ctx context.Context) {
	a.queue.Start()
	users, err := a.repo.CountUsers(ctx)
	if err != nil {
		slog.Warn("failed to count users", "error", err)
		return
	}
	slog.Info("user_store_ready", "users", users)
}

// Shutdown drains queued passcodes and reports delivery totals.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.queue.Stop(ctx)
	sent, failed, dropped := a.queue.Stats()
	slog.Info("notify_queue_stopped", "sent", sent, "failed", failed, "dropped", dropped)
	return err
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	SetupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	// Database and migrations
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	// i18n
	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	app, err := New(cfg, db)
	if err != nil {
		return err
	}
	app.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Timeout+5*time.Second)
		defer cancel()
		if stopErr := app.Shutdown(stopCtx); stopErr != nil {
			slog.Error("failed to drain notification queue", "error", stopErr)
		}
	}()

	return startWithGracefulShutdown(ctx, app.Echo, cfg)
}

// New wires services, middleware and routes on top of an open database.
// The notification queue is not started.
func New(cfg *config.Config, db *sqlx.DB) (*App, error) {
	repo := repository.New(db)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = hex.EncodeToString(securecookie.GenerateRandomKey(32))
		slog.Warn("jwt_secret_generated", "hint", "tokens will not survive a restart; set --jwt-secret")
	}
	tokens := token.NewIssuer(secret, cfg.Auth.TokenTTL)

	appName := i18n.T(context.Background(), "app_name")
	var sender notify.Sender
	if cfg.SMTP.Enabled() {
		mailer, err := email.NewService(&cfg.SMTP, appName, cfg.Auth.OTPValidity)
		if err != nil {
			return nil, fmt.Errorf("failed to configure mail: %w", err)
		}
		sender = mailer
	} else {
		slog.Warn("smtp_not_configured", "hint", "passcodes are written to the log")
		sender = email.NewLogSender(appName, cfg.Auth.OTPValidity)
	}
	queue := notify.NewQueue(sender, cfg.Notify)

	otps := otp.NewManager(repo, queue, otp.Config{
		Length:     cfg.Auth.OTPLength,
		Validity:   cfg.Auth.OTPValidity,
		RateLimit:  cfg.Auth.OTPRateLimit,
		RateWindow: cfg.Auth.OTPRateWindow,
	})
	authService := authsvc.NewService(repo, otps, tokens, hasher.New(bcrypt.DefaultCost), &cfg.Auth)

	var google *federated.Provider
	if cfg.Google.Enabled() {
		p, err := federated.NewGoogleProvider(cfg.Google, cfg.TLS.Enabled())
		if err != nil {
			return nil, fmt.Errorf("failed to configure google sign-in: %w", err)
		}
		google = p
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler

	setupMiddleware(e, cfg)
	setupRoutes(e, routeDeps{
		handlers: handlers.New(repo, authService, otps, google),
		tokens:   tokens,
		guard:    guard.New(tokens, cfg.Auth.AdminAPIKey),
	})

	return &App{Echo: e, repo: repo, queue: queue}, nil
}

type routeDeps struct {
	handlers *handlers.Handlers
	tokens   *token.Issuer
	guard    *guard.Guard
}

func setupRoutes(e *echo.Echo, deps routeDeps) {
	h := deps.handlers

	e.GET("/health", h.Health)

	api := e.Group("/api/auth")
	api.POST("/register", h.Register)
	api.POST("/verify-registration", h.VerifyRegistration)
	api.POST("/login", h.Login)
	api.POST("/verify-login", h.VerifyLogin)
	api.POST("/send-otp", h.SendOTP)
	api.POST("/resend-otp", h.SendOTP)
	api.GET("/password-policy", h.PasswordPolicy)
	api.GET("/google/url", h.GoogleURL)
	api.POST("/google", h.GoogleLogin)

	bearer := middleware.RequireBearer(deps.tokens)
	api.GET("/me", h.Me, bearer)
	api.POST("/change-password", h.ChangePassword, bearer)

	admin := e.Group("/api/admin", middleware.RequireAdmin(deps.guard))
	admin.GET("/otp-logs", h.ListOTPs)
	admin.DELETE("/otp-logs/:id", h.DeleteOTP)
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	tlsConfig, err := SetupTLS(cfg)
	if err != nil {
		return fmt.Errorf("TLS setup failed: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errChan := make(chan error, 1)

	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		var serveErr error
		if tlsConfig != nil {
			serveErr = startTLSServer(e, addr, tlsConfig)
		} else {
			serveErr = e.Start(addr)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	// Wait for interrupt signal, cancellation or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case <-ctx.Done():
		slog.Info("shutting down server", "reason", ctx.Err())
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// startTLSServer starts the Echo server with a custom TLS configuration.
func startTLSServer(e *echo.Echo, addr string, tlsConfig *tls.Config) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	e.TLSListener = tls.NewListener(ln, tlsConfig)
	e.TLSServer.TLSConfig = tlsConfig
	return e.Server.Serve(e.TLSListener)
}
