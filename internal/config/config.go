// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

// MinJWTSecretLength is the minimum accepted length of the token signing secret.
const MinJWTSecretLength = 32

var (
	ErrMissingJWTSecret = errors.New("jwt secret is required outside localhost")
	ErrShortJWTSecret   = fmt.Errorf("jwt secret must be at least %d characters", MinJWTSecretLength)
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	TLS      TLSConfig
	Auth     AuthConfig
	SMTP     SMTPConfig
	Notify   NotifyConfig
	Google   GoogleConfig
}

type TLSConfig struct {
	CertFile string // Path to certificate file
	KeyFile  string // Path to private key file
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in MB
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

// AuthConfig holds the process-wide secrets and OTP policy.
type AuthConfig struct { //nolint:govet // fieldalignment not critical for config structs
	JWTSecret         string
	TokenTTL          time.Duration
	AdminAPIKey       string // empty disables the service key path
	OTPLength         int
	OTPValidity       time.Duration
	OTPRateLimit      int
	OTPRateWindow     time.Duration
	PasswordMinLength int
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Enabled reports whether outbound mail is configured.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

type NotifyConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateHashKey string // hex; auto-generated if empty
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		TLS: TLSConfig{
			CertFile: cmd.String("tls-cert-file"),
			KeyFile:  cmd.String("tls-key-file"),
		},
		Auth: AuthConfig{
			JWTSecret:         cmd.String("jwt-secret"),
			TokenTTL:          cmd.Duration("token-ttl"),
			AdminAPIKey:       cmd.String("admin-api-key"),
			OTPLength:         int(cmd.Int("otp-length")),
			OTPValidity:       cmd.Duration("otp-validity"),
			OTPRateLimit:      int(cmd.Int("otp-rate-limit")),
			OTPRateWindow:     cmd.Duration("otp-rate-window"),
			PasswordMinLength: int(cmd.Int("password-min-length")),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Notify: NotifyConfig{
			Workers:   int(cmd.Int("notify-workers")),
			QueueSize: int(cmd.Int("notify-queue-size")),
			Timeout:   cmd.Duration("notify-timeout"),
		},
		Google: GoogleConfig{
			ClientID:     cmd.String("google-client-id"),
			ClientSecret: cmd.String("google-client-secret"),
			RedirectURL:  cmd.String("google-redirect-url"),
			StateHashKey: cmd.String("google-state-hash-key"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}
	if cfg.Google.RedirectURL == "" {
		cfg.Google.RedirectURL = cfg.Server.BaseURL + "/auth/google/callback"
	}

	return cfg
}

// Validate checks settings that would make the server unsafe to start.
// An empty JWT secret is tolerated on localhost only; the caller then
// generates an ephemeral one.
func (c *Config) Validate() error {
	switch {
	case c.Auth.JWTSecret == "" && !IsLocalhost(c.Server.Host):
		return ErrMissingJWTSecret
	case c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength:
		return ErrShortJWTSecret
	}
	if c.Auth.OTPLength <= 0 {
		return fmt.Errorf("otp length must be positive, got %d", c.Auth.OTPLength)
	}
	if c.Auth.OTPValidity <= 0 || c.Auth.OTPRateWindow <= 0 || c.Auth.TokenTTL <= 0 {
		return errors.New("otp validity, rate window and token ttl must be positive")
	}
	return nil
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	scheme := "http"
	if cfg.TLS.Enabled() {
		scheme = "https"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func source(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

// DatabaseFlags returns the flags needed by commands that only touch the database.
func DatabaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/app.db",
			Usage:   "Database DSN (SQLite path or postgres:// URL)",
			Sources: source("DATABASE_DSN", "database.dsn"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: source("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: source("LOG_FORMAT", "log.format"),
		},
	}
}

func Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: source("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: source("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL for the application",
			Sources: source("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: source("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-file",
			Usage:   "Path to TLS certificate file",
			Sources: source("TLS_CERT_FILE", "tls.cert_file"),
		},
		&cli.StringFlag{
			Name:    "tls-key-file",
			Usage:   "Path to TLS private key file",
			Sources: source("TLS_KEY_FILE", "tls.key_file"),
		},
		// Auth flags
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "Secret for signing session tokens (ephemeral on localhost if empty)",
			Sources: source("JWT_SECRET", "auth.jwt_secret"),
		},
		&cli.DurationFlag{
			Name:    "token-ttl",
			Value:   30 * time.Minute,
			Usage:   "Session token lifetime",
			Sources: source("TOKEN_TTL", "auth.token_ttl"),
		},
		&cli.StringFlag{
			Name:    "admin-api-key",
			Usage:   "Static service key for admin endpoints (disabled if empty)",
			Sources: source("ADMIN_API_KEY", "auth.admin_api_key"),
		},
		&cli.IntFlag{
			Name:    "otp-length",
			Value:   6,
			Usage:   "Number of digits in a one-time passcode",
			Sources: source("OTP_LENGTH", "auth.otp_length"),
		},
		&cli.DurationFlag{
			Name:    "otp-validity",
			Value:   10 * time.Minute,
			Usage:   "How long a one-time passcode stays valid",
			Sources: source("OTP_VALIDITY", "auth.otp_validity"),
		},
		&cli.IntFlag{
			Name:    "otp-rate-limit",
			Value:   5,
			Usage:   "Maximum passcodes issued per email within the rate window",
			Sources: source("OTP_RATE_LIMIT", "auth.otp_rate_limit"),
		},
		&cli.DurationFlag{
			Name:    "otp-rate-window",
			Value:   time.Hour,
			Usage:   "Trailing window for the passcode rate limit",
			Sources: source("OTP_RATE_WINDOW", "auth.otp_rate_window"),
		},
		&cli.IntFlag{
			Name:    "password-min-length",
			Value:   8,
			Usage:   "Minimum password length",
			Sources: source("PASSWORD_MIN_LENGTH", "auth.password_min_length"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (passcodes are only logged if empty)",
			Sources: source("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: source("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: source("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: source("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Value:   "noreply@localhost",
			Usage:   "Sender address",
			Sources: source("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: source("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: source("SMTP_TLS", "smtp.tls"),
		},
		// Notification queue flags
		&cli.IntFlag{
			Name:    "notify-workers",
			Value:   2,
			Usage:   "Number of passcode delivery workers",
			Sources: source("NOTIFY_WORKERS", "notify.workers"),
		},
		&cli.IntFlag{
			Name:    "notify-queue-size",
			Value:   256,
			Usage:   "Pending passcode deliveries before new ones are dropped",
			Sources: source("NOTIFY_QUEUE_SIZE", "notify.queue_size"),
		},
		&cli.DurationFlag{
			Name:    "notify-timeout",
			Value:   30 * time.Second,
			Usage:   "Timeout for a single delivery attempt",
			Sources: source("NOTIFY_TIMEOUT", "notify.timeout"),
		},
		// Google flags
		&cli.StringFlag{
			Name:    "google-client-id",
			Usage:   "Google OAuth client ID (sign-in disabled if empty)",
			Sources: source("GOOGLE_CLIENT_ID", "google.client_id"),
		},
		&cli.StringFlag{
			Name:    "google-client-secret",
			Usage:   "Google OAuth client secret",
			Sources: source("GOOGLE_CLIENT_SECRET", "google.client_secret"),
		},
		&cli.StringFlag{
			Name:    "google-redirect-url",
			Usage:   "Google OAuth redirect URL (defaults to base_url/auth/google/callback)",
			Sources: source("GOOGLE_REDIRECT_URL", "google.redirect_url"),
		},
		&cli.StringFlag{
			Name:    "google-state-hash-key",
			Usage:   "OAuth state cookie hash key (32-byte hex, auto-generated if empty)",
			Sources: source("GOOGLE_STATE_HASH_KEY", "google.state_hash_key"),
		},
	}
	return append(flags, DatabaseFlags()...)
}
