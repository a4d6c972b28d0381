// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth implements the account flows: registration, password plus
// passcode login, passwordless passcodes, federated login and password changes.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"codeberg.org/oliverandrich/otpgate/internal/repository"
	"codeberg.org/oliverandrich/otpgate/internal/services/hasher"
	"codeberg.org/oliverandrich/otpgate/internal/services/identity"
	"codeberg.org/oliverandrich/otpgate/internal/services/otp"
	"codeberg.org/oliverandrich/otpgate/internal/services/token"
)

// TokenType is reported alongside every minted token.
const TokenType = "bearer"

// Session is the result of a completed login.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        *models.User
}

type Service struct {
	repo              *repository.Repository
	otps              *otp.Manager
	tokens            *token.Issuer
	hasher            *hasher.Hasher
	reconciler        *identity.Reconciler
	passwordValidator *PasswordValidator
	now               func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for last_login.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(
	repo *repository.Repository,
	otps *otp.Manager,
	tokens *token.Issuer,
	h *hasher.Hasher,
	cfg *config.AuthConfig,
	opts ...Option,
) *Service {
	s := &Service{
		repo:              repo,
		otps:              otps,
		tokens:            tokens,
		hasher:            h,
		reconciler:        identity.NewReconciler(repo),
		passwordValidator: NewPasswordValidator(cfg.PasswordMinLength),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PasswordValidator returns the password validator for use in handlers
func (s *Service) PasswordValidator() *PasswordValidator {
	return s.passwordValidator
}

// RegisterParams holds the parameters for user registration
type RegisterParams struct {
	Email       string
	Password    string
	DisplayName string
}

// VerifyRegistrationParams completes a registration. The password is
// submitted again because nothing but the passcode is stored in between.
type VerifyRegistrationParams struct {
	Email       string
	Code        string
	Password    string
	DisplayName string
}

// NormalizeEmail trims surrounding whitespace. Case is preserved.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return autherr.ErrInvalidEmail
	}
	return nil
}

func (s *Service) validatePassword(password string, attrs ...string) error {
	validation := s.passwordValidator.Validate(password, attrs...)
	if !validation.Valid {
		return &PasswordValidationError{Errors: validation.Errors}
	}
	return nil
}

// Register checks the request and sends a registration passcode. Nothing is
// persisted apart from the passcode.
func (s *Service) Register(ctx context.Context, params RegisterParams) error {
	email := NormalizeEmail(params.Email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := s.validatePassword(params.Password, email, params.DisplayName); err != nil {
		return err
	}

	existing, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil && existing.HasPassword() {
		slog.Warn("register_failed", "email", email, "reason", "email_exists")
		return autherr.ErrDuplicateEmail
	}

	if _, err := s.otps.Issue(ctx, email, ownerOf(existing)); err != nil {
		return err
	}

	slog.Info("register_code_sent", "email", email)
	return nil
}

// VerifyRegistration consumes the passcode and creates the account. A
// federated-only account with the same email gets the password added.
func (s *Service) VerifyRegistration(ctx context.Context, params VerifyRegistrationParams) (*Session, error) {
	email := NormalizeEmail(params.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	// Checked first so a rejected password does not burn the code.
	if err := s.validatePassword(params.Password, email, params.DisplayName); err != nil {
		return nil, err
	}

	if _, err := s.otps.Verify(ctx, email, params.Code); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, err
	}

	existing, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}

	var user *models.User
	switch {
	case existing != nil && existing.HasPassword():
		return nil, autherr.ErrDuplicateEmail

	case existing != nil:
		if err := s.repo.UpdateUserPassword(ctx, existing.ID, passwordHash); err != nil {
			return nil, autherr.Store(err)
		}
		user = existing
		user.PasswordHash = &passwordHash
		slog.Info("register_password_added", "user_id", user.ID, "email", email)

	default:
		user = &models.User{
			Email:        email,
			PasswordHash: &passwordHash,
			DisplayName:  models.StringPtr(strings.TrimSpace(params.DisplayName)),
			Role:         models.RoleStandard,
		}
		if err := s.repo.CreateUser(ctx, user); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, autherr.ErrDuplicateEmail
			}
			return nil, autherr.Store(err)
		}
		slog.Info("register_success", "user_id", user.ID, "email", email)
	}

	return s.startSession(ctx, user)
}

// Login checks the password and, on success, sends a login passcode.
func (s *Service) Login(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)

	user, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	if user == nil || !user.HasPassword() {
		// Constant-time: always perform bcrypt comparison to prevent timing attacks
		s.hasher.VerifyDummy(password)
		slog.Warn("login_failed", "email", email, "reason", "user_not_found")
		return autherr.ErrInvalidCredentials
	}

	if !s.hasher.Verify(*user.PasswordHash, password) {
		slog.Warn("login_failed", "email", email, "reason", "invalid_password")
		return autherr.ErrInvalidCredentials
	}

	if _, err := s.otps.Issue(ctx, email, &user.ID); err != nil {
		return err
	}

	slog.Info("login_code_sent", "user_id", user.ID, "email", email)
	return nil
}

// VerifyLogin consumes the passcode and starts a session for its owner.
func (s *Service) VerifyLogin(ctx context.Context, email, code string) (*Session, error) {
	email = NormalizeEmail(email)

	if _, err := s.otps.Verify(ctx, email, code); err != nil {
		return nil, err
	}

	user, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		slog.Warn("login_failed", "email", email, "reason", "no_account")
		return nil, autherr.ErrNotFound
	}

	slog.Info("login_success", "user_id", user.ID, "email", email)
	return s.startSession(ctx, user)
}

// SendOTP issues a passcode for email. The passcode is owned by the user
// with that email when one exists.
func (s *Service) SendOTP(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}

	_, err = s.otps.Issue(ctx, email, ownerOf(user))
	return err
}

// LoginFederated resolves a provider profile to a user and starts a session.
func (s *Service) LoginFederated(ctx context.Context, profile identity.Profile) (*Session, error) {
	user, err := s.reconciler.ResolveFederated(ctx, profile)
	if err != nil {
		return nil, err
	}
	slog.Info("federated_login_success", "user_id", user.ID, "email", user.Email)
	return s.startSession(ctx, user)
}

// GetUser returns the user with the given id.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, autherr.ErrNotFound
		}
		return nil, autherr.Store(err)
	}
	return user, nil
}

// ChangePassword replaces a user's password. Accounts that only ever signed
// in through a provider have no current password and may set one directly.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.HasPassword() && !s.hasher.Verify(*user.PasswordHash, currentPassword) {
		slog.Warn("password_change_failed", "user_id", userID, "reason", "invalid_password")
		return autherr.ErrInvalidCredentials
	}

	var attrs []string
	attrs = append(attrs, user.Email)
	if user.DisplayName != nil {
		attrs = append(attrs, *user.DisplayName)
	}
	if err := s.validatePassword(newPassword, attrs...); err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateUserPassword(ctx, userID, passwordHash); err != nil {
		return autherr.Store(err)
	}

	slog.Info("password_changed", "user_id", userID)
	return nil
}

func (s *Service) startSession(ctx context.Context, user *models.User) (*Session, error) {
	now := s.now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, autherr.Store(err)
	}
	user.LastLogin = &now

	accessToken, expiresAt, err := s.tokens.Mint(user)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken: accessToken,
		TokenType:   TokenType,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// lookup returns nil without error when no user has the email.
func (s *Service) lookup(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, autherr.Store(err)
	}
	return user, nil
}

func ownerOf(user *models.User) *string {
	if user == nil {
		return nil
	}
	return &user.ID
}
