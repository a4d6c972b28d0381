// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/models"
	"github.com/google/uuid"
)

const userColumns = `id, email, password_hash, display_name, profile_picture_url, role,
	federated_id, last_login, created_at, updated_at`

// CreateUser inserts a user. ID, Role and timestamps are filled in when empty.
// A duplicate email or federated id yields ErrConflict.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = models.RoleStandard
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.Email, user.PasswordHash, user.DisplayName, user.ProfilePictureURL,
		user.Role, user.FederatedID, user.LastLogin, user.CreatedAt, user.UpdatedAt)
	return wrapError(err)
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetUserByFederatedID retrieves a user by the identity provider's subject id.
func (r *Repository) GetUserByFederatedID(ctx context.Context, federatedID string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE federated_id = ?`, federatedID)
}

func (r *Repository) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, r.q(query), arg); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// LinkFederatedIdentity attaches a federated id to the user with the given
// email, but only while that user has none. The picture is written only when
// the stored one is empty. Returns ErrNotFound when no row qualified.
func (r *Repository) LinkFederatedIdentity(ctx context.Context, email, federatedID, pictureURL string) error {
	result, err := r.db.ExecContext(ctx, r.q(`UPDATE users
		SET federated_id = ?,
		    profile_picture_url = CASE
		        WHEN profile_picture_url IS NULL OR profile_picture_url = '' THEN ?
		        ELSE profile_picture_url
		    END,
		    updated_at = ?
		WHERE email = ? AND federated_id IS NULL`),
		federatedID, models.StringPtr(pictureURL), time.Now().UTC(), email)
	if err != nil {
		return wrapError(err)
	}
	return requireRow(result)
}

// UpdateLastLogin records a successful login.
func (r *Repository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.q(`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`),
		at, at, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateUserPassword replaces a user's password hash.
func (r *Repository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, r.q(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// SetUserRole changes the role of the user with the given email.
func (r *Repository) SetUserRole(ctx context.Context, email string, role models.Role) error {
	result, err := r.db.ExecContext(ctx, r.q(`UPDATE users SET role = ?, updated_at = ? WHERE email = ?`),
		role, time.Now().UTC(), email)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// CountUsers returns the total number of users.
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, err
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(result rowsAffecter) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
