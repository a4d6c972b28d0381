// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package identity maps identities asserted by an external provider onto
// local user accounts.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"codeberg.org/oliverandrich/otpgate/internal/repository"
)

// Profile is what the provider tells us about the signed-in person.
type Profile struct {
	FederatedID string
	Email       string
	Name        string
	PictureURL  string
}

// Store is the user persistence the Reconciler needs.
type Store interface {
	GetUserByFederatedID(ctx context.Context, federatedID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	LinkFederatedIdentity(ctx context.Context, email, federatedID, pictureURL string) error
	CreateUser(ctx context.Context, user *models.User) error
}

// Reconciler resolves a Profile to exactly one User.
type Reconciler struct {
	store Store
}

// NewReconciler creates a Reconciler.
func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// ResolveFederated returns the user for p. A user already carrying the
// federated id wins, then a user with the same email gets the id linked, and
// otherwise a new passwordless user is created. Repeated calls with the same
// profile return the same user.
func (r *Reconciler) ResolveFederated(ctx context.Context, p Profile) (*models.User, error) {
	p.Email = strings.TrimSpace(p.Email)
	if p.FederatedID == "" || p.Email == "" {
		return nil, autherr.ErrFederatedExchangeFailed
	}

	user, err := r.resolveExisting(ctx, p)
	if !errors.Is(err, repository.ErrNotFound) {
		return user, mapError(err)
	}

	user = &models.User{
		Email:             p.Email,
		DisplayName:       models.StringPtr(p.Name),
		ProfilePictureURL: models.StringPtr(p.PictureURL),
		Role:              models.RoleStandard,
		FederatedID:       models.StringPtr(p.FederatedID),
	}
	if err := r.store.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, autherr.Store(err)
		}
		// Lost a race against a concurrent login for the same person.
		existing, err := r.resolveExisting(ctx, p)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, autherr.ErrDuplicateEmail
		}
		return existing, mapError(err)
	}

	slog.Info("federated_user_created", "user_id", user.ID, "email", user.Email)
	return user, nil
}

func mapError(err error) error {
	if err == nil || errors.Is(err, autherr.ErrDuplicateEmail) {
		return err
	}
	return autherr.Store(err)
}

func (r *Reconciler) resolveExisting(ctx context.Context, p Profile) (*models.User, error) {
	user, err := r.store.GetUserByFederatedID(ctx, p.FederatedID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user, err = r.store.GetUserByEmail(ctx, p.Email)
	if err != nil {
		return nil, err
	}

	if user.FederatedID != nil {
		if *user.FederatedID == p.FederatedID {
			return user, nil
		}
		// The email belongs to a different provider identity.
		slog.Warn("federated_link_refused", "user_id", user.ID, "email", p.Email)
		return nil, autherr.ErrDuplicateEmail
	}

	if err := r.store.LinkFederatedIdentity(ctx, p.Email, p.FederatedID, p.PictureURL); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		// Someone linked the account between our read and the update.
	}

	linked, err := r.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if linked.FederatedID == nil || *linked.FederatedID != p.FederatedID {
		return nil, autherr.ErrDuplicateEmail
	}

	slog.Info("federated_linked", "user_id", linked.ID, "email", linked.Email)
	return linked, nil
}
