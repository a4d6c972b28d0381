// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package identity_test

import (
	"context"
	"sync"
	"testing"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"codeberg.org/oliverandrich/otpgate/internal/repository"
	"codeberg.org/oliverandrich/otpgate/internal/services/identity"
	"codeberg.org/oliverandrich/otpgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profile() identity.Profile {
	return identity.Profile{
		FederatedID: "google-123",
		Email:       "alice@example.com",
		Name:        "Alice",
		PictureURL:  "https://img/google.png",
	}
}

func TestResolveFederated_CreatesUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)

	user, err := rec.ResolveFederated(context.Background(), profile())

	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.RoleStandard, user.Role)
	assert.False(t, user.HasPassword())
	require.NotNil(t, user.FederatedID)
	assert.Equal(t, "google-123", *user.FederatedID)
	assert.Equal(t, "Alice", *user.DisplayName)
	assert.Equal(t, "https://img/google.png", *user.ProfilePictureURL)
}

func TestResolveFederated_Idempotent(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)
	ctx := context.Background()

	first, err := rec.ResolveFederated(ctx, profile())
	require.NoError(t, err)
	second, err := rec.ResolveFederated(ctx, profile())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	count, err := repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestResolveFederated_FederatedIDWinsOverEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)
	existing := testutil.NewTestFederatedUser(t, repo, "old@example.com", "google-123")
	testutil.NewTestUser(t, repo, "alice@example.com")

	user, err := rec.ResolveFederated(context.Background(), profile())

	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)
	assert.Equal(t, "old@example.com", user.Email)
}

func TestResolveFederated_LinksExistingPasswordUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)
	existing := testutil.NewTestUser(t, repo, "alice@example.com")

	user, err := rec.ResolveFederated(context.Background(), profile())

	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)
	assert.True(t, user.HasPassword())
	require.NotNil(t, user.FederatedID)
	assert.Equal(t, "google-123", *user.FederatedID)
	assert.Equal(t, "https://img/google.png", *user.ProfilePictureURL)
}

func TestResolveFederated_NeverOverwritesPicture(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)
	ctx := context.Background()
	require.NoError(t, repo.CreateUser(ctx, &models.User{
		Email:             "alice@example.com",
		PasswordHash:      models.StringPtr("hash"),
		ProfilePictureURL: models.StringPtr("https://img/mine.png"),
	}))

	user, err := rec.ResolveFederated(ctx, profile())

	require.NoError(t, err)
	assert.Equal(t, "https://img/mine.png", *user.ProfilePictureURL)
}

func TestResolveFederated_EmailOwnedByOtherIdentity(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)
	testutil.NewTestFederatedUser(t, repo, "alice@example.com", "google-999")

	_, err := rec.ResolveFederated(context.Background(), profile())

	assert.ErrorIs(t, err, autherr.ErrDuplicateEmail)
}

func TestResolveFederated_MissingFields(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)

	p := profile()
	p.FederatedID = ""
	_, err := rec.ResolveFederated(context.Background(), p)
	assert.ErrorIs(t, err, autherr.ErrFederatedExchangeFailed)

	p = profile()
	p.Email = "  "
	_, err = rec.ResolveFederated(context.Background(), p)
	assert.ErrorIs(t, err, autherr.ErrFederatedExchangeFailed)
}

func TestResolveFederated_Concurrent(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	rec := identity.NewReconciler(repo)
	ctx := context.Background()

	const callers = 8
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := rec.ResolveFederated(ctx, profile())
			if assert.NoError(t, err) {
				ids <- user.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	unique := make(map[string]struct{})
	for id := range ids {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, 1)
}

// racingStore hides existing users on the first lookup round so the create
// collides with a row written by a concurrent caller.
type racingStore struct {
	*repository.Repository
	mu      sync.Mutex
	lookups int
}

func (s *racingStore) firstRound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups <= 1
}

func (s *racingStore) GetUserByFederatedID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	if s.firstRound() {
		return nil, repository.ErrNotFound
	}
	return s.Repository.GetUserByFederatedID(ctx, id)
}

func (s *racingStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.firstRound() {
		return nil, repository.ErrNotFound
	}
	return s.Repository.GetUserByEmail(ctx, email)
}

func TestResolveFederated_CreateConflictRetriesLookup(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	winner := testutil.NewTestFederatedUser(t, repo, "alice@example.com", "google-123")
	rec := identity.NewReconciler(&racingStore{Repository: repo})

	user, err := rec.ResolveFederated(context.Background(), profile())

	require.NoError(t, err)
	assert.Equal(t, winner.ID, user.ID)
}
