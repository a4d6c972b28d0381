// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/repository"
	"codeberg.org/oliverandrich/otpgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestCreateOTP(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	otp := testutil.NewTestOTP(t, repo, "alice@example.com", "123456", baseTime, 10*time.Minute)

	assert.NotEmpty(t, otp.ID)

	stored, err := repo.GetOTPByID(context.Background(), otp.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456", stored.Code)
	assert.False(t, stored.Used)
	assert.Nil(t, stored.UsedAt)
	assert.True(t, baseTime.Add(10*time.Minute).Equal(stored.ExpiresAt))
}

func TestFindLatestUnusedOTP_PicksNewest(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	testutil.NewTestOTP(t, repo, "alice@example.com", "111111", baseTime, 10*time.Minute)
	newest := testutil.NewTestOTP(t, repo, "alice@example.com", "111111", baseTime.Add(time.Minute), 10*time.Minute)

	found, err := repo.FindLatestUnusedOTP(context.Background(), "alice@example.com", "111111")

	require.NoError(t, err)
	assert.Equal(t, newest.ID, found.ID)
}

func TestFindLatestUnusedOTP_IgnoresUsedAndOtherEmails(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	used := testutil.NewTestOTP(t, repo, "alice@example.com", "222222", baseTime, 10*time.Minute)
	require.NoError(t, repo.ConsumeOTP(ctx, used.ID, baseTime))
	testutil.NewTestOTP(t, repo, "bob@example.com", "333333", baseTime, 10*time.Minute)

	_, err := repo.FindLatestUnusedOTP(ctx, "alice@example.com", "222222")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.FindLatestUnusedOTP(ctx, "alice@example.com", "333333")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConsumeOTP(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	otp := testutil.NewTestOTP(t, repo, "alice@example.com", "123456", baseTime, 10*time.Minute)

	require.NoError(t, repo.ConsumeOTP(ctx, otp.ID, baseTime.Add(time.Minute)))

	stored, err := repo.GetOTPByID(ctx, otp.ID)
	require.NoError(t, err)
	assert.True(t, stored.Used)
	require.NotNil(t, stored.UsedAt)
	assert.True(t, baseTime.Add(time.Minute).Equal(*stored.UsedAt))

	assert.ErrorIs(t, repo.ConsumeOTP(ctx, otp.ID, baseTime.Add(2*time.Minute)), repository.ErrNotFound)
}

func TestConsumeOTP_Concurrent(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	otp := testutil.NewTestOTP(t, repo, "alice@example.com", "123456", baseTime, 10*time.Minute)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.ConsumeOTP(context.Background(), otp.ID, baseTime) == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestCountOTPsSince(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	testutil.NewTestOTP(t, repo, "alice@example.com", "1", baseTime.Add(-2*time.Hour), 10*time.Minute)
	testutil.NewTestOTP(t, repo, "alice@example.com", "2", baseTime.Add(-30*time.Minute), 10*time.Minute)
	testutil.NewTestOTP(t, repo, "alice@example.com", "3", baseTime.Add(-time.Minute), 10*time.Minute)
	testutil.NewTestOTP(t, repo, "bob@example.com", "4", baseTime.Add(-time.Minute), 10*time.Minute)

	count, err := repo.CountOTPsSince(ctx, "alice@example.com", baseTime.Add(-time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestListOTPs(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	for i := range 5 {
		testutil.NewTestOTP(t, repo, "alice@example.com", "00000"+string(rune('0'+i)), baseTime.Add(time.Duration(i)*time.Minute), 10*time.Minute)
	}

	page, err := repo.ListOTPs(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "000004", page[0].Code)
	assert.Equal(t, "000002", page[2].Code)

	rest, err := repo.ListOTPs(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "000000", rest[1].Code)
}

func TestListOTPs_Empty(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	otps, err := repo.ListOTPs(context.Background(), 0, 100)

	require.NoError(t, err)
	assert.NotNil(t, otps)
	assert.Empty(t, otps)
}

func TestDeleteOTP(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	otp := testutil.NewTestOTP(t, repo, "alice@example.com", "123456", baseTime, 10*time.Minute)

	require.NoError(t, repo.DeleteOTP(ctx, otp.ID))

	_, err := repo.GetOTPByID(ctx, otp.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteOTP(ctx, otp.ID), repository.ErrNotFound)
}

func TestDeleteOTPsBefore(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	testutil.NewTestOTP(t, repo, "alice@example.com", "1", baseTime.Add(-48*time.Hour), 10*time.Minute)
	testutil.NewTestOTP(t, repo, "alice@example.com", "2", baseTime.Add(-25*time.Hour), 10*time.Minute)
	keep := testutil.NewTestOTP(t, repo, "alice@example.com", "3", baseTime, 10*time.Minute)

	deleted, err := repo.DeleteOTPsBefore(ctx, baseTime.Add(-24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = repo.GetOTPByID(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestOTPOwnerCleared_OnUserDelete(t *testing.T) {
	db, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "alice@example.com")

	otp := testutil.NewTestOTP(t, repo, "alice@example.com", "123456", baseTime, 10*time.Minute)
	_, err := db.Exec(`UPDATE otps SET user_id = ? WHERE id = ?`, user.ID, otp.ID)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM users WHERE id = ?`, user.ID)
	require.NoError(t, err)

	stored, err := repo.GetOTPByID(ctx, otp.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.UserID)
}
