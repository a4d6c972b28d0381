// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/models"
	"github.com/google/uuid"
)

const otpColumns = `id, email, code, issued_at, expires_at, used, used_at, user_id`

// CreateOTP stores a freshly issued passcode.
func (r *Repository) CreateOTP(ctx context.Context, otp *models.OTP) error {
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO otps (`+otpColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		otp.ID, otp.Email, otp.Code, otp.IssuedAt, otp.ExpiresAt, otp.Used, otp.UsedAt, otp.UserID)
	return wrapError(err)
}

// FindLatestUnusedOTP returns the most recently issued unused passcode for
// email that matches code. Expiry is left to the caller.
func (r *Repository) FindLatestUnusedOTP(ctx context.Context, email, code string) (*models.OTP, error) {
	var otp models.OTP
	err := r.db.GetContext(ctx, &otp, r.q(`SELECT `+otpColumns+` FROM otps
		WHERE email = ? AND code = ? AND used = FALSE
		ORDER BY issued_at DESC
		LIMIT 1`), email, code)
	if err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

// ConsumeOTP marks a passcode as used if it is still unused. Of several
// concurrent callers exactly one succeeds; the rest get ErrNotFound.
func (r *Repository) ConsumeOTP(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.q(`UPDATE otps SET used = TRUE, used_at = ? WHERE id = ? AND used = FALSE`),
		at, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// CountOTPsSince counts passcodes issued to email strictly after since.
func (r *Repository) CountOTPsSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, r.q(`SELECT COUNT(*) FROM otps WHERE email = ? AND issued_at > ?`),
		email, since)
	return count, err
}

// GetOTPByID retrieves a passcode record by ID.
func (r *Repository) GetOTPByID(ctx context.Context, id string) (*models.OTP, error) {
	var otp models.OTP
	if err := r.db.GetContext(ctx, &otp, r.q(`SELECT `+otpColumns+` FROM otps WHERE id = ?`), id); err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

// ListOTPs returns passcode records, newest first.
func (r *Repository) ListOTPs(ctx context.Context, offset, limit int) ([]models.OTP, error) {
	otps := []models.OTP{}
	err := r.db.SelectContext(ctx, &otps, r.q(`SELECT `+otpColumns+` FROM otps
		ORDER BY issued_at DESC, id
		LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	return otps, nil
}

// DeleteOTP removes a passcode record.
func (r *Repository) DeleteOTP(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.q(`DELETE FROM otps WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteOTPsBefore removes passcodes that expired before cutoff and returns
// how many were deleted.
func (r *Repository) DeleteOTPsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.q(`DELETE FROM otps WHERE expires_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
