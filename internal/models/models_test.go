// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models_test

import (
	"testing"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, models.RoleStandard.Valid())
	assert.True(t, models.RoleAdmin.Valid())
	assert.False(t, models.Role("root").Valid())
	assert.False(t, models.Role("").Valid())
}

func TestUser_HasPassword(t *testing.T) {
	assert.False(t, (&models.User{}).HasPassword())
	assert.False(t, (&models.User{PasswordHash: new(string)}).HasPassword())
	assert.True(t, (&models.User{PasswordHash: models.StringPtr("$2a$10$hash")}).HasPassword())
}

func TestUser_HasProfilePicture(t *testing.T) {
	assert.False(t, (&models.User{}).HasProfilePicture())
	assert.False(t, (&models.User{ProfilePictureURL: new(string)}).HasProfilePicture())
	assert.True(t, (&models.User{ProfilePictureURL: models.StringPtr("https://img")}).HasProfilePicture())
}

func TestUser_IsAdmin(t *testing.T) {
	assert.True(t, (&models.User{Role: models.RoleAdmin}).IsAdmin())
	assert.False(t, (&models.User{Role: models.RoleStandard}).IsAdmin())
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, models.StringPtr(""))
	p := models.StringPtr("x")
	if assert.NotNil(t, p) {
		assert.Equal(t, "x", *p)
	}
}

func TestOTP_Expired(t *testing.T) {
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	otp := &models.OTP{IssuedAt: issued, ExpiresAt: issued.Add(10 * time.Minute)}

	assert.False(t, otp.Expired(issued))
	assert.False(t, otp.Expired(issued.Add(9*time.Minute+59*time.Second)))
	assert.True(t, otp.Expired(issued.Add(10*time.Minute)))
	assert.True(t, otp.Expired(issued.Add(10*time.Minute+time.Second)))
}
