// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth_test

import (
	"strings"
	"testing"

	"codeberg.org/oliverandrich/otpgate/internal/services/auth"
	"github.com/stretchr/testify/assert"
)

func codes(result auth.ValidationResult) []string {
	var out []string
	for _, e := range result.Errors {
		out = append(out, e.Code)
	}
	return out
}

func TestPasswordValidator_Validate(t *testing.T) {
	v := auth.DefaultPasswordValidator()

	tests := []struct {
		name     string
		password string
		attrs    []string
		expected []string
	}{
		{"strong", "Tr0ub4dor&3-horse", nil, nil},
		{"too short", "abc", nil, []string{"min_length"}},
		{"numeric", "1234567890123", nil, []string{"entirely_numeric"}},
		{"common", "qwertyuiop", nil, []string{"common_password"}},
		{"similar to email", "alice@example", []string{"alice@example.com"}, []string{"too_similar"}},
		{"longer than bcrypt accepts", strings.Repeat("Tr0ub4dor&3-", 7), nil, []string{"max_length"}},
		{"multibyte counts characters", "äöüßéèçñ", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.password, tt.attrs...)
			assert.Equal(t, len(tt.expected) == 0, result.Valid)
			assert.Equal(t, tt.expected, codes(result))
		})
	}
}

func TestNewPasswordValidator_MinLength(t *testing.T) {
	assert.Equal(t, 12, auth.NewPasswordValidator(12).MinLength)
	assert.Equal(t, auth.DefaultMinPasswordLength, auth.NewPasswordValidator(0).MinLength)
}

func TestPasswordValidationError(t *testing.T) {
	err := &auth.PasswordValidationError{Errors: []auth.ValidationError{
		{Code: "min_length", Message: "too short"},
		{Code: "common_password", Message: "too common"},
	}}

	assert.Equal(t, "too short", err.Error())
	assert.Equal(t, []string{"too short", "too common"}, err.Messages())
	assert.Equal(t, "password validation failed", (&auth.PasswordValidationError{}).Error())
}

func TestGetHelpTexts(t *testing.T) {
	texts := auth.DefaultPasswordValidator().GetHelpTexts()

	assert.Contains(t, texts, "At least 8 characters")
	assert.Contains(t, texts, "At most 72 bytes")
	assert.Contains(t, texts, "Not a commonly used password")
}

func TestPasswordValidator_CharacterClasses(t *testing.T) {
	v := auth.DefaultPasswordValidator()
	v.RequireUppercase = true
	v.RequireDigit = true

	result := v.Validate("plainlowercase")
	assert.Equal(t, []string{"no_uppercase", "no_digit"}, codes(result))
	assert.Contains(t, v.GetHelpTexts(), "At least one uppercase letter")

	assert.True(t, v.Validate("Plainlowercase7").Valid)
}
