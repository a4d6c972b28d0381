// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"bufio"
	"embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/services/hasher"
)

//go:embed common_passwords.txt
var commonPasswordsFS embed.FS

var commonPasswords map[string]struct{}

func init() {
	commonPasswords = make(map[string]struct{})
	file, err := commonPasswordsFS.Open("common_passwords.txt")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		password := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if password != "" {
			commonPasswords[password] = struct{}{}
		}
	}
}

// PasswordValidator holds the password policy applied on registration and
// password change.
type PasswordValidator struct {
	MinLength            int // characters
	MaxBytes             int
	RequireUppercase     bool
	RequireLowercase     bool
	RequireDigit         bool
	RequireSpecial       bool
	CheckCommonPasswords bool
	CheckUserSimilarity  bool
}

// DefaultMinPasswordLength applies when no minimum is configured.
const DefaultMinPasswordLength = 8

// DefaultPasswordValidator returns the policy with the default minimum length.
func DefaultPasswordValidator() *PasswordValidator {
	return NewPasswordValidator(DefaultMinPasswordLength)
}

// NewPasswordValidator returns the default checks with a custom minimum length.
// The upper bound is what the hasher can store.
func NewPasswordValidator(minLength int) *PasswordValidator {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	return &PasswordValidator{
		MinLength:            minLength,
		MaxBytes:             hasher.MaxPasswordBytes,
		CheckCommonPasswords: true,
		CheckUserSimilarity:  true,
	}
}

// ValidationError is one failed rule.
type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// PasswordValidationError carries every failed rule of a rejected password.
type PasswordValidationError struct {
	Errors []ValidationError
}

// Unwrap lets callers match autherr.ErrWeakPassword.
func (e *PasswordValidationError) Unwrap() error {
	return autherr.ErrWeakPassword
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return e.Errors[0].Message
}

// Messages returns the message of every failed rule.
func (e *PasswordValidationError) Messages() []string {
	messages := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		messages[i] = err.Message
	}
	return messages
}

// ValidationResult holds all validation errors
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

type classRule struct {
	code    string
	message string
	help    string
	enabled func(*PasswordValidator) bool
	match   func(rune) bool
}

var classRules = []classRule{
	{
		code:    "no_uppercase",
		message: "Password must contain at least one uppercase letter.",
		help:    "At least one uppercase letter",
		enabled: func(v *PasswordValidator) bool { return v.RequireUppercase },
		match:   unicode.IsUpper,
	},
	{
		code:    "no_lowercase",
		message: "Password must contain at least one lowercase letter.",
		help:    "At least one lowercase letter",
		enabled: func(v *PasswordValidator) bool { return v.RequireLowercase },
		match:   unicode.IsLower,
	},
	{
		code:    "no_digit",
		message: "Password must contain at least one digit.",
		help:    "At least one digit",
		enabled: func(v *PasswordValidator) bool { return v.RequireDigit },
		match:   unicode.IsDigit,
	},
	{
		code:    "no_special",
		message: "Password must contain at least one special character.",
		help:    "At least one special character",
		enabled: func(v *PasswordValidator) bool { return v.RequireSpecial },
		match:   func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) },
	},
}

// Validate checks password against the policy. userAttributes are values
// the password must not resemble, such as the email address.
func (v *PasswordValidator) Validate(password string, userAttributes ...string) ValidationResult {
	var errs []ValidationError
	fail := func(code, message string) {
		errs = append(errs, ValidationError{Code: code, Message: message})
	}

	if utf8.RuneCountInString(password) < v.MinLength {
		fail("min_length", fmt.Sprintf("Password must be at least %d characters long.", v.MinLength))
	}
	if v.MaxBytes > 0 && len(password) > v.MaxBytes {
		fail("max_length", fmt.Sprintf("Password must not be longer than %d bytes.", v.MaxBytes))
	}

	for _, rule := range classRules {
		if rule.enabled(v) && !strings.ContainsFunc(password, rule.match) {
			fail(rule.code, rule.message)
		}
	}

	if isEntirelyNumeric(password) {
		fail("entirely_numeric", "Password cannot be entirely numeric.")
	}
	if v.CheckCommonPasswords && isCommonPassword(password) {
		fail("common_password", "This password is too common. Please choose a more secure password.")
	}
	if v.CheckUserSimilarity && isSimilarToUserAttributes(password, userAttributes) {
		fail("too_similar", "Password is too similar to your personal information.")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// GetHelpTexts describes the policy in the order Validate applies it.
func (v *PasswordValidator) GetHelpTexts() []string {
	texts := []string{fmt.Sprintf("At least %d characters", v.MinLength)}
	if v.MaxBytes > 0 {
		texts = append(texts, fmt.Sprintf("At most %d bytes", v.MaxBytes))
	}
	for _, rule := range classRules {
		if rule.enabled(v) {
			texts = append(texts, rule.help)
		}
	}
	texts = append(texts, "Cannot be entirely numeric")
	if v.CheckCommonPasswords {
		texts = append(texts, "Not a commonly used password")
	}
	if v.CheckUserSimilarity {
		texts = append(texts, "Not too similar to your personal information")
	}
	return texts
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(password) > 0
}

func isCommonPassword(password string) bool {
	_, exists := commonPasswords[strings.ToLower(password)]
	return exists
}

// isSimilarToUserAttributes reports whether password contains, is contained
// in, or largely overlaps one of the attributes. Comparison ignores case.
func isSimilarToUserAttributes(password string, attributes []string) bool {
	p := strings.ToLower(password)
	for _, attr := range attributes {
		a := strings.ToLower(strings.TrimSpace(attr))
		if a == "" {
			continue
		}
		if strings.Contains(p, a) || strings.Contains(a, p) || similarity(p, a) > 0.7 {
			return true
		}
	}
	return false
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	lcs := longestCommonSubsequence(a, b)
	maxLen := max(len(a), len(b))

	return float64(lcs) / float64(maxLen)
}

func longestCommonSubsequence(a, b string) int {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	return dp[m][n]
}
