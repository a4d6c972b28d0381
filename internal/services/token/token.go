// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token mints and validates the signed bearer tokens handed out after
// a successful login.
package token

import (
	"errors"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of a minted token.
const DefaultTTL = 30 * time.Minute

// Claims is the token payload. Subject carries the user's email.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Email returns the subject claim.
func (c *Claims) Email() string {
	return c.Subject
}

// IsAdmin reports whether the token was minted for an admin.
func (c *Claims) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

// Issuer signs tokens with a symmetric HMAC key.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock replaces the wall clock used for iat, exp and validation.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer. A non-positive ttl falls back to DefaultTTL.
func NewIssuer(secret string, ttl time.Duration, opts ...Option) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	i := &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Mint signs a token for user and returns it with its expiry. JWT dates have
// whole-second precision, so the clock is truncated first: the returned
// expiry equals the exp claim and can be up to a second short of now+TTL.
func (i *Issuer) Mint(user *models.User) (string, time.Time, error) {
	now := i.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies signature and expiry and returns the claims.
// Tokens signed with anything but HMAC are rejected.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.ErrTokenExpired
		}
		return nil, autherr.ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" || claims.UserID == "" {
		return nil, autherr.ErrInvalidToken
	}
	return claims, nil
}
