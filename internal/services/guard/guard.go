// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package guard decides whether a caller may perform administrative operations.
package guard

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/services/token"
)

// Credential is what a caller presents. It is either a BearerToken or a
// ServiceKey.
type Credential interface {
	credential()
}

// BearerToken is a signed session token whose role claim must be admin.
type BearerToken string

// ServiceKey is the static pre-shared break-glass key.
type ServiceKey string

func (BearerToken) credential() {}
func (ServiceKey) credential()  {}

// TokenValidator validates session tokens.
type TokenValidator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// Guard authorizes admin access from either credential kind.
type Guard struct {
	tokens     TokenValidator
	serviceKey []byte
}

// New creates a Guard. An empty serviceKey disables the key path.
func New(tokens TokenValidator, serviceKey string) *Guard {
	return &Guard{tokens: tokens, serviceKey: []byte(serviceKey)}
}

// AuthorizeAdmin returns nil when cred grants admin access and
// autherr.ErrForbidden otherwise.
func (g *Guard) AuthorizeAdmin(ctx context.Context, cred Credential) error {
	switch c := cred.(type) {
	case BearerToken:
		if c == "" || g.tokens == nil {
			return g.deny(ctx, "bearer", "missing")
		}
		claims, err := g.tokens.Validate(string(c))
		if err != nil {
			return g.deny(ctx, "bearer", err.Error())
		}
		if !claims.IsAdmin() {
			return g.deny(ctx, "bearer", "not_admin")
		}
		return nil

	case ServiceKey:
		if len(g.serviceKey) == 0 || c == "" {
			return g.deny(ctx, "service_key", "missing")
		}
		if subtle.ConstantTimeCompare([]byte(c), g.serviceKey) != 1 {
			return g.deny(ctx, "service_key", "mismatch")
		}
		slog.InfoContext(ctx, "admin_service_key_used")
		return nil

	default:
		return g.deny(ctx, "none", "missing")
	}
}

func (g *Guard) deny(ctx context.Context, kind, reason string) error {
	slog.WarnContext(ctx, "admin_access_denied", "credential", kind, "reason", reason)
	return autherr.ErrForbidden
}
