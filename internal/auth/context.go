// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth provides authentication context helpers.
package auth

import (
	"context"

	"codeberg.org/oliverandrich/otpgate/internal/ctxkeys"
	"codeberg.org/oliverandrich/otpgate/internal/services/token"
)

// WithClaims stores validated token claims in the context.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, ctxkeys.Claims{}, claims)
}

// GetClaims returns the token claims from the context, or nil if the request
// carried no valid bearer token.
func GetClaims(ctx context.Context) *token.Claims {
	if claims, ok := ctx.Value(ctxkeys.Claims{}).(*token.Claims); ok {
		return claims
	}
	return nil
}

// IsAuthenticated returns true if the context has validated claims.
func IsAuthenticated(ctx context.Context) bool {
	return GetClaims(ctx) != nil
}
