// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity carries the authenticated web-session user through request
// contexts and defines the contract for resolving the scopes an identity
// actually holds. How the user logged in is out of scope; the session
// middleware in front of this service populates the context.
package identity

import (
	"context"
)

// User is the authenticated session identity on whose behalf third-party
// grants are issued.
type User struct {
	// Identity is the user's identity string, e.g. "github/1234|octocat".
	Identity string

	// IdentityProviderID names the provider that authenticated the user.
	IdentityProviderID string
}

// ScopeResolver returns the scope set currently available to an identity.
// The grant engine intersects consented scopes with this set so a grant can
// never carry permissions the user does not hold.
type ScopeResolver interface {
	Scopes(ctx context.Context, identityProviderID, identity string) ([]string, error)
}

// userContextKey is the key used to store a User in the request context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even if they have the same name
// in different packages.
type userContextKey struct{}

// WithUser stores a User in the context.
// If user is nil, the original context is returned unchanged.
func WithUser(ctx context.Context, user *User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the authenticated User from the context.
// Returns the user and true if present, nil and false otherwise.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*User)
	return user, ok
}
