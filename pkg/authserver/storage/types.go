// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the ephemeral store for the OAuth authorization
// flow: authorization codes, access tokens, and pending consent transactions.
// All three tables are time-bounded; backends evict expired rows in the
// background and additionally reject them lazily on read.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by all storage backends.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates the record exists but its expiry has passed.
	// Readers must treat this the same as ErrNotFound; the distinction only
	// matters for internal logging.
	ErrExpired = errors.New("expired")
)

const (
	// AuthorizationCodeTTL is the lifetime of an authorization code.
	// RFC 6749 section 4.1.2 recommends a maximum of 10 minutes.
	AuthorizationCodeTTL = 10 * time.Minute

	// AccessTokenTTL is the lifetime of an access token record, measured
	// from the moment the record is created (implicit grant or exchange).
	AccessTokenTTL = 10 * time.Minute

	// TransactionTTL is how long a pending consent transaction stays valid.
	TransactionTTL = 10 * time.Minute

	// DefaultCleanupInterval is how often the memory backend sweeps expired rows.
	DefaultCleanupInterval = 5 * time.Minute
)

// ClientDetails is the credential template bound to a grant at issuance time.
// It is embedded in both authorization codes and access tokens and is
// authoritative: the exchange step never recomputes it.
type ClientDetails struct {
	// ClientID is the synthesized per-grant sub-client identifier,
	// "{identity}/{oauthClientID}-{suffix}".
	ClientID string

	// Description is shown to the user when auditing issued credentials.
	Description string

	// Scopes is the intersection of the consented scope set and the scopes
	// the identity actually holds.
	Scopes []string

	// Expires is the credential expiry, already clamped to the OAuth
	// client's maximum lifetime.
	Expires time.Time

	// DeleteOnExpiration asks the platform service to garbage-collect the
	// minted credential. Always true for third-party grants.
	DeleteOnExpiration bool
}

// AuthorizationCode is a short-lived, single-use code issued by the code
// grant and redeemed at the token endpoint.
type AuthorizationCode struct {
	// Code is the opaque primary key.
	Code string

	// ClientID is the OAuth client the code was issued to.
	ClientID string

	// RedirectURI is the exact redirect URI used at authorization time; the
	// exchange must present the same value byte for byte.
	RedirectURI string

	// Identity and IdentityProviderID name the user who granted access.
	Identity           string
	IdentityProviderID string

	// AccessToken is the opaque token value that will be handed out when
	// this code is exchanged. Generated at issuance so the exchange step
	// never mints values of its own.
	AccessToken string

	// Expires bounds the exchange window.
	Expires time.Time

	// Details is the credential template computed at issuance.
	Details ClientDetails
}

// AccessToken is the bearer record redeemed at the credentials endpoint.
type AccessToken struct {
	// Token is the opaque primary key.
	Token string

	// ClientID is the OAuth client the token was issued to.
	ClientID string

	// RedirectURI is the redirect URI bound at issuance.
	RedirectURI string

	// Identity and IdentityProviderID name the user who granted access.
	Identity           string
	IdentityProviderID string

	// Expires bounds the token's own lifetime. The minted credential's
	// expiry lives in Details.Expires and is usually longer.
	Expires time.Time

	// Details is the credential template computed at issuance.
	Details ClientDetails
}

// Transaction is a validated authorization request parked between the
// authorize endpoint and the consent decision.
type Transaction struct {
	// ID is the opaque transaction identifier round-tripped through the
	// consent page.
	ID string

	// ClientID is the OAuth client making the authorization request.
	ClientID string

	// RedirectURI is the validated redirect URI from the request.
	RedirectURI string

	// Identity is the authenticated user who started the flow. Only this
	// user may finalize the transaction.
	Identity string

	// Scopes are the scopes the client asked for.
	Scopes []string

	// ResponseType is the response type the client asked for, "token" or
	// "code".
	ResponseType string

	// Expires is the requested credential expiry, already clamped to the
	// client's maximum. Zero means the client asked for no specific expiry.
	Expires time.Time

	// CreatedAt is when the transaction was created.
	CreatedAt time.Time
}

// Store is the ephemeral storage contract. Implementations must be safe for
// concurrent use and must guarantee that a Get immediately following a Create
// by the same logical flow observes the record. Reads return defensive
// copies; callers never share memory with the store.
//
// Reads of expired rows return ErrExpired even if the background sweep has
// not removed them yet.
type Store interface {
	// CreateAuthorizationCode stores a code record.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code record by code value.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code record. Codes are single-use;
	// the exchange engine deletes them after redeeming.
	DeleteAuthorizationCode(ctx context.Context, code string) error

	// CreateAccessToken stores a token record.
	CreateAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves a token record by token value.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// CreateTransaction stores a pending consent transaction.
	CreateTransaction(ctx context.Context, tx *Transaction) error

	// GetTransaction retrieves a pending transaction by its ID.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// DeleteTransaction removes a pending transaction once decided.
	DeleteTransaction(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}
