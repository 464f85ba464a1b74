// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream provides the client for the platform credential service,
// which mints the named clients handed out at the end of the OAuth flow and
// resolves the scope sets granted to authenticated identities.
package upstream

import (
	"context"
	"fmt"
	"time"
)

// CreateClientRequest describes the client to mint on the platform
// credential service.
type CreateClientRequest struct {
	// Description is a human-readable note attached to the minted client.
	Description string `json:"description"`

	// Scopes is the set of scopes the minted client carries.
	Scopes []string `json:"scopes"`

	// Expires is when the minted client stops working.
	Expires time.Time `json:"expires"`

	// DeleteOnExpiration asks the credential service to garbage-collect
	// the client after it expires.
	DeleteOnExpiration bool `json:"deleteOnExpiration"`
}

// CreatedClient is the credential returned by the platform credential
// service for a freshly minted client.
type CreatedClient struct {
	// ClientID is the identifier of the minted client.
	ClientID string `json:"clientId"`

	// AccessToken is the secret associated with the minted client. It is
	// only ever returned at creation time.
	AccessToken string `json:"accessToken"`

	// Expires is when the credential stops working, as reported by the
	// credential service.
	Expires time.Time `json:"expires"`
}

// CredentialService mints and manages named clients on the platform.
type CredentialService interface {
	// CreateClient mints a new client with the given ID. Callers must not
	// retry on failure: a request that timed out may still have created
	// the client, and a second attempt would mint a duplicate credential.
	CreateClient(ctx context.Context, clientID string, req *CreateClientRequest) (*CreatedClient, error)

	// ResetAccessToken rotates the access token of an existing client.
	ResetAccessToken(ctx context.Context, clientID string) error
}

// APIError is a non-2xx response from the credential service.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Code is the machine-readable error code reported by the service.
	Code string `json:"code"`

	// Message is the human-readable error description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("credential service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("credential service returned %d: %s", e.StatusCode, e.Message)
}
