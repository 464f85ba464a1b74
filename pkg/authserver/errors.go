// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
)

// OAuth2 error codes surfaced to third-party clients. The codes are part of
// the protocol surface and must not be renamed.
const (
	// ErrorCodeInvalidScope is returned when the approved scope set does
	// not match the requested scope set.
	ErrorCodeInvalidScope = "invalid_scope"

	// ErrorCodeUnauthorizedClient is returned when the client is not
	// registered.
	ErrorCodeUnauthorizedClient = "unauthorized_client"

	// ErrorCodeAccessDenied is returned when the redirect URI is not
	// registered for the client, or when consent is refused.
	ErrorCodeAccessDenied = "access_denied"

	// ErrorCodeUnsupportedResponseType is returned when the client asks
	// for a response type other than the one it registered.
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"

	// ErrorCodeServerError is returned for internal failures that must
	// still be reported through the OAuth2 error channel.
	ErrorCodeServerError = "server_error"
)

// AuthorizationError is a protocol-level authorization failure. It carries
// an OAuth2 error code that is surfaced to the third-party client, either as
// redirect query parameters or as a JSON error body.
type AuthorizationError struct {
	// Code is one of the ErrorCode constants.
	Code string

	// Description is an optional human-readable explanation.
	Description string

	// RedirectURI, when non-empty, is a redirect target that was validated
	// against the client registry before the error occurred; the HTTP
	// layer delivers the error there as query parameters. Errors that
	// happen before the redirect URI is validated leave it empty and are
	// answered directly, never by redirecting to an unvalidated URI.
	RedirectURI string
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}

// ErrExchangeFailed is returned for any failed code exchange. The cause —
// unknown code, expired code, or redirect mismatch — is deliberately not
// distinguished so the endpoint cannot be used as an oracle for enumerating
// valid codes.
var ErrExchangeFailed = errors.New("exchange failed")

// ErrInputError is returned for any failed credential fetch. As with
// ErrExchangeFailed, missing tokens, expired tokens and upstream rejections
// all collapse into this one error; the details are logged internally.
var ErrInputError = errors.New("could not generate credentials for this access token")

// ErrUpstreamUnavailable indicates that a collaborator (storage, identity
// resolver, credential service) could not be reached. Surfaced as a 5xx and
// never retried here.
var ErrUpstreamUnavailable = errors.New("upstream service unavailable")
