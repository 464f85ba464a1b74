// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/credbroker/pkg/authserver/clients"
	"github.com/stacklok/credbroker/pkg/authserver/identity"
	"github.com/stacklok/credbroker/pkg/authserver/scopes"
	"github.com/stacklok/credbroker/pkg/authserver/storage"
	"github.com/stacklok/credbroker/pkg/logger"
)

// AuthorizeRequest is an inbound authorization request, taken from the query
// parameters of the authorize endpoint. It is transient and never persisted
// as-is.
type AuthorizeRequest struct {
	// ClientID identifies the registered OAuth client.
	ClientID string

	// RedirectURI is where the browser is sent after the flow completes.
	RedirectURI string

	// Scopes is the requested scope set.
	Scopes []string

	// ResponseType is the requested response type. Empty defaults to the
	// client's registered response type.
	ResponseType string

	// Expires is the raw value of the optional expires query parameter,
	// a duration string such as "30m". Unparseable values silently fall
	// back to the client's maximum.
	Expires string
}

// Approval is the outcome of the consent step, whether collected from the
// user or produced by the whitelist bypass.
type Approval struct {
	// Scopes is the approved scope set.
	Scopes []string

	// Description overrides the generated credential description when
	// non-empty.
	Description string

	// Expires is the approved credential expiry. Zero means no specific
	// expiry was chosen and the client maximum applies.
	Expires time.Time
}

// Issued is a completed grant, ready to be delivered on the redirect.
type Issued struct {
	// ResponseType is "token" or "code" and selects the delivery
	// mechanism: URL fragment for tokens, query parameter for codes.
	ResponseType string

	// RedirectURI is the validated redirect target.
	RedirectURI string

	// Value is the opaque access token or authorization code.
	Value string
}

// Authorize validates an inbound authorization request and parks it as a
// pending transaction for the consent step. The caller must already be
// authenticated: the transaction is bound to the user's identity and only
// that user can finalize it. The client must be registered and the redirect
// URI must be in its registered set; the requested expiry is clamped to the
// client's maximum before it is shown on the consent page.
func (s *Server) Authorize(ctx context.Context, user *identity.User, req *AuthorizeRequest) (*storage.Transaction, error) {
	if user == nil {
		s.metrics.GrantRejected(ErrorCodeAccessDenied)
		return nil, &AuthorizationError{
			Code:        ErrorCodeAccessDenied,
			Description: "authentication required",
		}
	}

	client, ok := s.registry.Lookup(req.ClientID)
	if !ok {
		s.metrics.GrantRejected(ErrorCodeUnauthorizedClient)
		return nil, &AuthorizationError{
			Code:        ErrorCodeUnauthorizedClient,
			Description: "unknown client",
		}
	}

	if !client.AllowsRedirectURI(req.RedirectURI) {
		s.metrics.GrantRejected(ErrorCodeAccessDenied)
		return nil, &AuthorizationError{
			Code:        ErrorCodeAccessDenied,
			Description: "redirect URI is not registered for this client",
		}
	}

	responseType := req.ResponseType
	if responseType == "" {
		responseType = client.ResponseType
	}

	now := s.clock.Now()
	tx := &storage.Transaction{
		ID:           s.source.Slug(),
		ClientID:     client.ClientID,
		RedirectURI:  req.RedirectURI,
		Identity:     user.Identity,
		Scopes:       req.Scopes,
		ResponseType: responseType,
		Expires:      s.clampExpires(client, req.Expires, now),
		CreatedAt:    now,
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: storing transaction: %v", ErrUpstreamUnavailable, err)
	}

	logger.Debugw("authorization request accepted",
		"client_id", client.ClientID,
		"transaction_id", tx.ID,
		"scopes", scopes.Join(tx.Scopes),
	)

	return tx, nil
}

// clampExpires computes the expiry shown on the consent page. The raw query
// value is a duration string; unparseable or oversized values fall back to
// the client maximum without an error.
func (*Server) clampExpires(client *clients.Registration, raw string, now time.Time) time.Time {
	limit := now.Add(client.MaxExpires)
	if raw == "" {
		return limit
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 || d > client.MaxExpires {
		return limit
	}
	return now.Add(d)
}

// BypassConsent reports whether the consent page can be skipped for the
// pending transaction. Consent is bypassed only for whitelisted clients with
// an authenticated user whose request asks for exactly the client's
// registered scope set. On bypass the user's own long-lived credential is
// reset on the platform, so stale credentials don't outlive the new grant.
func (s *Server) BypassConsent(ctx context.Context, tx *storage.Transaction, user *identity.User) (bool, error) {
	client, ok := s.registry.Lookup(tx.ClientID)
	if !ok {
		return false, nil
	}

	if !client.Whitelisted || user == nil || !scopes.Equal(client.Scopes, tx.Scopes) {
		return false, nil
	}

	if err := s.platform.ResetAccessToken(ctx, user.Identity); err != nil {
		return false, fmt.Errorf("%w: resetting access token: %v", ErrUpstreamUnavailable, err)
	}

	logger.Infow("consent bypassed for whitelisted client",
		"client_id", client.ClientID,
		"identity", user.Identity,
	)

	return true, nil
}

// Finalize consumes a pending transaction and issues the grant. It is called
// from the decision endpoint after explicit consent, and directly after a
// whitelist bypass. Transactions are single-use: the record is deleted as
// soon as it is loaded, whatever the outcome.
func (s *Server) Finalize(ctx context.Context, transactionID string, user *identity.User, approval *Approval) (*Issued, error) {
	if user == nil {
		return nil, &AuthorizationError{
			Code:        ErrorCodeAccessDenied,
			Description: "authentication required",
		}
	}

	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			s.metrics.GrantRejected(ErrorCodeAccessDenied)
			return nil, &AuthorizationError{
				Code:        ErrorCodeAccessDenied,
				Description: "unknown or expired transaction",
			}
		}
		return nil, fmt.Errorf("%w: loading transaction: %v", ErrUpstreamUnavailable, err)
	}

	if err := s.store.DeleteTransaction(ctx, transactionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warnf("failed to delete transaction %s: %v", transactionID, err)
	}

	// Only the user who started the flow may complete it. Answer exactly
	// as if the transaction did not exist.
	if tx.Identity != user.Identity {
		s.metrics.GrantRejected(ErrorCodeAccessDenied)
		logger.Warnf("transaction %s started by %s, finalized by %s", transactionID, tx.Identity, user.Identity)
		return nil, &AuthorizationError{
			Code:        ErrorCodeAccessDenied,
			Description: "unknown or expired transaction",
		}
	}

	client, registered := s.registry.Lookup(tx.ClientID)

	// The redirect URI was validated at authorize time, so protocol errors
	// from here on may be delivered to it. Re-check before trusting it in
	// case the registration changed underneath the transaction.
	errorRedirect := ""
	if registered && client.AllowsRedirectURI(tx.RedirectURI) {
		errorRedirect = tx.RedirectURI
	}

	// The error codes returned to the client differ per check, and OAuth2
	// clients key on them, so the order of these checks is part of the
	// protocol surface.
	switch {
	case !scopes.Equal(approval.Scopes, tx.Scopes):
		s.metrics.GrantRejected(ErrorCodeInvalidScope)
		return nil, &AuthorizationError{Code: ErrorCodeInvalidScope, RedirectURI: errorRedirect}
	case !registered:
		s.metrics.GrantRejected(ErrorCodeUnauthorizedClient)
		return nil, &AuthorizationError{Code: ErrorCodeUnauthorizedClient}
	case !client.AllowsRedirectURI(tx.RedirectURI):
		s.metrics.GrantRejected(ErrorCodeAccessDenied)
		return nil, &AuthorizationError{Code: ErrorCodeAccessDenied}
	case client.ResponseType != tx.ResponseType:
		s.metrics.GrantRejected(ErrorCodeUnsupportedResponseType)
		return nil, &AuthorizationError{Code: ErrorCodeUnsupportedResponseType, RedirectURI: errorRedirect}
	}

	details, err := s.clientDetails(ctx, client, user, approval)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	switch client.ResponseType {
	case clients.ResponseTypeToken:
		token := s.source.Token()
		record := &storage.AccessToken{
			Token:              token,
			ClientID:           client.ClientID,
			RedirectURI:        tx.RedirectURI,
			Identity:           user.Identity,
			IdentityProviderID: user.IdentityProviderID,
			Expires:            now.Add(storage.AccessTokenTTL),
			Details:            *details,
		}
		if err := s.store.CreateAccessToken(ctx, record); err != nil {
			return nil, fmt.Errorf("%w: storing access token: %v", ErrUpstreamUnavailable, err)
		}

		s.metrics.GrantIssued(clients.ResponseTypeToken)
		logger.Infow("issued implicit grant",
			"client_id", client.ClientID,
			"identity", user.Identity,
			"sub_client_id", details.ClientID,
		)

		return &Issued{
			ResponseType: clients.ResponseTypeToken,
			RedirectURI:  tx.RedirectURI,
			Value:        token,
		}, nil

	case clients.ResponseTypeCode:
		code := s.source.Slug()
		record := &storage.AuthorizationCode{
			Code:               code,
			ClientID:           client.ClientID,
			RedirectURI:        tx.RedirectURI,
			Identity:           user.Identity,
			IdentityProviderID: user.IdentityProviderID,
			// Generated now, handed out later by the exchange.
			AccessToken: s.source.Token(),
			Expires:     now.Add(storage.AuthorizationCodeTTL),
			Details:     *details,
		}
		if err := s.store.CreateAuthorizationCode(ctx, record); err != nil {
			return nil, fmt.Errorf("%w: storing authorization code: %v", ErrUpstreamUnavailable, err)
		}

		s.metrics.GrantIssued(clients.ResponseTypeCode)
		logger.Infow("issued authorization code",
			"client_id", client.ClientID,
			"identity", user.Identity,
			"sub_client_id", details.ClientID,
		)

		return &Issued{
			ResponseType: clients.ResponseTypeCode,
			RedirectURI:  tx.RedirectURI,
			Value:        code,
		}, nil

	default:
		s.metrics.GrantRejected(ErrorCodeUnsupportedResponseType)
		return nil, &AuthorizationError{Code: ErrorCodeUnsupportedResponseType}
	}
}

// clientDetails builds the credential template embedded in the issued code
// or token. Scopes are the intersection of the approved scope set and the
// scopes the identity actually holds, the expiry is clamped to the client
// maximum, and the sub-client ID ties the minted credential back to both the
// user and the OAuth client.
func (s *Server) clientDetails(ctx context.Context, client *clients.Registration, user *identity.User, approval *Approval) (*storage.ClientDetails, error) {
	actual, err := s.resolver.Scopes(ctx, user.IdentityProviderID, user.Identity)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving identity scopes: %v", ErrUpstreamUnavailable, err)
	}

	now := s.clock.Now()
	expires := now.Add(client.MaxExpires)
	if !approval.Expires.IsZero() && approval.Expires.Before(expires) {
		expires = approval.Expires
	}

	description := approval.Description
	if description == "" {
		description = fmt.Sprintf("Client generated by %s for OAuth2 Client %s", user.Identity, client.ClientID)
	}

	return &storage.ClientDetails{
		ClientID:           fmt.Sprintf("%s/%s-%s", user.Identity, client.ClientID, s.source.Slug()[:6]),
		Description:        description,
		Scopes:             scopes.Intersection(approval.Scopes, actual),
		Expires:            expires,
		DeleteOnExpiration: true,
	}, nil
}
