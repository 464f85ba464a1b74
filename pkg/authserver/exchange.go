// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/credbroker/pkg/authserver/storage"
	"github.com/stacklok/credbroker/pkg/logger"
)

// Exchange redeems an authorization code for the access token generated at
// issuance. Codes are single-use: deleting the code record is the commit
// point, and the store deletes atomically, so of any number of concurrent
// exchanges of the same code exactly one proceeds to mint the token.
//
// Every failure collapses into ErrExchangeFailed. An unknown code, an
// expired code and a redirect mismatch are indistinguishable to the caller,
// so the endpoint cannot be used to probe for valid codes. Scope and client
// registration are not re-validated here: the details embedded in the code
// were clamped at issuance and are authoritative.
func (s *Server) Exchange(ctx context.Context, clientID, code, redirectURI string) (string, error) {
	entry, err := s.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			s.metrics.ExchangeFailed()
			logger.Debugw("code exchange failed", "client_id", clientID, "reason", "unknown or expired code")
			return "", ErrExchangeFailed
		}
		return "", fmt.Errorf("%w: loading authorization code: %v", ErrUpstreamUnavailable, err)
	}

	if redirectURI != entry.RedirectURI {
		s.metrics.ExchangeFailed()
		logger.Debugw("code exchange failed", "client_id", clientID, "reason", "redirect mismatch")
		return "", ErrExchangeFailed
	}

	// Take ownership of the code before minting. A concurrent exchange
	// that already deleted it wins; this one reports the generic failure.
	if err := s.store.DeleteAuthorizationCode(ctx, code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.ExchangeFailed()
			logger.Debugw("code exchange failed", "client_id", clientID, "reason", "code already redeemed")
			return "", ErrExchangeFailed
		}
		return "", fmt.Errorf("%w: deleting authorization code: %v", ErrUpstreamUnavailable, err)
	}

	record := &storage.AccessToken{
		Token:              entry.AccessToken,
		ClientID:           entry.ClientID,
		RedirectURI:        redirectURI,
		Identity:           entry.Identity,
		IdentityProviderID: entry.IdentityProviderID,
		Expires:            s.clock.Now().Add(storage.AccessTokenTTL),
		Details:            entry.Details,
	}
	if err := s.store.CreateAccessToken(ctx, record); err != nil {
		return "", fmt.Errorf("%w: storing access token: %v", ErrUpstreamUnavailable, err)
	}

	s.metrics.ExchangeSucceeded()
	logger.Infow("authorization code exchanged",
		"client_id", entry.ClientID,
		"identity", entry.Identity,
	)

	return entry.AccessToken, nil
}
