// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/credbroker/pkg/authserver/storage"
	"github.com/stacklok/credbroker/pkg/authserver/upstream"
	"github.com/stacklok/credbroker/pkg/logger"
)

// Credential is a minted platform credential handed back to the caller of
// the credentials endpoint.
type Credential struct {
	// ClientID is the identifier of the minted credential.
	ClientID string

	// AccessToken is the credential secret.
	AccessToken string

	// Expires is the credential expiry, moved back 30 seconds from what
	// the platform reported.
	Expires time.Time
}

// Credentials redeems a bearer access token for a freshly minted platform
// credential. Every failure — missing token, expired token, upstream
// rejection — collapses into ErrInputError with no detail for the caller;
// the real cause is logged here.
//
// Minting is never retried. A request that failed after the platform
// persisted the client would mint a duplicate credential on retry.
func (s *Server) Credentials(ctx context.Context, accessToken string) (*Credential, error) {
	entry, err := s.store.GetAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			s.metrics.CredentialFailed()
			logger.Debugw("credential fetch failed", "reason", "unknown or expired access token")
			return nil, ErrInputError
		}
		return nil, fmt.Errorf("%w: loading access token: %v", ErrUpstreamUnavailable, err)
	}

	// The sweep removes expired rows eventually, not promptly, so the
	// embedded expiry is checked here as well.
	if !entry.Details.Expires.After(s.clock.Now()) {
		s.metrics.CredentialFailed()
		logger.Debugw("credential fetch failed",
			"reason", "credential template expired",
			"identity", entry.Identity,
		)
		return nil, ErrInputError
	}

	created, err := s.platform.CreateClient(ctx, entry.Details.ClientID, &upstream.CreateClientRequest{
		Description:        entry.Details.Description,
		Scopes:             entry.Details.Scopes,
		Expires:            entry.Details.Expires,
		DeleteOnExpiration: entry.Details.DeleteOnExpiration,
	})
	if err != nil {
		s.metrics.CredentialFailed()
		logger.Errorw("credential service rejected client creation",
			"sub_client_id", entry.Details.ClientID,
			"identity", entry.Identity,
			"error", err,
		)
		return nil, ErrInputError
	}

	// Hand the caller an expiry slightly before the real one so a
	// well-behaved client refreshes before the platform cuts it off.
	expires := created.Expires.Add(-30 * time.Second)

	s.metrics.CredentialMinted()
	logger.Infow("credentials created",
		"client_id", created.ClientID,
		"expires", expires,
		"user_identity", entry.Identity,
	)

	return &Credential{
		ClientID:    created.ClientID,
		AccessToken: created.AccessToken,
		Expires:     expires,
	}, nil
}
