// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/credbroker/pkg/authserver"
	"github.com/stacklok/credbroker/pkg/authserver/clients"
	"github.com/stacklok/credbroker/pkg/authserver/identity"
	"github.com/stacklok/credbroker/pkg/authserver/scopes"
	"github.com/stacklok/credbroker/pkg/logger"
)

// AuthorizeHandler handles GET /login/oauth/authorize.
//
// The request is validated and parked as a pending transaction. Whitelisted
// clients requesting exactly their registered scope set get their grant
// immediately; everyone else is redirected to the consent page with the
// transaction ID, which the decision endpoint redeems.
//
// Failures before the redirect URI has been validated are answered with a
// 400 directly: redirecting error details to an unvalidated URI would hand
// an open redirect to anyone who can guess a client ID.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	// Authentication comes before any request validation: the transaction
	// is bound to the user who starts the flow.
	user, ok := identity.UserFromContext(ctx)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, authserver.ErrorCodeAccessDenied, "authentication required")
		return
	}

	req := &authserver.AuthorizeRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scopes:       scopes.Parse(q.Get("scope")),
		ResponseType: q.Get("response_type"),
		Expires:      q.Get("expires"),
	}

	tx, err := h.server.Authorize(ctx, user, req)
	if err != nil {
		var authErr *authserver.AuthorizationError
		if errors.As(err, &authErr) {
			writeOAuthError(w, http.StatusBadRequest, authErr.Code, authErr.Description)
			return
		}
		logger.Errorw("authorize failed", "client_id", req.ClientID, "error", err)
		writeOAuthError(w, http.StatusServiceUnavailable, authserver.ErrorCodeServerError, "")
		return
	}

	bypass, err := h.server.BypassConsent(ctx, tx, user)
	if err != nil {
		logger.Errorw("consent bypass check failed", "client_id", tx.ClientID, "error", err)
		writeOAuthError(w, http.StatusServiceUnavailable, authserver.ErrorCodeServerError, "")
		return
	}

	if !bypass {
		h.redirectToConsent(w, r, tx.ID, tx.ClientID, tx.Expires, tx.Scopes)
		return
	}

	issued, err := h.server.Finalize(ctx, tx.ID, user, &authserver.Approval{
		Scopes:  tx.Scopes,
		Expires: tx.Expires,
	})
	if err != nil {
		h.writeGrantError(w, r, tx.ClientID, err)
		return
	}

	deliverGrant(w, r, issued)
}

// redirectToConsent sends the browser to the consent page carrying
// everything it needs to render the approval form and call back into the
// decision endpoint.
func (h *Handler) redirectToConsent(w http.ResponseWriter, r *http.Request, transactionID, clientID string, expires time.Time, scope []string) {
	q := url.Values{}
	q.Set("transactionID", transactionID)
	q.Set("client_id", clientID)
	q.Set("expires", expires.Format(time.RFC3339))
	q.Set("scope", scopes.Join(scope))

	http.Redirect(w, r, h.consentURL+"?"+q.Encode(), http.StatusFound)
}

// writeGrantError maps a Finalize failure onto the wire: protocol errors go
// to the validated redirect URI when one is known, otherwise straight back
// to the caller.
func (h *Handler) writeGrantError(w http.ResponseWriter, r *http.Request, clientID string, err error) {
	var authErr *authserver.AuthorizationError
	if errors.As(err, &authErr) {
		if authErr.RedirectURI != "" {
			redirectError(w, r, authErr.RedirectURI, authErr)
			return
		}
		writeOAuthError(w, http.StatusBadRequest, authErr.Code, authErr.Description)
		return
	}

	logger.Errorw("grant issuance failed", "client_id", clientID, "error", err)
	writeOAuthError(w, http.StatusServiceUnavailable, authserver.ErrorCodeServerError, "")
}

// deliverGrant redirects the browser to the client's redirect URI with the
// issued value attached: tokens travel in the URL fragment so they never
// reach the client's server logs or intermediaries, codes travel as a query
// parameter as the exchange requires.
func deliverGrant(w http.ResponseWriter, r *http.Request, issued *authserver.Issued) {
	target, err := url.Parse(issued.RedirectURI)
	if err != nil {
		logger.Errorf("registered redirect URI %q does not parse: %v", issued.RedirectURI, err)
		writeOAuthError(w, http.StatusBadRequest, authserver.ErrorCodeServerError, "")
		return
	}

	if issued.ResponseType == clients.ResponseTypeToken {
		f := url.Values{}
		f.Set("access_token", issued.Value)
		f.Set("token_type", "Bearer")
		target.Fragment = f.Encode()
	} else {
		q := target.Query()
		q.Set("code", issued.Value)
		target.RawQuery = q.Encode()
	}

	http.Redirect(w, r, target.String(), http.StatusFound)
}
