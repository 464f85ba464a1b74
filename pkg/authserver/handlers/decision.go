// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/stacklok/credbroker/pkg/authserver"
	"github.com/stacklok/credbroker/pkg/authserver/identity"
	"github.com/stacklok/credbroker/pkg/authserver/scopes"
)

// DecisionHandler handles POST /login/oauth/decision.
//
// The consent page posts back the transaction ID it was handed together
// with the scope set the user approved, an optional description for the
// minted credential, and an optional expiry. An authenticated session is
// required; the decision completes the pending transaction and redirects
// per the client's response type.
func (h *Handler) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := identity.UserFromContext(ctx)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, authserver.ErrorCodeAccessDenied, "authentication required")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	transactionID := r.PostFormValue("transaction_id")
	if transactionID == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "transaction_id is required")
		return
	}

	approval := &authserver.Approval{
		Scopes:      scopes.Parse(r.PostFormValue("scope")),
		Description: r.PostFormValue("description"),
	}
	if raw := r.PostFormValue("expires"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			approval.Expires = t
		}
	}

	issued, err := h.server.Finalize(ctx, transactionID, user, approval)
	if err != nil {
		h.writeGrantError(w, r, "", err)
		return
	}

	deliverGrant(w, r, issued)
}
