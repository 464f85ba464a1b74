// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/stacklok/credbroker/pkg/authserver"
	"github.com/stacklok/credbroker/pkg/logger"
)

// tokenResponse is the standard OAuth2 token response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// TokenHandler handles POST /login/oauth/token, the authorization-code
// exchange. Any failed exchange answers invalid_grant with no further
// detail; distinguishing unknown codes from redirect mismatches would give
// callers an oracle for probing issued codes.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if grantType := r.PostFormValue("grant_type"); grantType != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	code := r.PostFormValue("code")
	redirectURI := r.PostFormValue("redirect_uri")
	clientID := r.PostFormValue("client_id")
	if code == "" || redirectURI == "" || clientID == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code, redirect_uri and client_id are required")
		return
	}

	token, err := h.server.Exchange(ctx, clientID, code, redirectURI)
	if err != nil {
		if errors.Is(err, authserver.ErrExchangeFailed) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "")
			return
		}
		logger.Errorw("token exchange failed", "client_id", clientID, "error", err)
		writeOAuthError(w, http.StatusServiceUnavailable, authserver.ErrorCodeServerError, "")
		return
	}

	// Bearer tokens must never be cached by intermediaries.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
	})
}
