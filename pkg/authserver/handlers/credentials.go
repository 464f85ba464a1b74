// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stacklok/credbroker/pkg/authserver"
	"github.com/stacklok/credbroker/pkg/logger"
)

// credentialsResponse is the body of a successful credential fetch.
type credentialsResponse struct {
	Credentials struct {
		ClientID    string `json:"clientId"`
		AccessToken string `json:"accessToken"`
	} `json:"credentials"`
	Expires string `json:"expires"`
}

// apiErrorBody is the error shape shared with the platform API surface.
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CredentialsHandler handles GET /login/oauth/credentials. The bearer access
// token issued by the grant flow is redeemed for a freshly minted platform
// credential. All failures answer an identical InputError body; the actual
// causes live in the server logs only.
func (h *Handler) CredentialsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, ok := bearerToken(r)
	if !ok {
		writeInputError(w)
		return
	}

	cred, err := h.server.Credentials(ctx, token)
	if err != nil {
		if errors.Is(err, authserver.ErrInputError) {
			writeInputError(w)
			return
		}
		logger.Errorw("credential fetch failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, apiErrorBody{
			Code:    "ServerError",
			Message: "service temporarily unavailable",
		})
		return
	}

	var resp credentialsResponse
	resp.Credentials.ClientID = cred.ClientID
	resp.Credentials.AccessToken = cred.AccessToken
	resp.Expires = cred.Expires.UTC().Format(time.RFC3339)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// writeInputError writes the one generic failure body the credentials
// endpoint ever returns.
func writeInputError(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, apiErrorBody{
		Code:    "InputError",
		Message: "Could not generate credentials for this access token",
	})
}
