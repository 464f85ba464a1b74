// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP endpoints of the authorization flow:
// authorize, consent decision, token exchange and credential fetch.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/credbroker/pkg/authserver"
	"github.com/stacklok/credbroker/pkg/logger"
)

// Handler provides HTTP handlers for the OAuth authorization endpoints.
type Handler struct {
	server     *authserver.Server
	consentURL string
}

// NewHandler creates a Handler over the flow engine. consentURL is the
// absolute URL of the consent page users are sent to when a grant needs
// explicit approval.
func NewHandler(server *authserver.Server, consentURL string) *Handler {
	return &Handler{
		server:     server,
		consentURL: consentURL,
	}
}

// Routes returns a router with all OAuth endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	h.OAuthRoutes(r)
	r.Handle("/metrics", h.server.Metrics().Handler())
	return r
}

// OAuthRoutes registers the OAuth endpoints on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get("/login/oauth/authorize", h.AuthorizeHandler)
	r.Post("/login/oauth/decision", h.DecisionHandler)
	r.Post("/login/oauth/token", h.TokenHandler)
	r.Get("/login/oauth/credentials", h.CredentialsHandler)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("failed to write response: %v", err)
	}
}

// oauthErrorBody is the standard OAuth2 JSON error shape.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeOAuthError writes a standard OAuth2 error JSON body.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, oauthErrorBody{Error: code, ErrorDescription: description})
}

// redirectError delivers a protocol error to a validated redirect URI as
// OAuth2 error query parameters.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI string, authErr *authserver.AuthorizationError) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		// The URI came from the registry, so this is a config problem.
		logger.Errorf("registered redirect URI %q does not parse: %v", redirectURI, err)
		writeOAuthError(w, http.StatusBadRequest, authErr.Code, authErr.Description)
		return
	}

	q := target.Query()
	q.Set("error", authErr.Code)
	if authErr.Description != "" {
		q.Set("error_description", authErr.Description)
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}
