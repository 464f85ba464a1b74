// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/credbroker/pkg/authserver/identity"
	"github.com/stacklok/credbroker/pkg/logger"
)

// Compile-time interface compliance checks.
var (
	_ CredentialService      = (*Client)(nil)
	_ identity.ScopeResolver = (*Client)(nil)
)

const (
	defaultRequestTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a response body we read. The
	// credential service returns small JSON documents; anything larger
	// is a misbehaving endpoint.
	maxResponseBytes = 1 << 20
)

// HTTPClient is the subset of http.Client used by the upstream client,
// extracted so tests can substitute a fake transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the platform credential service over HTTP.
type Client struct {
	baseURL    string
	authToken  string
	httpClient HTTPClient
	maxRetries uint
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithAuthToken sets the bearer token sent on every request.
func WithAuthToken(token string) ClientOption {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithMaxRetries sets how many attempts the idempotent scope lookup makes
// before giving up.
func WithMaxRetries(n uint) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient creates a client for the credential service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use http or https, got %q", parsed.Scheme)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		maxRetries: 5,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CreateClient mints a new client on the credential service.
//
// This call is deliberately not retried: if the request fails after the
// service has already persisted the client, a retry would mint a second
// credential that nobody holds.
func (c *Client) CreateClient(ctx context.Context, clientID string, req *CreateClientRequest) (*CreatedClient, error) {
	if clientID == "" {
		return nil, errors.New("client ID is required")
	}
	if req == nil {
		return nil, errors.New("request is required")
	}

	endpoint := c.baseURL + "/api/clients/" + url.PathEscape(clientID)

	var created CreatedClient
	if err := c.doJSON(ctx, http.MethodPut, endpoint, req, &created); err != nil {
		return nil, fmt.Errorf("creating client %s: %w", clientID, err)
	}

	logger.Debugw("minted client on credential service",
		"client_id", created.ClientID,
		"expires", created.Expires,
	)

	return &created, nil
}

// ResetAccessToken rotates the access token of an existing client.
func (c *Client) ResetAccessToken(ctx context.Context, clientID string) error {
	if clientID == "" {
		return errors.New("client ID is required")
	}

	endpoint := c.baseURL + "/api/clients/" + url.PathEscape(clientID) + "/reset-access-token"

	if err := c.doJSON(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		return fmt.Errorf("resetting access token for %s: %w", clientID, err)
	}

	return nil
}

// scopesResponse is the wire shape of the scope lookup endpoint.
type scopesResponse struct {
	Scopes []string `json:"scopes"`
}

// Scopes resolves the scope set granted to an authenticated identity.
// The lookup is read-only, so transient failures are retried with
// exponential backoff.
func (c *Client) Scopes(ctx context.Context, identityProviderID, identityName string) ([]string, error) {
	if identityProviderID == "" || identityName == "" {
		return nil, errors.New("identity provider ID and identity are required")
	}

	endpoint := c.baseURL + "/api/identities/" +
		url.PathEscape(identityProviderID) + "/" +
		url.PathEscape(identityName) + "/scopes"

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 100 * time.Millisecond

	resp, err := backoff.Retry(ctx, func() (*scopesResponse, error) {
		var out scopesResponse
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return &out, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Warnf("scope lookup for %s/%s failed: %v. Retrying in %s...",
				identityProviderID, identityName, err, duration)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("resolving scopes for %s/%s: %w", identityProviderID, identityName, err)
	}

	if resp.Scopes == nil {
		return []string{}, nil
	}
	return resp.Scopes, nil
}

// doJSON issues a single request with a JSON body (when in is non-nil) and
// decodes a JSON response into out (when out is non-nil). Non-2xx responses
// are returned as *APIError.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}

	return nil
}
