// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/credbroker/pkg/authserver/clients"
	"github.com/stacklok/credbroker/pkg/authserver/identity"
	"github.com/stacklok/credbroker/pkg/authserver/scopes"
	"github.com/stacklok/credbroker/pkg/authserver/storage"
)

var testUser = &identity.User{
	Identity:           "github/octocat",
	IdentityProviderID: "github",
}

func TestAuthorize(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "acme", tx.ClientID)
	assert.Equal(t, "github/octocat", tx.Identity)
	assert.Equal(t, clients.ResponseTypeCode, tx.ResponseType)
	// No expires requested, so the client maximum applies.
	assert.True(t, tx.Expires.Equal(env.clock.Now().Add(time.Hour)))

	// The transaction is retrievable for the consent step.
	stored, err := env.store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, stored.ID)
}

func TestAuthorizeRequiresUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.server.Authorize(context.Background(), nil, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeAccessDenied, authErr.Code)
}

func TestAuthorizeUnknownClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.server.Authorize(context.Background(), testUser, &AuthorizeRequest{
		ClientID:    "nope",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeUnauthorizedClient, authErr.Code)
}

func TestAuthorizeUnregisteredRedirect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Any unregistered redirect fails with access_denied regardless of
	// the other parameters.
	for _, uri := range []string{
		"https://evil.example/cb",
		"https://acme.example/cb/extra",
		"https://acme.example/CB",
		"",
	} {
		_, err := env.server.Authorize(context.Background(), testUser, &AuthorizeRequest{
			ClientID:    "acme",
			RedirectURI: uri,
			Scopes:      []string{"queue:read"},
		})
		var authErr *AuthorizationError
		require.ErrorAs(t, err, &authErr, "redirect %q", uri)
		assert.Equal(t, ErrorCodeAccessDenied, authErr.Code)
	}
}

func TestAuthorizeExpiresClamping(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	now := env.clock.Now()

	tests := []struct {
		name    string
		expires string
		want    time.Time
	}{
		{
			name:    "absent defaults to max",
			expires: "",
			want:    now.Add(time.Hour),
		},
		{
			name:    "smaller than max is honored",
			expires: "30m",
			want:    now.Add(30 * time.Minute),
		},
		{
			name:    "larger than max is clamped",
			expires: "48h",
			want:    now.Add(time.Hour),
		},
		{
			name:    "unparseable silently defaults to max",
			expires: "next tuesday",
			want:    now.Add(time.Hour),
		},
		{
			name:    "negative silently defaults to max",
			expires: "-5m",
			want:    now.Add(time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := env.server.Authorize(context.Background(), testUser, &AuthorizeRequest{
				ClientID:    "acme",
				RedirectURI: "https://acme.example/cb",
				Scopes:      []string{"queue:read"},
				Expires:     tt.expires,
			})
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(tx.Expires), "want %v, got %v", tt.want, tx.Expires)
		})
	}
}

func TestBypassConsent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	require.NoError(t, err)

	ok, err := env.server.BypassConsent(ctx, tx, testUser)
	require.NoError(t, err)
	assert.True(t, ok)
	// Bypassing resets the user's own long-lived credential.
	assert.Equal(t, []string{"github/octocat"}, env.platform.resets)
}

func TestBypassConsentScopeSuperset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// The client is registered for queue:read only; asking for a superset
	// must fall through to explicit consent, never auto-grant.
	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read", "queue:write"},
	})
	require.NoError(t, err)

	ok, err := env.server.BypassConsent(ctx, tx, testUser)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, env.platform.resets)
}

func TestBypassConsentRequiresUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	require.NoError(t, err)

	ok, err := env.server.BypassConsent(ctx, tx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBypassConsentNotWhitelisted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "webapp",
		RedirectURI: "https://webapp.example/cb",
		Scopes:      []string{"queue:read", "queue:write"},
	})
	require.NoError(t, err)

	ok, err := env.server.BypassConsent(ctx, tx, testUser)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFinalizeCodeGrant(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	require.NoError(t, err)

	issued, err := env.server.Finalize(ctx, tx.ID, testUser, &Approval{
		Scopes: []string{"queue:read"},
	})
	require.NoError(t, err)
	assert.Equal(t, clients.ResponseTypeCode, issued.ResponseType)
	assert.Equal(t, "https://acme.example/cb", issued.RedirectURI)
	assert.NotEmpty(t, issued.Value)

	// The stored code carries a pre-generated access token and the
	// clamped credential template.
	code, err := env.store.GetAuthorizationCode(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, "acme", code.ClientID)
	assert.Equal(t, "github/octocat", code.Identity)
	assert.NotEmpty(t, code.AccessToken)
	assert.True(t, code.Details.DeleteOnExpiration)
	assert.Equal(t, []string{"queue:read"}, code.Details.Scopes)
	assert.Contains(t, code.Details.ClientID, "github/octocat/acme-")
	assert.Equal(t, "Client generated by github/octocat for OAuth2 Client acme", code.Details.Description)

	// Transactions are single-use.
	_, err = env.server.Finalize(ctx, tx.ID, testUser, &Approval{
		Scopes: []string{"queue:read"},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeAccessDenied, authErr.Code)
}

func TestFinalizeTokenGrant(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "webapp",
		RedirectURI: "https://webapp.example/cb",
		Scopes:      []string{"queue:read", "queue:write"},
	})
	require.NoError(t, err)

	issued, err := env.server.Finalize(ctx, tx.ID, testUser, &Approval{
		Scopes: []string{"queue:write", "queue:read"}, // order must not matter
	})
	require.NoError(t, err)
	assert.Equal(t, clients.ResponseTypeToken, issued.ResponseType)

	token, err := env.store.GetAccessToken(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, "webapp", token.ClientID)
	assert.ElementsMatch(t, []string{"queue:read", "queue:write"}, token.Details.Scopes)
}

func TestFinalizeValidationOrder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// Approved != requested takes precedence over every later check, so a
	// request that would also fail the response-type check still reports
	// invalid_scope.
	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:     "acme",
		RedirectURI:  "https://acme.example/cb",
		Scopes:       []string{"queue:read"},
		ResponseType: clients.ResponseTypeToken,
	})
	require.NoError(t, err)

	_, err = env.server.Finalize(ctx, tx.ID, testUser, &Approval{
		Scopes: []string{"queue:read", "queue:write"},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeInvalidScope, authErr.Code)
}

func TestFinalizeResponseTypeMismatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:     "acme",
		RedirectURI:  "https://acme.example/cb",
		Scopes:       []string{"queue:read"},
		ResponseType: clients.ResponseTypeToken, // acme registered the code grant
	})
	require.NoError(t, err)

	_, err = env.server.Finalize(ctx, tx.ID, testUser, &Approval{
		Scopes: []string{"queue:read"},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeUnsupportedResponseType, authErr.Code)
}

func TestFinalizeRequiresUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.server.Finalize(context.Background(), "whatever", nil, &Approval{})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeAccessDenied, authErr.Code)
}

func TestFinalizeOtherUsersTransaction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	require.NoError(t, err)

	// A different authenticated user who learns the transaction ID must
	// not be able to complete the flow started by someone else.
	intruder := &identity.User{Identity: "github/mallory", IdentityProviderID: "github"}
	_, err = env.server.Finalize(ctx, tx.ID, intruder, &Approval{
		Scopes: []string{"queue:read"},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeAccessDenied, authErr.Code)
	assert.Equal(t, "unknown or expired transaction", authErr.Description)
}

func TestFinalizeExpiredTransaction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	require.NoError(t, err)

	env.clock.Advance(storage.TransactionTTL + time.Second)

	_, err = env.server.Finalize(ctx, tx.ID, testUser, &Approval{
		Scopes: []string{"queue:read"},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorCodeAccessDenied, authErr.Code)
	assert.Equal(t, "unknown or expired transaction", authErr.Description)
}

func TestClientDetailsExpiryNeverExceedsMax(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	tests := []struct {
		name     string
		approved time.Time
		want     time.Time
	}{
		{
			name: "zero defaults to max",
			want: now.Add(time.Hour),
		},
		{
			name:     "earlier approval honored",
			approved: now.Add(10 * time.Minute),
			want:     now.Add(10 * time.Minute),
		},
		{
			name:     "later approval clamped to max",
			approved: now.Add(48 * time.Hour),
			want:     now.Add(time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
				ClientID:    "acme",
				RedirectURI: "https://acme.example/cb",
				Scopes:      []string{"queue:read"},
			})
			require.NoError(t, err)

			issued, err := env.server.Finalize(ctx, tx.ID, testUser, &Approval{
				Scopes:  []string{"queue:read"},
				Expires: tt.approved,
			})
			require.NoError(t, err)

			code, err := env.store.GetAuthorizationCode(ctx, issued.Value)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(code.Details.Expires),
				"want %v, got %v", tt.want, code.Details.Expires)
		})
	}
}

func TestClientDetailsScopeIntersection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// The identity only holds queue:read; the approved queue:write must
	// not survive into the credential template.
	env.resolver.scopes["github/octocat"] = []string{"queue:read", "secrets:get"}

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "webapp",
		RedirectURI: "https://webapp.example/cb",
		Scopes:      []string{"queue:read", "queue:write"},
	})
	require.NoError(t, err)

	approved := []string{"queue:read", "queue:write"}
	issued, err := env.server.Finalize(ctx, tx.ID, testUser, &Approval{Scopes: approved})
	require.NoError(t, err)

	token, err := env.store.GetAccessToken(ctx, issued.Value)
	require.NoError(t, err)

	got := token.Details.Scopes
	assert.Equal(t, []string{"queue:read"}, got)
	assert.True(t, scopes.Subset(got, approved))
	assert.True(t, scopes.Subset(got, env.resolver.scopes["github/octocat"]))
}

func TestFinalizeCustomDescription(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.server.Authorize(ctx, testUser, &AuthorizeRequest{
		ClientID:    "acme",
		RedirectURI: "https://acme.example/cb",
		Scopes:      []string{"queue:read"},
	})
	require.NoError(t, err)

	issued, err := env.server.Finalize(ctx, tx.ID, testUser, &Approval{
		Scopes:      []string{"queue:read"},
		Description: "CI credentials for acme",
	})
	require.NoError(t, err)

	code, err := env.store.GetAuthorizationCode(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, "CI credentials for acme", code.Details.Description)
}
