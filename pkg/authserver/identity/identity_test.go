// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithUser_RoundTrip(t *testing.T) {
	t.Parallel()

	user := &User{Identity: "github/1234|octocat", IdentityProviderID: "github"}
	ctx := WithUser(context.Background(), user)

	got, ok := UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, user, got)
}

func TestWithUser_Nil(t *testing.T) {
	t.Parallel()

	ctx := WithUser(context.Background(), nil)
	got, ok := UserFromContext(ctx)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestUserFromContext_Empty(t *testing.T) {
	t.Parallel()

	got, ok := UserFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, got)
}
