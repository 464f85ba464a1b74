// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRedisStorage(t *testing.T, fn func(context.Context, *miniredis.Miniredis, *RedisStorage)) {
	t.Helper()
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	storage := NewRedisStorageWithClient(client, "test:oauth:", nil)
	defer storage.Close()

	fn(context.Background(), mr, storage)
}

func TestRedisStorage_AuthorizationCode(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		code := testCode("code-1")
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		got, err := s.GetAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, code.Code, got.Code)
		assert.Equal(t, code.ClientID, got.ClientID)
		assert.Equal(t, code.RedirectURI, got.RedirectURI)
		assert.Equal(t, code.AccessToken, got.AccessToken)
		assert.Equal(t, code.Details.Scopes, got.Details.Scopes)
		assert.Equal(t, code.Details.ClientID, got.Details.ClientID)
		assert.True(t, got.Details.DeleteOnExpiration)
	})
}

func TestRedisStorage_AuthorizationCode_NotFound(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		got, err := s.GetAuthorizationCode(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, got)
	})
}

func TestRedisStorage_AuthorizationCode_TTL(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, mr *miniredis.Miniredis, s *RedisStorage) {
		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-ttl")))

		// The row carries a native Redis TTL; once it fires the row is gone.
		mr.FastForward(AuthorizationCodeTTL + time.Second)

		_, err := s.GetAuthorizationCode(ctx, "code-ttl")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStorage_AuthorizationCode_LazyExpiry(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		// A row whose logical expiry has passed is rejected on read even
		// while the Redis TTL keeps it physically present.
		code := testCode("code-lazy")
		code.Expires = time.Now().Add(-time.Minute)
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		_, err := s.GetAuthorizationCode(ctx, "code-lazy")
		assert.ErrorIs(t, err, ErrExpired)
	})
}

func TestRedisStorage_InjectedClock(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clk := newTestClock()
	s := NewRedisStorageWithClient(client, "test:oauth:", clk)
	defer s.Close()
	ctx := context.Background()

	code := testCode("code-clk")
	code.Expires = clk.Now().Add(AuthorizationCodeTTL)
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	_, err := s.GetAuthorizationCode(ctx, "code-clk")
	require.NoError(t, err)

	// The lazy check follows the injected clock even while the Redis TTL
	// keeps the row physically present.
	clk.Advance(AuthorizationCodeTTL + time.Second)
	_, err = s.GetAuthorizationCode(ctx, "code-clk")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRedisStorage_DetailsPrecisionRoundTrip(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		// Sub-second precision must survive serialization so both backends
		// report identical expiries for the same record.
		want := time.Date(2026, 9, 1, 10, 30, 0, 123456789, time.UTC)
		code := testCode("code-ns")
		code.Details.Expires = want
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		got, err := s.GetAuthorizationCode(ctx, "code-ns")
		require.NoError(t, err)
		assert.True(t, got.Details.Expires.Equal(want), "want %v, got %v", want, got.Details.Expires)
		assert.True(t, got.Expires.Equal(code.Expires))
	})
}

func TestRedisStorage_AuthorizationCode_Delete(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-del")))
		require.NoError(t, s.DeleteAuthorizationCode(ctx, "code-del"))

		_, err := s.GetAuthorizationCode(ctx, "code-del")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.DeleteAuthorizationCode(ctx, "code-del"), ErrNotFound)
	})
}

func TestRedisStorage_AccessToken(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		token := testToken("tok-1")
		require.NoError(t, s.CreateAccessToken(ctx, token))

		got, err := s.GetAccessToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, token.Identity, got.Identity)
		assert.Equal(t, token.IdentityProviderID, got.IdentityProviderID)
		assert.Equal(t, token.Details.Scopes, got.Details.Scopes)
	})
}

func TestRedisStorage_AccessToken_LazyExpiry(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		token := testToken("tok-exp")
		token.Expires = time.Now().Add(-time.Second)
		require.NoError(t, s.CreateAccessToken(ctx, token))

		_, err := s.GetAccessToken(ctx, "tok-exp")
		assert.ErrorIs(t, err, ErrExpired)
	})
}

func TestRedisStorage_Transaction(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		tx := &Transaction{
			ID:           "txn-1",
			ClientID:     "acme",
			RedirectURI:  "https://acme.example/cb",
			Identity:     "alice",
			Scopes:       []string{"queue:read", "queue:write"},
			ResponseType: "code",
			Expires:      time.Now().Add(time.Hour),
			CreatedAt:    time.Now(),
		}
		require.NoError(t, s.CreateTransaction(ctx, tx))

		got, err := s.GetTransaction(ctx, "txn-1")
		require.NoError(t, err)
		assert.Equal(t, tx.ClientID, got.ClientID)
		assert.Equal(t, tx.Identity, got.Identity)
		assert.Equal(t, tx.Scopes, got.Scopes)
		assert.Equal(t, tx.ResponseType, got.ResponseType)
		assert.True(t, got.Expires.Equal(tx.Expires))

		require.NoError(t, s.DeleteTransaction(ctx, "txn-1"))
		_, err = s.GetTransaction(ctx, "txn-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStorage_Transaction_NoExpiresRoundTrip(t *testing.T) {
	withRedisStorage(t, func(ctx context.Context, _ *miniredis.Miniredis, s *RedisStorage) {
		tx := &Transaction{
			ID:        "txn-zero",
			ClientID:  "acme",
			Scopes:    []string{"queue:read"},
			CreatedAt: time.Now(),
		}
		require.NoError(t, s.CreateTransaction(ctx, tx))

		got, err := s.GetTransaction(ctx, "txn-zero")
		require.NoError(t, err)
		assert.True(t, got.Expires.IsZero())
	})
}

func TestNewRedisStorage_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := NewRedisStorage(ctx, RedisConfig{KeyPrefix: "p:"})
	assert.Error(t, err)

	_, err = NewRedisStorage(ctx, RedisConfig{URL: "localhost:6379"})
	assert.Error(t, err)
}
