// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/credbroker/pkg/authserver/tokens"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Key type segments used to namespace the three tables under one prefix.
const (
	keyTypeCode        = "code"
	keyTypeAccessToken = "token"
	keyTypeTransaction = "txn"
)

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// URL is the redis connection address, host:port.
	URL string

	// Username and Password authenticate against the server's ACLs.
	// Both may be empty for unauthenticated deployments.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys, e.g. "credbroker:oauth:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Clock supplies the time for lazy expiry checks and TTL computation.
	// Nil means the system clock.
	Clock tokens.Clock
}

// RedisStorage implements the Store interface with a Redis backend. Rows are
// JSON values with native Redis TTLs, so the periodic sweep is Redis's own
// eviction; the lazy expiry check on read is still performed in case a row
// outlives its logical expiry (clock skew between writer and Redis).
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	clock     tokens.Clock
}

// NewRedisStorage connects to Redis and returns a RedisStorage.
// Returns an error if the connection cannot be established.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	if cfg.KeyPrefix == "" {
		return nil, errors.New("key prefix is required")
	}

	// Apply defaults
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = tokens.SystemClock{}
	}

	return &RedisStorage{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		clock:     clock,
	}, nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured client.
// This is useful for testing with miniredis. A nil clock means the system clock.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string, clock tokens.Clock) *RedisStorage {
	if clock == nil {
		clock = tokens.SystemClock{}
	}
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		clock:     clock,
	}
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) key(keyType, id string) string {
	return s.keyPrefix + keyType + ":" + id
}

// ttlUntil converts an absolute expiry into a Redis TTL relative to the
// store's clock, falling back to the default when the expiry is unset or
// already passed.
func (s *RedisStorage) ttlUntil(expires time.Time, defaultTTL time.Duration) time.Duration {
	if expires.IsZero() {
		return defaultTTL
	}
	ttl := expires.Sub(s.clock.Now())
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

// -----------------------
// Serialized row shapes
// -----------------------

// storedDetails is a serializable wrapper for ClientDetails. Times use the
// RFC 3339 encoding of time.Time so round-trips keep sub-second precision
// and match the memory backend exactly.
type storedDetails struct {
	ClientID           string    `json:"client_id"`
	Description        string    `json:"description"`
	Scopes             []string  `json:"scopes"`
	Expires            time.Time `json:"expires"`
	DeleteOnExpiration bool      `json:"delete_on_expiration"`
}

func toStoredDetails(d ClientDetails) storedDetails {
	return storedDetails{
		ClientID:           d.ClientID,
		Description:        d.Description,
		Scopes:             slices.Clone(d.Scopes),
		Expires:            d.Expires,
		DeleteOnExpiration: d.DeleteOnExpiration,
	}
}

func (d storedDetails) details() ClientDetails {
	return ClientDetails{
		ClientID:           d.ClientID,
		Description:        d.Description,
		Scopes:             slices.Clone(d.Scopes),
		Expires:            d.Expires,
		DeleteOnExpiration: d.DeleteOnExpiration,
	}
}

// storedCode is a serializable wrapper for AuthorizationCode.
type storedCode struct {
	Code               string        `json:"code"`
	ClientID           string        `json:"client_id"`
	RedirectURI        string        `json:"redirect_uri"`
	Identity           string        `json:"identity"`
	IdentityProviderID string        `json:"identity_provider_id"`
	AccessToken        string        `json:"access_token"`
	Expires            time.Time     `json:"expires"`
	Details            storedDetails `json:"client_details"`
}

// storedToken is a serializable wrapper for AccessToken.
type storedToken struct {
	Token              string        `json:"access_token"`
	ClientID           string        `json:"client_id"`
	RedirectURI        string        `json:"redirect_uri"`
	Identity           string        `json:"identity"`
	IdentityProviderID string        `json:"identity_provider_id"`
	Expires            time.Time     `json:"expires"`
	Details            storedDetails `json:"client_details"`
}

// storedTransaction is a serializable wrapper for Transaction.
type storedTransaction struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	RedirectURI  string    `json:"redirect_uri"`
	Identity     string    `json:"identity"`
	Scopes       []string  `json:"scopes"`
	ResponseType string    `json:"response_type"`
	Expires      time.Time `json:"expires"`
	CreatedAt    time.Time `json:"created_at"`
}

// -----------------------
// Authorization codes
// -----------------------

// CreateAuthorizationCode stores a code record keyed by its code value.
func (s *RedisStorage) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil {
		return errors.New("authorization code cannot be nil")
	}
	if code.Code == "" {
		return errors.New("authorization code value cannot be empty")
	}

	stored := storedCode{
		Code:               code.Code,
		ClientID:           code.ClientID,
		RedirectURI:        code.RedirectURI,
		Identity:           code.Identity,
		IdentityProviderID: code.IdentityProviderID,
		AccessToken:        code.AccessToken,
		Expires:            code.Expires,
		Details:            toStoredDetails(code.Details),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	key := s.key(keyTypeCode, code.Code)
	return s.client.Set(ctx, key, data, s.ttlUntil(code.Expires, AuthorizationCodeTTL)).Err()
}

// GetAuthorizationCode retrieves a code record by its code value.
func (s *RedisStorage) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	key := s.key(keyTypeCode, code)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var stored storedCode
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	// Redis TTL should have evicted this already, but double-check.
	if s.clock.Now().After(stored.Expires) {
		return nil, fmt.Errorf("%w: authorization code", ErrExpired)
	}

	return &AuthorizationCode{
		Code:               stored.Code,
		ClientID:           stored.ClientID,
		RedirectURI:        stored.RedirectURI,
		Identity:           stored.Identity,
		IdentityProviderID: stored.IdentityProviderID,
		AccessToken:        stored.AccessToken,
		Expires:            stored.Expires,
		Details:            stored.Details.details(),
	}, nil
}

// DeleteAuthorizationCode removes a code record.
func (s *RedisStorage) DeleteAuthorizationCode(ctx context.Context, code string) error {
	key := s.key(keyTypeCode, code)

	result, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	return nil
}

// -----------------------
// Access tokens
// -----------------------

// CreateAccessToken stores a token record keyed by its token value.
func (s *RedisStorage) CreateAccessToken(ctx context.Context, token *AccessToken) error {
	if token == nil {
		return errors.New("access token cannot be nil")
	}
	if token.Token == "" {
		return errors.New("access token value cannot be empty")
	}

	stored := storedToken{
		Token:              token.Token,
		ClientID:           token.ClientID,
		RedirectURI:        token.RedirectURI,
		Identity:           token.Identity,
		IdentityProviderID: token.IdentityProviderID,
		Expires:            token.Expires,
		Details:            toStoredDetails(token.Details),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	key := s.key(keyTypeAccessToken, token.Token)
	return s.client.Set(ctx, key, data, s.ttlUntil(token.Expires, AccessTokenTTL)).Err()
}

// GetAccessToken retrieves a token record by its token value.
func (s *RedisStorage) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	key := s.key(keyTypeAccessToken, token)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: access token", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}

	if s.clock.Now().After(stored.Expires) {
		return nil, fmt.Errorf("%w: access token", ErrExpired)
	}

	return &AccessToken{
		Token:              stored.Token,
		ClientID:           stored.ClientID,
		RedirectURI:        stored.RedirectURI,
		Identity:           stored.Identity,
		IdentityProviderID: stored.IdentityProviderID,
		Expires:            stored.Expires,
		Details:            stored.Details.details(),
	}, nil
}

// -----------------------
// Pending transactions
// -----------------------

// CreateTransaction stores a pending consent transaction.
func (s *RedisStorage) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	if tx.ID == "" {
		return errors.New("transaction ID cannot be empty")
	}

	stored := storedTransaction{
		ID:           tx.ID,
		ClientID:     tx.ClientID,
		RedirectURI:  tx.RedirectURI,
		Identity:     tx.Identity,
		Scopes:       slices.Clone(tx.Scopes),
		ResponseType: tx.ResponseType,
		Expires:      tx.Expires,
		CreatedAt:    tx.CreatedAt,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	key := s.key(keyTypeTransaction, tx.ID)
	return s.client.Set(ctx, key, data, TransactionTTL).Err()
}

// GetTransaction retrieves a pending transaction by its ID.
func (s *RedisStorage) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	key := s.key(keyTypeTransaction, id)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: transaction", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	var stored storedTransaction
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	// TTL should handle this, but double-check.
	if s.clock.Now().Sub(stored.CreatedAt) > TransactionTTL {
		return nil, fmt.Errorf("%w: transaction", ErrExpired)
	}

	return &Transaction{
		ID:           stored.ID,
		ClientID:     stored.ClientID,
		RedirectURI:  stored.RedirectURI,
		Identity:     stored.Identity,
		Scopes:       slices.Clone(stored.Scopes),
		ResponseType: stored.ResponseType,
		Expires:      stored.Expires,
		CreatedAt:    stored.CreatedAt,
	}, nil
}

// DeleteTransaction removes a pending transaction.
func (s *RedisStorage) DeleteTransaction(ctx context.Context, id string) error {
	key := s.key(keyTypeTransaction, id)

	result, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("%w: transaction", ErrNotFound)
	}
	return nil
}

// Compile-time interface compliance check
var _ Store = (*RedisStorage)(nil)
