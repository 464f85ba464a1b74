// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/stacklok/credbroker/pkg/authserver/tokens"
	"github.com/stacklok/credbroker/pkg/logger"
)

// timedEntry wraps a value with its creation time for TTL tracking.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStorage implements the Store interface with in-memory maps.
// This implementation is thread-safe and suitable for single-instance
// deployments and testing. Use RedisStorage when running more than one
// replica behind a load balancer.
//
// Maps are keyed by the opaque primary value (code, token, transaction ID)
// for O(1) point lookup. A background goroutine sweeps expired rows, and
// every read re-checks expiry so stale rows are unusable even between sweeps.
type MemoryStorage struct {
	mu sync.RWMutex

	// codes maps code value -> AuthorizationCode.
	codes map[string]*timedEntry[*AuthorizationCode]

	// accessTokens maps token value -> AccessToken.
	accessTokens map[string]*timedEntry[*AccessToken]

	// transactions maps transaction ID -> pending Transaction.
	transactions map[string]*timedEntry[*Transaction]

	// clock supplies the time for all expiry math: stamping rows on
	// create, rejecting them lazily on read, and the background sweep.
	clock tokens.Clock

	// cleanupInterval is how often the background cleanup runs
	cleanupInterval time.Duration

	// stopCleanup is used to signal the cleanup goroutine to stop
	stopCleanup chan struct{}

	// cleanupDone is closed when the cleanup goroutine has fully stopped
	cleanupDone chan struct{}
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// WithClock overrides the clock used for expiry math. Callers that stamp
// record expiries from an injected clock must hand the same clock to the
// store, otherwise freshly created rows can be judged already expired.
func WithClock(clock tokens.Clock) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.clock = clock
	}
}

// NewMemoryStorage creates a new MemoryStorage instance with initialized maps
// and starts the background cleanup goroutine.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		codes:           make(map[string]*timedEntry[*AuthorizationCode]),
		accessTokens:    make(map[string]*timedEntry[*AccessToken]),
		transactions:    make(map[string]*timedEntry[*Transaction]),
		clock:           tokens.SystemClock{},
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Start background cleanup goroutine
	go s.cleanupLoop()

	return s
}

// Close stops the background cleanup goroutine and waits for it to finish.
// This should be called when the storage is no longer needed.
func (s *MemoryStorage) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries from storage.
// Uses collect-then-delete pattern: collects expired keys under read lock,
// then deletes under write lock. This minimizes write lock hold time.
func (s *MemoryStorage) cleanupExpired() {
	now := s.clock.Now()

	// Phase 1: Collect expired keys under read lock
	s.mu.RLock()

	var expiredCodes []string
	for k, v := range s.codes {
		if now.After(v.expiresAt) {
			expiredCodes = append(expiredCodes, k)
		}
	}

	var expiredTokens []string
	for k, v := range s.accessTokens {
		if now.After(v.expiresAt) {
			expiredTokens = append(expiredTokens, k)
		}
	}

	var expiredTransactions []string
	for k, v := range s.transactions {
		if now.After(v.expiresAt) {
			expiredTransactions = append(expiredTransactions, k)
		}
	}

	s.mu.RUnlock()

	// Phase 2: Early return if nothing to delete (no write lock needed)
	if len(expiredCodes) == 0 && len(expiredTokens) == 0 && len(expiredTransactions) == 0 {
		return
	}

	// Phase 3: Delete collected keys under write lock
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		delete(s.codes, k)
	}
	for _, k := range expiredTokens {
		delete(s.accessTokens, k)
	}
	for _, k := range expiredTransactions {
		delete(s.transactions, k)
	}
}

// copyCode returns a defensive copy of an authorization code record.
func copyCode(c *AuthorizationCode) *AuthorizationCode {
	out := *c
	out.Details.Scopes = slices.Clone(c.Details.Scopes)
	return &out
}

// copyToken returns a defensive copy of an access token record.
func copyToken(t *AccessToken) *AccessToken {
	out := *t
	out.Details.Scopes = slices.Clone(t.Details.Scopes)
	return &out
}

// copyTransaction returns a defensive copy of a transaction record.
func copyTransaction(tx *Transaction) *Transaction {
	out := *tx
	out.Scopes = slices.Clone(tx.Scopes)
	return &out
}

// -----------------------
// Authorization codes
// -----------------------

// CreateAuthorizationCode stores a code record keyed by its code value.
func (s *MemoryStorage) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}
	if code.Code == "" {
		return fmt.Errorf("authorization code value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	expiresAt := code.Expires
	if expiresAt.IsZero() {
		expiresAt = now.Add(AuthorizationCodeTTL)
	}

	s.codes[code.Code] = &timedEntry[*AuthorizationCode]{
		value:     copyCode(code),
		createdAt: now,
		expiresAt: expiresAt,
	}
	return nil
}

// GetAuthorizationCode retrieves a code record by its code value.
// Expired records return ErrExpired even if the sweep has not removed them.
func (s *MemoryStorage) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.codes[code]
	if !ok {
		logger.Debugw("authorization code not found")
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}

	if s.clock.Now().After(entry.expiresAt) {
		logger.Debugw("authorization code expired")
		return nil, fmt.Errorf("%w: authorization code", ErrExpired)
	}

	return copyCode(entry.value), nil
}

// DeleteAuthorizationCode removes a code record.
func (s *MemoryStorage) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; !ok {
		return fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	delete(s.codes, code)
	return nil
}

// -----------------------
// Access tokens
// -----------------------

// CreateAccessToken stores a token record keyed by its token value.
func (s *MemoryStorage) CreateAccessToken(_ context.Context, token *AccessToken) error {
	if token == nil {
		return fmt.Errorf("access token cannot be nil")
	}
	if token.Token == "" {
		return fmt.Errorf("access token value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	expiresAt := token.Expires
	if expiresAt.IsZero() {
		expiresAt = now.Add(AccessTokenTTL)
	}

	s.accessTokens[token.Token] = &timedEntry[*AccessToken]{
		value:     copyToken(token),
		createdAt: now,
		expiresAt: expiresAt,
	}
	return nil
}

// GetAccessToken retrieves a token record by its token value.
func (s *MemoryStorage) GetAccessToken(_ context.Context, token string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.accessTokens[token]
	if !ok {
		logger.Debugw("access token not found")
		return nil, fmt.Errorf("%w: access token", ErrNotFound)
	}

	if s.clock.Now().After(entry.expiresAt) {
		logger.Debugw("access token expired")
		return nil, fmt.Errorf("%w: access token", ErrExpired)
	}

	return copyToken(entry.value), nil
}

// -----------------------
// Pending transactions
// -----------------------

// CreateTransaction stores a pending consent transaction.
func (s *MemoryStorage) CreateTransaction(_ context.Context, tx *Transaction) error {
	if tx == nil {
		return fmt.Errorf("transaction cannot be nil")
	}
	if tx.ID == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.transactions[tx.ID] = &timedEntry[*Transaction]{
		value:     copyTransaction(tx),
		createdAt: now,
		expiresAt: now.Add(TransactionTTL),
	}
	return nil
}

// GetTransaction retrieves a pending transaction by its ID.
func (s *MemoryStorage) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.transactions[id]
	if !ok {
		logger.Debugw("transaction not found")
		return nil, fmt.Errorf("%w: transaction", ErrNotFound)
	}

	if s.clock.Now().After(entry.expiresAt) {
		logger.Debugw("transaction expired")
		return nil, fmt.Errorf("%w: transaction", ErrExpired)
	}

	return copyTransaction(entry.value), nil
}

// DeleteTransaction removes a pending transaction.
func (s *MemoryStorage) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; !ok {
		return fmt.Errorf("%w: transaction", ErrNotFound)
	}
	delete(s.transactions, id)
	return nil
}

// -----------------------
// Metrics/Stats (for testing and monitoring)
// -----------------------

// Stats contains statistics about the storage contents.
type Stats struct {
	AuthorizationCodes int
	AccessTokens       int
	Transactions       int
}

// Stats returns current statistics about storage contents.
// This is useful for testing and monitoring.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		AuthorizationCodes: len(s.codes),
		AccessTokens:       len(s.accessTokens),
		Transactions:       len(s.transactions),
	}
}

// Compile-time interface compliance check
var _ Store = (*MemoryStorage)(nil)
