// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the third-party OAuth2 authorization flow:
// validating authorization requests against the client registry, recording
// pending consent transactions, issuing opaque tokens and codes, exchanging
// codes for tokens, and bridging access tokens to credentials minted on the
// platform credential service.
package authserver

import (
	"errors"

	"github.com/stacklok/credbroker/pkg/authserver/clients"
	"github.com/stacklok/credbroker/pkg/authserver/identity"
	"github.com/stacklok/credbroker/pkg/authserver/metrics"
	"github.com/stacklok/credbroker/pkg/authserver/storage"
	"github.com/stacklok/credbroker/pkg/authserver/tokens"
	"github.com/stacklok/credbroker/pkg/authserver/upstream"
)

// Server is the authorization-flow engine. It is an explicitly constructed,
// dependency-injected service: the client registry, ephemeral store, scope
// resolver, platform credential service, clock and token source are all
// passed in, which keeps every expiry computation and opaque value
// deterministic under test.
type Server struct {
	registry *clients.Registry
	store    storage.Store
	resolver identity.ScopeResolver
	platform upstream.CredentialService
	clock    tokens.Clock
	source   tokens.Source
	metrics  *metrics.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for all expiry math.
func WithClock(clock tokens.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithTokenSource sets the generator for opaque tokens, codes and
// transaction IDs.
func WithTokenSource(source tokens.Source) Option {
	return func(s *Server) {
		s.source = source
	}
}

// WithMetrics sets the metrics sink. When unset, a fresh registry is
// created.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates the engine. All four collaborators are required.
func New(
	registry *clients.Registry,
	store storage.Store,
	resolver identity.ScopeResolver,
	platform upstream.CredentialService,
	opts ...Option,
) (*Server, error) {
	if registry == nil {
		return nil, errors.New("client registry is required")
	}
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if resolver == nil {
		return nil, errors.New("scope resolver is required")
	}
	if platform == nil {
		return nil, errors.New("credential service is required")
	}

	s := &Server{
		registry: registry,
		store:    store,
		resolver: resolver,
		platform: platform,
		clock:    tokens.SystemClock{},
		source:   tokens.UUIDSource{},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	return s, nil
}

// Metrics returns the metrics sink so the HTTP layer can expose it.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Registry returns the client registry.
func (s *Server) Registry() *clients.Registry {
	return s.registry
}
