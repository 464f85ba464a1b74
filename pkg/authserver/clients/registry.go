// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clients holds the registry of pre-configured third-party OAuth
// clients. The registry is static: registrations are supplied by deployment
// configuration and are immutable at runtime.
package clients

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Response types supported by registered clients.
const (
	// ResponseTypeToken selects the implicit grant: the access token is
	// delivered directly in the redirect fragment.
	ResponseTypeToken = "token"

	// ResponseTypeCode selects the authorization-code grant.
	ResponseTypeCode = "code"
)

// Registration describes a pre-registered third-party OAuth client.
type Registration struct {
	// ClientID uniquely identifies the client; lookups are exact-match.
	ClientID string `yaml:"client_id"`

	// Scopes is the full scope set the client may request.
	Scopes []string `yaml:"scopes"`

	// RedirectURIs is the set of allowed redirect URIs. Matching is exact;
	// no wildcard or prefix matching.
	RedirectURIs []string `yaml:"redirect_uris"`

	// ResponseType selects the grant flow: "token" or "code".
	ResponseType string `yaml:"response_type"`

	// MaxExpires caps the lifetime of credentials minted for this client.
	MaxExpires time.Duration `yaml:"max_expires"`

	// Whitelisted clients skip the consent page when they request exactly
	// their registered scope set.
	Whitelisted bool `yaml:"whitelisted"`
}

// UnmarshalYAML decodes a registration, accepting max_expires in Go duration
// syntax ("1h", "30m").
func (r *Registration) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ClientID     string   `yaml:"client_id"`
		Scopes       []string `yaml:"scopes"`
		RedirectURIs []string `yaml:"redirect_uris"`
		ResponseType string   `yaml:"response_type"`
		MaxExpires   string   `yaml:"max_expires"`
		Whitelisted  bool     `yaml:"whitelisted"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	var maxExpires time.Duration
	if raw.MaxExpires != "" {
		d, err := time.ParseDuration(raw.MaxExpires)
		if err != nil {
			return fmt.Errorf("invalid max_expires %q: %w", raw.MaxExpires, err)
		}
		maxExpires = d
	}

	*r = Registration{
		ClientID:     raw.ClientID,
		Scopes:       raw.Scopes,
		RedirectURIs: raw.RedirectURIs,
		ResponseType: raw.ResponseType,
		MaxExpires:   maxExpires,
		Whitelisted:  raw.Whitelisted,
	}
	return nil
}

// AllowsRedirectURI reports whether uri is in the registered redirect set.
// Comparison is exact.
func (r *Registration) AllowsRedirectURI(uri string) bool {
	return slices.Contains(r.RedirectURIs, uri)
}

// Registry is a read-only, exact-match lookup of client registrations.
type Registry struct {
	byID map[string]*Registration
}

// NewRegistry builds a registry from the given registrations.
// Duplicate client IDs are an error.
func NewRegistry(registrations []Registration) (*Registry, error) {
	byID := make(map[string]*Registration, len(registrations))
	for i := range registrations {
		reg := registrations[i]
		if err := validate(&reg); err != nil {
			return nil, fmt.Errorf("client %q: %w", reg.ClientID, err)
		}
		if _, exists := byID[reg.ClientID]; exists {
			return nil, fmt.Errorf("duplicate client ID %q", reg.ClientID)
		}
		byID[reg.ClientID] = &reg
	}
	return &Registry{byID: byID}, nil
}

// LoadFile reads a YAML file containing a list of registrations and builds a
// registry from it.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}

	var registrations []Registration
	if err := yaml.Unmarshal(data, &registrations); err != nil {
		return nil, fmt.Errorf("failed to parse clients file: %w", err)
	}

	return NewRegistry(registrations)
}

// Lookup returns the registration for the given client ID.
// Returns a copy; callers cannot mutate the registry.
func (r *Registry) Lookup(clientID string) (*Registration, bool) {
	reg, ok := r.byID[clientID]
	if !ok {
		return nil, false
	}

	out := *reg
	out.Scopes = slices.Clone(reg.Scopes)
	out.RedirectURIs = slices.Clone(reg.RedirectURIs)
	return &out, true
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return len(r.byID)
}

func validate(reg *Registration) error {
	if reg.ClientID == "" {
		return errors.New("client_id is required")
	}
	if len(reg.RedirectURIs) == 0 {
		return errors.New("at least one redirect URI is required")
	}
	if reg.ResponseType != ResponseTypeToken && reg.ResponseType != ResponseTypeCode {
		return fmt.Errorf("unknown response type %q", reg.ResponseType)
	}
	if reg.MaxExpires <= 0 {
		return errors.New("max_expires must be positive")
	}
	return nil
}
