// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokens provides the clock and opaque-token abstractions used by the
// authorization server. All expiry math and token generation go through these
// interfaces so the grant flow can be tested with deterministic doubles.
package tokens

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Production code uses SystemClock; tests
// inject a fake with a settable time.
type Clock interface {
	Now() time.Time
}

// Source generates unpredictable, unique opaque values.
//
// Slug returns a short URL-safe identifier. Token returns an opaque bearer
// value suitable for use as an authorization code or access token. Both must
// be unguessable; uniqueness is a hard requirement since they key the
// ephemeral store.
type Source interface {
	Slug() string
	Token() string
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// UUIDSource derives slugs from v4 UUIDs: the 16 random bytes are base64url
// encoded without padding, yielding a 22-character identifier. Tokens are the
// base64 encoding of a slug, making them visibly distinct from slugs on the
// wire while sharing the same entropy.
type UUIDSource struct{}

// Slug returns a 22-character URL-safe identifier.
func (UUIDSource) Slug() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Token returns a fresh opaque bearer value.
func (s UUIDSource) Token() string {
	return base64.StdEncoding.EncodeToString([]byte(s.Slug()))
}

// Compile-time interface compliance checks
var (
	_ Clock  = SystemClock{}
	_ Source = UUIDSource{}
)
