// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scopes implements the scope-set algebra used by the grant engine:
// parsing the space-separated wire form, order-independent set equality, and
// set intersection for narrowing a consented scope to what the identity
// actually holds.
package scopes

import (
	"slices"
	"strings"
)

// Parse splits a space-separated scope string into its individual scopes.
// Empty input yields an empty (non-nil) slice.
func Parse(s string) []string {
	fields := strings.Fields(s)
	if fields == nil {
		return []string{}
	}
	return fields
}

// Join renders a scope set in its space-separated wire form.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Equal reports whether two scope sets contain the same scopes, ignoring
// order and duplicates.
func Equal(a, b []string) bool {
	as := normalize(a)
	bs := normalize(b)
	return slices.Equal(as, bs)
}

// Intersection returns the scopes present in both sets, preserving the order
// of the first set. Duplicates in the first set are collapsed.
func Intersection(a, b []string) []string {
	have := make(map[string]bool, len(b))
	for _, s := range b {
		have[s] = true
	}

	out := []string{}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		if have[s] && !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

// Subset reports whether every scope in a is also in b.
func Subset(a, b []string) bool {
	have := make(map[string]bool, len(b))
	for _, s := range b {
		have[s] = true
	}
	for _, s := range a {
		if !have[s] {
			return false
		}
	}
	return true
}

// normalize returns a sorted, deduplicated copy of the scope set.
func normalize(scopes []string) []string {
	out := slices.Clone(scopes)
	slices.Sort(out)
	return slices.Compact(out)
}
