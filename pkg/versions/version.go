// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package versions provides version information for the credbroker binary.
package versions

import (
	"fmt"
	"runtime"
	"time"
)

const unknownStr = "unknown"

// Version information set by build using -ldflags.
var (
	// Version is the current version of credbroker.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = unknownStr
	// BuildDate is the date the binary was built, in RFC 3339 format.
	BuildDate = unknownStr
)

// VersionInfo contains the version details of the running binary.
type VersionInfo struct {
	// Version is the release version, or a build pseudo-version for
	// non-release builds.
	Version string `json:"version"`
	// Commit is the git commit hash.
	Commit string `json:"commit"`
	// BuildDate is when the binary was built.
	BuildDate string `json:"build_date"`
	// GoVersion is the version of Go the binary was built with.
	GoVersion string `json:"go_version"`
	// Platform is the operating system and architecture.
	Platform string `json:"platform"`
}

// GetVersionInfo returns the version details of the running binary.
func GetVersionInfo() VersionInfo {
	version := Version
	if version == "dev" {
		// Development builds are named after the commit they were built
		// from, shortened the way git does.
		short := Commit
		if len(short) > 8 {
			short = short[:8]
		}
		version = "build-" + short
	}

	buildDate := BuildDate
	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	return VersionInfo{
		Version:   version,
		Commit:    Commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
