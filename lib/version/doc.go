// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for vex and
// vexd.
//
// Three package-level variables are injected at build time via
// -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/vex/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" during development builds and test runs.
// [Version] is set by hand for releases and is what the daemon reports
// in DaemonStatus.
package version
