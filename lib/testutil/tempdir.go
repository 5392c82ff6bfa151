// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets. sun_path is limited to 108 bytes, and t.TempDir() paths
// under a nested TMPDIR can exceed it.
//
// [RequireReceive] and [RequireClosed] wrap the select with a
// time.After fallback so individual tests never block forever.
package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory in /tmp suitable for Unix
// domain sockets. The directory is removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "vex-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
