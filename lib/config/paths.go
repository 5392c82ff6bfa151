// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnvironmentVariable overrides the default home directory.
const HomeEnvironmentVariable = "VEX_HOME"

// Paths names the files under a vex home directory.
type Paths struct {
	Home string
}

// ResolvePaths returns the Paths for $VEX_HOME, or ~/.vex when it is
// unset.
func ResolvePaths() (Paths, error) {
	if home := os.Getenv(HomeEnvironmentVariable); home != "" {
		absolute, err := filepath.Abs(home)
		if err != nil {
			return Paths{}, fmt.Errorf("resolving %s: %w", HomeEnvironmentVariable, err)
		}
		return Paths{Home: absolute}, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("locating home directory (set %s): %w", HomeEnvironmentVariable, err)
	}
	return Paths{Home: filepath.Join(userHome, ".vex")}, nil
}

// ConfigFile is the daemon configuration.
func (p Paths) ConfigFile() string { return filepath.Join(p.Home, "config.yaml") }

// ConnectionsFile is the client's saved connections.
func (p Paths) ConnectionsFile() string { return filepath.Join(p.Home, "connections.yaml") }

// DaemonDir holds the daemon's socket, pid file, and registries.
func (p Paths) DaemonDir() string { return filepath.Join(p.Home, "daemon") }

// SocketFile is the local transport.
func (p Paths) SocketFile() string { return filepath.Join(p.DaemonDir(), "vexd.sock") }

// PIDFile records the running daemon's process id.
func (p Paths) PIDFile() string { return filepath.Join(p.DaemonDir(), "vexd.pid") }

// TokensFile is the pairing token registry.
func (p Paths) TokensFile() string { return filepath.Join(p.DaemonDir(), "tokens.cbor") }

// ReposFile is the repository and workstream registry.
func (p Paths) ReposFile() string { return filepath.Join(p.DaemonDir(), "repos.cbor") }

// TLSDir holds the daemon certificate and key.
func (p Paths) TLSDir() string { return filepath.Join(p.Home, "tls") }

// WorktreesDir holds one git worktree per workstream.
func (p Paths) WorktreesDir() string { return filepath.Join(p.Home, "worktrees") }

// EnsureDaemonDirs creates the directories the daemon writes into,
// owner-only.
func (p Paths) EnsureDaemonDirs() error {
	for _, directory := range []string{p.Home, p.DaemonDir(), p.TLSDir(), p.WorktreesDir()} {
		if err := os.MkdirAll(directory, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
