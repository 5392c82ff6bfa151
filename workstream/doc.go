// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workstream carries out vexd's domain commands: registering
// git repositories, creating workstreams (a worktree plus a tmux
// session on one branch), and spawning agents into tmux windows.
//
// [Manager] owns the registry, persisted as CBOR in
// $VEX_HOME/daemon/repos.cbor. Its mutex guards only in-memory state:
// every git, tmux, and hook invocation happens with the lock released,
// so a slow git fetch on one connection never stalls another.
//
// [Manager.Handle] is the dispatch boundary used by the daemon. It
// accepts any domain [protocol.Command] and always answers with a
// [protocol.Response], mapping [ErrNotFound] to NotFound,
// [ErrLocalOnly] to LocalOnly, and everything else to Internal.
package workstream
