// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package server is vexd's connection layer.
//
// [Listener] owns two sockets: a Unix socket whose file permissions
// (0600, plus a peer uid check on Linux) make every connection the
// local administrator, and a TLS listener on TCP for remote clients.
// Each accepted connection runs in its own goroutine through
// [Handler.ServeConn].
//
// A session moves through Accepted, Authenticating, Ready, and Closed.
// Local sessions skip Authenticating. A remote session's first frame
// must be a credential ([protocol.AuthToken]) and must arrive within
// the handler's auth timeout; a valid one is answered with Pong, an
// invalid one with an Unauthorized error, after which the connection is
// closed. In Ready every frame is one Command answered by exactly one
// Response, in order.
//
// Status, Whoami, and the Pair* commands are handled here. Pair* are
// refused over TCP with LocalOnly. Every other command is handed to the
// [Collaborator].
//
// Revoking a token blocks future authentications only. A session that
// authenticated before the revoke keeps working until it disconnects.
package server
