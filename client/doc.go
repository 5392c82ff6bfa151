// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is vex's side of the connection layer: the saved
// connections file, the client half of the handshake, and fan-out of a
// command to several daemons at once.
//
// [ConnectionStore] holds named connections in
// $VEX_HOME/connections.yaml (mode 0600; it contains token secrets).
// A local connection names a Unix socket. A remote connection names a
// host:port, a pairing credential, and, once the first TLS handshake
// has happened, the pinned certificate fingerprint.
//
// [Client.Connect] saves a connection only after a complete handshake
// succeeds. [Client.Dispatch] opens a fresh connection per target
// (nothing is kept alive between commands), gives each its own timeout,
// and returns one [Result] per target whether or not the others
// failed. A pin mismatch fails that target with a
// [*tofu.MismatchError] before the credential is sent; only
// [Client.Repin] replaces a pin.
package client
