// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pairing is the daemon's registry of pairing tokens: the
// credentials that grant a remote client administrative access over
// the TLS transport.
//
// A token has a public id ("tok_" + 6 hex characters) and a 256-bit
// secret (64 hex characters). Only a blake3 digest of the raw secret
// bytes is stored; the secret itself is returned once, by [Store.Issue],
// and can never be recovered.
//
// Tokens are never deleted. Revocation sets a flag, and a revoked id is
// never reissued, so an id seen in a log or an error message always
// refers to the same grant. A token is valid at time T iff it is not
// revoked and either has no expiry or T is strictly before its expiry.
//
// Every operation runs under one mutex, which makes Issue, Verify,
// Revoke, RevokeAll, and List linearizable: once Revoke returns, any
// Verify that starts afterwards, on any goroutine, fails. The mutex is
// held for the in-memory update and the local state file write only.
package pairing
