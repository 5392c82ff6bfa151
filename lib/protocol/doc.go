// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the messages vex and vexd exchange inside
// frames (see lib/frame).
//
// There are two message families plus one credential message:
//
//   - [Command]: client to daemon. Exactly one per request.
//   - [Response]: daemon to client. Exactly one per Command, in order.
//   - [AuthToken]: sent once by a remote client before its first
//     Command. The daemon answers with [Pong] or an [Error].
//
// Command and Response are closed sum types. Each variant is a struct
// implementing an unexported marker method, so no type outside this
// package can satisfy the interface, and consumers switch over the
// concrete variant types. On the wire a variant is a CBOR map
// {"type": <variant name>, "data": <variant fields>}; variants without
// fields omit "data".
//
// A body that is not well-formed CBOR, names an unknown variant, or
// whose "data" does not fit the variant is reported as
// frame.ErrMalformed.
package protocol
