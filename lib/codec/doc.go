// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides vex's standard CBOR encoding configuration.
//
// CBOR carries every frame body exchanged between vex and vexd and
// every daemon-side state file (the token registry and the repository
// registry). JSON is reserved for CLI --json output; YAML for
// operator-edited configuration.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical value always produces identical bytes. Timestamps are
// encoded as RFC 3339 text with nanosecond precision so that state
// files round-trip without truncation.
//
// The decoder rejects duplicate map keys. Frame bodies arrive from
// unauthenticated peers, and a body whose meaning depends on which of
// two duplicate keys wins is malformed.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
//   - `cbor` tag: CBOR only (on-disk state records).
//   - `json` tag: serialized as both CBOR and JSON. fxamacker/cbor
//     falls back to `json` tags when `cbor` tags are absent. Wire
//     protocol types use this so that `--json` CLI output and the wire
//     share field names.
//
// Never put both tags on one field.
package codec
