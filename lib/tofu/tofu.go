// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tofu implements trust-on-first-use pinning of the daemon's
// self-signed TLS certificate, in place of certificate-authority
// validation.
//
// On first contact with a saved connection there is no pin: the
// handshake accepts whatever certificate is presented and records its
// fingerprint so the caller can persist it. On every later contact the
// presented certificate's fingerprint must equal the pin exactly, or
// the TLS handshake fails with a [*MismatchError] before the client
// sends any application data (in particular, before the credential
// frame). A pin is only ever replaced by an explicit operator action.
package tofu

import (
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// ErrFingerprintMismatch is wrapped by every *MismatchError.
var ErrFingerprintMismatch = errors.New("TLS certificate fingerprint mismatch")

// MismatchError reports a presented certificate that does not match the
// pinned fingerprint. This indicates the daemon's certificate changed
// or someone is intercepting the connection; it is never a credential
// problem.
type MismatchError struct {
	Connection string
	Expected   string
	Actual     string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("TLS certificate fingerprint mismatch for connection %q: expected %s, got %s "+
		"(possible interception; if the daemon's certificate was deliberately regenerated, run 'vex repin %s')",
		e.Connection, e.Expected, e.Actual, e.Connection)
}

func (e *MismatchError) Unwrap() error {
	return ErrFingerprintMismatch
}

// Fingerprint returns the hex blake3 digest of a DER-encoded
// certificate.
func Fingerprint(certificateDER []byte) string {
	sum := blake3.Sum256(certificateDER)
	return hex.EncodeToString(sum[:])
}

// Verifier checks one TLS handshake against a pinned fingerprint. Use a
// fresh Verifier per connection attempt.
type Verifier struct {
	connection string
	pinned     string

	mu       sync.Mutex
	observed string
	mismatch *MismatchError
}

// NewVerifier returns a Verifier for the named connection. An empty
// pinned fingerprint means first contact: any certificate is accepted
// and recorded.
func NewVerifier(connection, pinned string) *Verifier {
	return &Verifier{connection: connection, pinned: pinned}
}

// ClientConfig returns a TLS client configuration that performs the
// pin check. Chain and hostname verification are disabled because the
// daemon's certificate is self-signed; VerifyConnection replaces them.
func (v *Verifier) ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		VerifyConnection:   v.verifyConnection,
	}
}

func (v *Verifier) verifyConnection(state tls.ConnectionState) error {
	if len(state.PeerCertificates) == 0 {
		return errors.New("daemon presented no TLS certificate")
	}
	actual := Fingerprint(state.PeerCertificates[0].Raw)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.observed = actual
	if v.pinned == "" || v.pinned == actual {
		return nil
	}
	v.mismatch = &MismatchError{
		Connection: v.connection,
		Expected:   v.pinned,
		Actual:     actual,
	}
	return v.mismatch
}

// Observed returns the fingerprint of the certificate the last
// handshake presented, or "" if no certificate has been seen.
func (v *Verifier) Observed() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.observed
}

// Mismatch returns the pin failure from the last handshake, if any.
// crypto/tls may wrap the callback's error in an alert; this recovers
// the typed error regardless.
func (v *Verifier) Mismatch() *MismatchError {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mismatch
}

// FirstContact reports whether the Verifier was created without a pin.
func (v *Verifier) FirstContact() bool {
	return v.pinned == ""
}
