// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"
)

var (
	// ErrUnauthorized is returned by Verify for an unknown id, a wrong
	// secret, a revoked token, or an expired token. The cases are
	// deliberately indistinguishable to the caller.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned by Revoke for an id that was never
	// issued.
	ErrNotFound = errors.New("token not found")
)

const (
	// IDPrefix starts every token id.
	IDPrefix = "tok_"

	idRandomBytes     = 3
	secretRandomBytes = 32
)

// Token is the stored form of a pairing token.
type Token struct {
	ID string `cbor:"id"`
	// Verifier is the hex blake3 digest of the raw secret bytes.
	Verifier  string     `cbor:"verifier"`
	Label     *string    `cbor:"label,omitempty"`
	CreatedAt time.Time  `cbor:"created_at"`
	ExpiresAt *time.Time `cbor:"expires_at,omitempty"`
	LastSeen  *time.Time `cbor:"last_seen,omitempty"`
	Revoked   bool       `cbor:"revoked"`
}

// ValidAt reports whether the token grants access at now.
func (t *Token) ValidAt(now time.Time) bool {
	if t.Revoked {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// Info is token metadata safe to show to an operator.
type Info struct {
	ID        string
	Label     *string
	CreatedAt time.Time
	ExpiresAt *time.Time
	LastSeen  *time.Time
	Revoked   bool
}

func (t *Token) info() Info {
	return Info{
		ID:        t.ID,
		Label:     copyPointer(t.Label),
		CreatedAt: t.CreatedAt,
		ExpiresAt: copyPointer(t.ExpiresAt),
		LastSeen:  copyPointer(t.LastSeen),
		Revoked:   t.Revoked,
	}
}

// Payload is the one-time transit form of a newly issued token.
type Payload struct {
	ID     string
	Secret string
}

// PairingString returns "<id>:<secret>".
func (p Payload) PairingString() string {
	return p.ID + ":" + p.Secret
}

// newID returns a random candidate token id.
func newID(random io.Reader) (string, error) {
	var buffer [idRandomBytes]byte
	if _, err := io.ReadFull(random, buffer[:]); err != nil {
		return "", fmt.Errorf("generating token id: %w", err)
	}
	return IDPrefix + hex.EncodeToString(buffer[:]), nil
}

// newSecret returns a random secret in hex and its verifier.
func newSecret(random io.Reader) (secret string, verifier string, err error) {
	var buffer [secretRandomBytes]byte
	if _, err := io.ReadFull(random, buffer[:]); err != nil {
		return "", "", fmt.Errorf("generating token secret: %w", err)
	}
	return hex.EncodeToString(buffer[:]), digest(buffer[:]), nil
}

// digest returns the hex blake3 digest of raw secret bytes.
func digest(secret []byte) string {
	sum := blake3.Sum256(secret)
	return hex.EncodeToString(sum[:])
}

var defaultRandom io.Reader = rand.Reader

func copyPointer[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
