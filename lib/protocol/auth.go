// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/vex/lib/codec"
	"github.com/bureau-foundation/vex/lib/frame"
)

// AuthToken is the credential frame a remote client sends before its
// first Command.
type AuthToken struct {
	TokenID     string `json:"token_id"`
	TokenSecret string `json:"token_secret"`
}

// EncodeAuthToken serializes a credential into a frame body. The
// credential is not enveloped: it is the only message valid in its
// position.
func EncodeAuthToken(token AuthToken) ([]byte, error) {
	body, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("encoding credential: %w", err)
	}
	return body, nil
}

// DecodeAuthToken parses a frame body as a credential. Missing fields
// decode as empty strings and fail verification rather than parsing.
func DecodeAuthToken(body []byte) (AuthToken, error) {
	var token AuthToken
	if err := codec.Unmarshal(body, &token); err != nil {
		return AuthToken{}, fmt.Errorf("%w: credential: %v", frame.ErrMalformed, err)
	}
	return token, nil
}

// ParsePairingString splits "<id>:<secret>" into a credential.
// Surrounding whitespace is ignored.
func ParsePairingString(pairing string) (AuthToken, error) {
	pairing = strings.TrimSpace(pairing)
	id, secret, found := strings.Cut(pairing, ":")
	if !found || id == "" || secret == "" {
		return AuthToken{}, fmt.Errorf("invalid pairing string: expected <token_id>:<token_secret>")
	}
	return AuthToken{TokenID: id, TokenSecret: secret}, nil
}

// PairingString returns the "<id>:<secret>" form of a credential.
func (t AuthToken) PairingString() string {
	return t.TokenID + ":" + t.TokenSecret
}
