// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/vex/lib/clock"
	"github.com/bureau-foundation/vex/lib/statefile"
)

// maxIDAttempts bounds id generation. The id space is 2^24; hitting
// the bound means the registry is nearly full, not bad luck.
const maxIDAttempts = 64

// LastSeenWriteInterval is the minimum time between registry writes
// caused only by authentications. Newer last-seen times stay in memory
// until the next write or Flush.
const LastSeenWriteInterval = time.Minute

// storeFile is the on-disk layout of the token registry.
type storeFile struct {
	Version int     `cbor:"version"`
	Tokens  []Token `cbor:"tokens"`
}

const storeFileVersion = 1

// Store is the token registry. Construct with Open or NewMemoryStore
// and share one *Store between every session.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*Token

	path   string
	clock  clock.Clock
	logger *slog.Logger
	random io.Reader

	// lastWrite is when the registry was last written; lastSeenDirty
	// reports a last-seen update not yet on disk.
	lastWrite     time.Time
	lastSeenDirty bool
}

// Open loads the registry at path, or starts an empty one if the file
// does not exist. Every mutation is written back to path atomically
// with mode 0600.
func Open(path string, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	store := newStore(clk, logger)
	store.path = path

	var file storeFile
	found, err := statefile.ReadCBOR(path, &file)
	if err != nil {
		return nil, fmt.Errorf("loading token registry: %w", err)
	}
	if found {
		if file.Version != storeFileVersion {
			return nil, fmt.Errorf("token registry %s has version %d, want %d", path, file.Version, storeFileVersion)
		}
		for i := range file.Tokens {
			token := file.Tokens[i]
			store.tokens[token.ID] = &token
		}
	}
	logger.Debug("token registry loaded", "path", path, "tokens", len(store.tokens))
	return store, nil
}

// NewMemoryStore returns a registry that is never persisted.
func NewMemoryStore(clk clock.Clock, logger *slog.Logger) *Store {
	return newStore(clk, logger)
}

func newStore(clk clock.Clock, logger *slog.Logger) *Store {
	return &Store{
		tokens: make(map[string]*Token),
		clock:  clk,
		logger: logger,
		random: defaultRandom,
	}
}

// Issue creates a token and returns its one-time payload. A nil
// expireSecs means the token never expires; zero means it is expired
// from the moment it is issued.
func (s *Store) Issue(label *string, expireSecs *uint64) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.unusedID()
	if err != nil {
		return Payload{}, err
	}
	secret, verifier, err := newSecret(s.random)
	if err != nil {
		return Payload{}, err
	}

	now := s.clock.Now()
	token := &Token{
		ID:        id,
		Verifier:  verifier,
		Label:     copyPointer(label),
		CreatedAt: now,
	}
	if expireSecs != nil {
		expiresAt := now.Add(secondsToDuration(*expireSecs))
		token.ExpiresAt = &expiresAt
	}

	s.tokens[id] = token
	if err := s.persist(); err != nil {
		delete(s.tokens, id)
		return Payload{}, err
	}

	if token.ExpiresAt != nil {
		s.logger.Info("pairing token issued", "token_id", id, "expires_at", *token.ExpiresAt)
	} else {
		s.logger.Info("pairing token issued", "token_id", id)
	}
	return Payload{ID: id, Secret: secret}, nil
}

// unusedID returns an id that no token, revoked or not, has ever had.
func (s *Store) unusedID() (string, error) {
	for range maxIDAttempts {
		id, err := newID(s.random)
		if err != nil {
			return "", err
		}
		if _, taken := s.tokens[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("no unused token id after %d attempts", maxIDAttempts)
}

// Verify checks a presented credential and returns the token id as the
// session identity. On success the token's last-seen time is updated.
func (s *Store) Verify(id, secret string) (string, error) {
	presented := presentedDigest(secret)

	s.mu.Lock()
	defer s.mu.Unlock()

	token, exists := s.tokens[id]
	if !exists || presented == nil {
		return "", ErrUnauthorized
	}
	stored, err := hex.DecodeString(token.Verifier)
	if err != nil || subtle.ConstantTimeCompare(presented, stored) != 1 {
		return "", ErrUnauthorized
	}
	now := s.clock.Now()
	if !token.ValidAt(now) {
		return "", ErrUnauthorized
	}

	token.LastSeen = &now
	s.lastSeenDirty = true
	if now.Sub(s.lastWrite) >= LastSeenWriteInterval {
		if err := s.persist(); err != nil {
			s.logger.Warn("recording token last-seen failed", "token_id", id, "error", err)
		}
	}
	return id, nil
}

// Flush writes last-seen times still held only in memory. The daemon
// calls it on shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastSeenDirty {
		return nil
	}
	return s.persist()
}

// presentedDigest returns the raw blake3 digest of a hex secret, or nil
// if the secret is not hex.
func presentedDigest(secret string) []byte {
	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) == 0 {
		return nil
	}
	sum := blake3.Sum256(raw)
	return sum[:]
}

// Revoke permanently revokes the token with the given id. Revoking an
// already revoked token succeeds and changes nothing. An id that was
// never issued returns ErrNotFound.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, exists := s.tokens[id]
	if !exists {
		return ErrNotFound
	}
	if token.Revoked {
		return nil
	}

	token.Revoked = true
	if err := s.persist(); err != nil {
		token.Revoked = false
		return err
	}
	s.logger.Info("pairing token revoked", "token_id", id)
	return nil
}

// RevokeAll revokes every currently valid token and returns how many
// it revoked. Expired tokens are left as they are and not counted.
func (s *Store) RevokeAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var changed []*Token
	for _, token := range s.tokens {
		if token.ValidAt(now) {
			token.Revoked = true
			changed = append(changed, token)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	if err := s.persist(); err != nil {
		for _, token := range changed {
			token.Revoked = false
		}
		return 0, err
	}
	s.logger.Info("all pairing tokens revoked", "count", len(changed))
	return len(changed), nil
}

// List returns metadata for every token ever issued, oldest first.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]Info, 0, len(s.tokens))
	for _, token := range s.tokens {
		infos = append(infos, token.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// persist writes the registry. Callers hold s.mu.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	file := storeFile{Version: storeFileVersion, Tokens: make([]Token, 0, len(s.tokens))}
	for _, token := range s.tokens {
		file.Tokens = append(file.Tokens, *token)
	}
	sort.Slice(file.Tokens, func(i, j int) bool { return file.Tokens[i].ID < file.Tokens[j].ID })
	if err := statefile.WriteCBOR(s.path, file); err != nil {
		return fmt.Errorf("saving token registry: %w", err)
	}
	s.lastWrite = s.clock.Now()
	s.lastSeenDirty = false
	return nil
}

// secondsToDuration converts a wire lifetime, saturating instead of
// overflowing time.Duration.
func secondsToDuration(seconds uint64) time.Duration {
	const maxSeconds = uint64(math.MaxInt64 / int64(time.Second))
	if seconds > maxSeconds {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds) * time.Second
}
