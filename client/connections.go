// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/vex/lib/statefile"
)

var (
	// ErrUnknownConnection is returned for a connection name that is
	// not saved.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNoDefault is returned when a command targets the default
	// connection and none is set.
	ErrNoDefault = errors.New("no default connection set (run 'vex connect' or 'vex use <name>')")
)

// TransportKind is how a saved connection reaches its daemon.
type TransportKind string

const (
	TransportUnix TransportKind = "unix"
	TransportTCP  TransportKind = "tcp"
)

// Connection is a saved daemon connection.
type Connection struct {
	// Name is the key in the connections file.
	Name string `yaml:"-"`

	Transport  TransportKind `yaml:"transport"`
	UnixSocket string        `yaml:"unix_socket,omitempty"`
	TCPHost    string        `yaml:"tcp_host,omitempty"`

	TokenID     string `yaml:"token_id,omitempty"`
	TokenSecret string `yaml:"token_secret,omitempty"`

	// TLSFingerprint is the pinned certificate fingerprint. Empty
	// until the first successful TLS handshake.
	TLSFingerprint string `yaml:"tls_fingerprint,omitempty"`
}

// Remote reports whether the connection uses TLS.
func (c Connection) Remote() bool {
	return c.Transport == TransportTCP
}

// Address is the socket path or host:port, for display.
func (c Connection) Address() string {
	if c.Remote() {
		return c.TCPHost
	}
	return c.UnixSocket
}

type connectionsFile struct {
	DefaultConnection string                `yaml:"default_connection,omitempty"`
	Connections       map[string]Connection `yaml:"connections"`
}

// ConnectionStore is the saved connections file. Every mutation is
// written through before it returns. Safe for concurrent use.
type ConnectionStore struct {
	path string

	mu   sync.Mutex
	file connectionsFile
}

// OpenConnections loads the connections file at path. A missing file
// is an empty store.
func OpenConnections(path string) (*ConnectionStore, error) {
	store := &ConnectionStore{
		path: path,
		file: connectionsFile{Connections: map[string]Connection{}},
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &store.file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if store.file.Connections == nil {
		store.file.Connections = map[string]Connection{}
	}
	for name, connection := range store.file.Connections {
		connection.Name = name
		if connection.Transport == "" {
			connection.Transport = TransportUnix
		}
		store.file.Connections[name] = connection
	}
	return store, nil
}

// Path returns the file the store persists to.
func (s *ConnectionStore) Path() string {
	return s.path
}

// persist writes the file. Callers hold s.mu.
func (s *ConnectionStore) persist() error {
	data, err := yaml.Marshal(&s.file)
	if err != nil {
		return fmt.Errorf("encoding connections: %w", err)
	}
	return statefile.Write(s.path, data, 0600)
}

// Get returns the named connection.
func (s *ConnectionStore) Get(name string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.file.Connections[name]
	if !ok {
		return Connection{}, fmt.Errorf("%w %q", ErrUnknownConnection, name)
	}
	return connection, nil
}

// List returns every connection ordered by name.
func (s *ConnectionStore) List() []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	connections := make([]Connection, 0, len(s.file.Connections))
	for _, connection := range s.file.Connections {
		connections = append(connections, connection)
	}
	sort.Slice(connections, func(i, j int) bool { return connections[i].Name < connections[j].Name })
	return connections
}

// Default returns the default connection name, or "".
func (s *ConnectionStore) Default() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.DefaultConnection
}

// SetDefault makes name the default connection.
func (s *ConnectionStore) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.file.Connections[name]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownConnection, name)
	}
	previous := s.file.DefaultConnection
	s.file.DefaultConnection = name
	if err := s.persist(); err != nil {
		s.file.DefaultConnection = previous
		return err
	}
	return nil
}

// Save adds or replaces a connection. The first connection saved
// becomes the default.
func (s *ConnectionStore) Save(connection Connection) error {
	if connection.Name == "" {
		return errors.New("connection name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.file.Connections[connection.Name]
	previousDefault := s.file.DefaultConnection

	s.file.Connections[connection.Name] = connection
	if s.file.DefaultConnection == "" {
		s.file.DefaultConnection = connection.Name
	}
	if err := s.persist(); err != nil {
		if existed {
			s.file.Connections[connection.Name] = previous
		} else {
			delete(s.file.Connections, connection.Name)
		}
		s.file.DefaultConnection = previousDefault
		return err
	}
	return nil
}

// Remove deletes a connection. If it was the default, the
// alphabetically first remaining connection becomes the default.
func (s *ConnectionStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.file.Connections[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownConnection, name)
	}
	previousDefault := s.file.DefaultConnection

	delete(s.file.Connections, name)
	if s.file.DefaultConnection == name {
		s.file.DefaultConnection = s.firstName()
	}
	if err := s.persist(); err != nil {
		s.file.Connections[name] = previous
		s.file.DefaultConnection = previousDefault
		return err
	}
	return nil
}

// RemoveAll deletes every connection and returns how many there were.
func (s *ConnectionStore) RemoveAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.file
	count := len(s.file.Connections)
	s.file = connectionsFile{Connections: map[string]Connection{}}
	if err := s.persist(); err != nil {
		s.file = previous
		return 0, err
	}
	return count, nil
}

// Pin records fingerprint for a remote connection. Unless overwrite is
// set, an existing pin is left alone and Pin reports false.
func (s *ConnectionStore) Pin(name, fingerprint string, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.file.Connections[name]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownConnection, name)
	}
	if connection.TLSFingerprint != "" && !overwrite {
		return false, nil
	}
	previous := connection.TLSFingerprint
	connection.TLSFingerprint = fingerprint
	s.file.Connections[name] = connection
	if err := s.persist(); err != nil {
		connection.TLSFingerprint = previous
		s.file.Connections[name] = connection
		return false, err
	}
	return true, nil
}

// firstName returns the alphabetically first connection name. Callers
// hold s.mu.
func (s *ConnectionStore) firstName() string {
	names := make([]string, 0, len(s.file.Connections))
	for name := range s.file.Connections {
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	return slices.Min(names)
}

// Target selects the connections a command goes to.
type Target struct {
	// All sends to every saved connection. Name is ignored.
	All bool
	// Name selects one connection. Empty means the default.
	Name string
}

// AllConnections targets every saved connection.
func AllConnections() Target { return Target{All: true} }

// Named targets one connection.
func Named(name string) Target { return Target{Name: name} }

// DefaultConnection targets the default connection.
func DefaultConnection() Target { return Target{} }

// Resolve returns the connections target selects, ordered by name.
func (s *ConnectionStore) Resolve(target Target) ([]Connection, error) {
	if target.All {
		return s.List(), nil
	}
	name := target.Name
	if name == "" {
		name = s.Default()
		if name == "" {
			return nil, ErrNoDefault
		}
	}
	connection, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return []Connection{connection}, nil
}
