// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/vex/lib/config"
	"github.com/bureau-foundation/vex/lib/protocol"
	"github.com/bureau-foundation/vex/lib/tofu"
)

// DefaultTimeout bounds each connection's dial, handshake, and command.
const DefaultTimeout = 10 * time.Second

// DefaultConnectionName is used by Connect when no name is given.
const DefaultConnectionName = "default"

// Options configures a Client.
type Options struct {
	// Timeout applies to each target separately. Defaults to
	// DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client sends commands to saved connections.
type Client struct {
	store   *ConnectionStore
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a Client over store.
func New(store *ConnectionStore, options Options) *Client {
	c := &Client{store: store, timeout: options.Timeout, logger: options.Logger}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Store returns the connection store.
func (c *Client) Store() *ConnectionStore {
	return c.store
}

// ParseHost normalizes a host with an optional port, filling in the
// default TCP port. Bare and bracketed IPv6 literals are accepted.
func ParseHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.New("host must not be empty")
	}
	if name, port, err := net.SplitHostPort(host); err == nil {
		if name == "" {
			return "", fmt.Errorf("invalid host %q: missing hostname", host)
		}
		number, err := strconv.ParseUint(port, 10, 16)
		if err != nil || number == 0 {
			return "", fmt.Errorf("invalid host %q: bad port %q", host, port)
		}
		return host, nil
	}
	name := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if name == "" {
		return "", fmt.Errorf("invalid host %q", host)
	}
	return net.JoinHostPort(name, strconv.Itoa(config.DefaultTCPPort)), nil
}

// ConnectRequest describes a connection to establish and save.
type ConnectRequest struct {
	// Name defaults to DefaultConnectionName.
	Name string

	// Host is host[:port] for a remote connection. Empty means local.
	Host string
	// Credential is required for a remote connection.
	Credential *protocol.AuthToken

	// SocketPath is the daemon socket for a local connection.
	SocketPath string
}

// Connect performs a complete handshake with the described daemon and,
// only if it succeeds, saves the connection (including the observed
// certificate fingerprint). Reconnecting an existing remote name at the
// same host keeps checking the saved pin.
func (c *Client) Connect(ctx context.Context, request ConnectRequest) (Connection, error) {
	name := request.Name
	if name == "" {
		name = DefaultConnectionName
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if request.Host == "" {
		if request.SocketPath == "" {
			return Connection{}, errors.New("a socket path is required for a local connection")
		}
		session, err := DialLocal(ctx, request.SocketPath)
		if err != nil {
			return Connection{}, err
		}
		_, err = session.Do(ctx, protocol.Status{})
		session.Close()
		if err != nil {
			return Connection{}, err
		}
		connection := Connection{Name: name, Transport: TransportUnix, UnixSocket: request.SocketPath}
		if err := c.store.Save(connection); err != nil {
			return Connection{}, err
		}
		c.logger.Info("saved local connection", "connection", name, "socket", request.SocketPath)
		return connection, nil
	}

	if request.Credential == nil {
		return Connection{}, errors.New("a pairing credential is required for a remote connection")
	}
	host, err := ParseHost(request.Host)
	if err != nil {
		return Connection{}, err
	}
	pinned := ""
	if existing, err := c.store.Get(name); err == nil && existing.Remote() && existing.TCPHost == host {
		pinned = existing.TLSFingerprint
	}

	session, err := DialRemote(ctx, name, host, pinned, *request.Credential, nil)
	if err != nil {
		return Connection{}, err
	}
	session.Close()

	connection := Connection{
		Name:           name,
		Transport:      TransportTCP,
		TCPHost:        host,
		TokenID:        request.Credential.TokenID,
		TokenSecret:    request.Credential.TokenSecret,
		TLSFingerprint: session.Fingerprint,
	}
	if err := c.store.Save(connection); err != nil {
		return Connection{}, err
	}
	c.logger.Info("saved remote connection", "connection", name, "host", host,
		"fingerprint", session.Fingerprint, "first_contact", session.FirstContact)
	return connection, nil
}

// Repinned describes a replaced pin.
type Repinned struct {
	Previous string
	Current  string
}

// Repin trusts whatever certificate the named connection's daemon now
// presents and replaces the saved pin with it. Only the TLS handshake
// is performed; the credential is not sent.
func (c *Client) Repin(ctx context.Context, name string) (Repinned, error) {
	connection, err := c.store.Get(name)
	if err != nil {
		return Repinned{}, err
	}
	if !connection.Remote() {
		return Repinned{}, fmt.Errorf("connection %q is local; only TCP connections have a pinned certificate", name)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, verifier, err := dialTLS(ctx, name, connection.TCPHost, "")
	if err != nil {
		return Repinned{}, err
	}
	conn.Close()

	current := verifier.Observed()
	if _, err := c.store.Pin(name, current, true); err != nil {
		return Repinned{}, err
	}
	c.logger.Info("replaced pinned certificate", "connection", name,
		"previous", connection.TLSFingerprint, "current", current)
	return Repinned{Previous: connection.TLSFingerprint, Current: current}, nil
}

// Result is one target's outcome from Dispatch. Exactly one of
// Response and Err is set.
type Result struct {
	Connection Connection
	Response   protocol.Response
	Err        error
}

// Dispatch sends command to every connection target selects,
// concurrently, and returns one Result per connection ordered by name.
// A failure on one target does not affect the others. The error return
// is only for target resolution.
func (c *Client) Dispatch(ctx context.Context, command protocol.Command, target Target) ([]Result, error) {
	connections, err := c.store.Resolve(target)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(connections))
	var wg sync.WaitGroup
	for i, connection := range connections {
		wg.Go(func() {
			response, err := c.execute(ctx, connection, command)
			results[i] = Result{Connection: connection, Response: response, Err: err}
		})
	}
	wg.Wait()
	return results, nil
}

// Do sends command to one connection. An empty name means the default.
func (c *Client) Do(ctx context.Context, name string, command protocol.Command) (protocol.Response, error) {
	results, err := c.Dispatch(ctx, command, Named(name))
	if err != nil {
		return nil, err
	}
	return results[0].Response, results[0].Err
}

func (c *Client) execute(ctx context.Context, connection Connection, command protocol.Command) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.open(ctx, connection)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.Do(ctx, command)
}

func (c *Client) open(ctx context.Context, connection Connection) (*Session, error) {
	switch connection.Transport {
	case TransportUnix:
		return DialLocal(ctx, connection.UnixSocket)
	case TransportTCP:
		credential := protocol.AuthToken{TokenID: connection.TokenID, TokenSecret: connection.TokenSecret}
		return DialRemote(ctx, connection.Name, connection.TCPHost, connection.TLSFingerprint, credential,
			func(fingerprint string) error {
				return c.pinFirstContact(connection.Name, fingerprint)
			})
	default:
		return nil, fmt.Errorf("connection %q has unknown transport %q", connection.Name, connection.Transport)
	}
}

// pinFirstContact stores fingerprint as name's pin. If another dispatch
// pinned name in the meantime, fingerprint must match that pin.
func (c *Client) pinFirstContact(name, fingerprint string) error {
	pinned, err := c.store.Pin(name, fingerprint, false)
	if err != nil {
		return fmt.Errorf("saving certificate pin: %w", err)
	}
	if pinned {
		c.logger.Info("pinned certificate on first contact", "connection", name, "fingerprint", fingerprint)
		return nil
	}
	current, err := c.store.Get(name)
	if err != nil {
		return err
	}
	if current.TLSFingerprint != fingerprint {
		return &tofu.MismatchError{Connection: name, Expected: current.TLSFingerprint, Actual: fingerprint}
	}
	return nil
}
