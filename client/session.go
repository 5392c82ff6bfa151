// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/bureau-foundation/vex/lib/protocol"
	"github.com/bureau-foundation/vex/lib/tofu"
)

// ErrUnauthorized is returned when the daemon rejects the credential.
var ErrUnauthorized = errors.New("daemon rejected the credential (token unknown, revoked, or expired; pair again)")

// RemoteError is a protocol.Error returned by the daemon for a command.
type RemoteError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func remoteError(failure protocol.Error) *RemoteError {
	remote := &RemoteError{Code: failure.Code}
	if failure.Message != nil {
		remote.Message = *failure.Message
	}
	return remote
}

// Session is one open, ready connection to a daemon. Commands on a
// Session are sequential.
type Session struct {
	conn   net.Conn
	stream *protocol.Stream

	// Fingerprint is the certificate fingerprint the daemon presented,
	// or "" on the local transport.
	Fingerprint string
	// FirstContact is set when the connection had no pin.
	FirstContact bool
}

// Close closes the connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Do sends command and returns the daemon's response. A protocol.Error
// response is returned as a *RemoteError.
func (s *Session) Do(ctx context.Context, command protocol.Command) (protocol.Response, error) {
	stop := applyDeadline(ctx, s.conn)
	defer stop()
	if err := s.stream.SendCommand(command); err != nil {
		return nil, fmt.Errorf("sending %s: %w", protocol.CommandName(command), contextError(ctx, err))
	}
	response, err := s.stream.ReceiveResponse()
	if err != nil {
		return nil, fmt.Errorf("reading response to %s: %w", protocol.CommandName(command), contextError(ctx, err))
	}
	if failure, ok := response.(protocol.Error); ok {
		return nil, remoteError(failure)
	}
	return response, nil
}

// applyDeadline puts ctx's deadline on conn and closes conn if ctx is
// cancelled first. The returned function undoes both.
func applyDeadline(ctx context.Context, conn net.Conn) func() {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	return func() {
		stop()
		conn.SetDeadline(time.Time{})
	}
}

// contextError prefers ctx's error over the I/O error it caused.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// DialLocal opens a session on the daemon's Unix socket. No credential
// is exchanged.
func DialLocal(ctx context.Context, socketPath string) (*Session, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("vexd is not running at %s (start it with 'vexd run'): %w", socketPath, err)
		}
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return &Session{conn: conn, stream: protocol.NewStream(conn)}, nil
}

// dialTLS opens a TLS connection to host and checks the daemon's
// certificate against pinned. It does not send the credential. A pin
// mismatch is returned as a *tofu.MismatchError.
func dialTLS(ctx context.Context, name, host, pinned string) (*tls.Conn, *tofu.Verifier, error) {
	verifier := tofu.NewVerifier(name, pinned)
	dialer := &tls.Dialer{Config: verifier.ClientConfig()}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		if mismatch := verifier.Mismatch(); mismatch != nil {
			return nil, verifier, mismatch
		}
		return nil, verifier, fmt.Errorf("connecting to %s: %w", host, contextError(ctx, err))
	}
	return conn.(*tls.Conn), verifier, nil
}

// authenticate sends the credential frame on a fresh TLS connection and
// waits for Pong.
func authenticate(ctx context.Context, conn net.Conn, credential protocol.AuthToken) (*protocol.Stream, error) {
	stop := applyDeadline(ctx, conn)
	defer stop()
	stream := protocol.NewStream(conn)
	if err := stream.SendAuthToken(credential); err != nil {
		return nil, fmt.Errorf("sending credential: %w", contextError(ctx, err))
	}
	response, err := stream.ReceiveResponse()
	if err != nil {
		return nil, fmt.Errorf("waiting for authentication: %w", contextError(ctx, err))
	}
	switch response := response.(type) {
	case protocol.Pong:
		return stream, nil
	case protocol.Error:
		if response.Code == protocol.CodeUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, remoteError(response)
	default:
		return nil, fmt.Errorf("unexpected %s during authentication", protocol.ResponseName(response))
	}
}

// DialRemote opens an authenticated session to host. pinned is the
// saved fingerprint, or "" for first contact; onFirstContact, if set,
// is called with the observed fingerprint after the TLS handshake and
// before the credential is sent, and may abort the connection by
// returning an error.
func DialRemote(ctx context.Context, name, host, pinned string, credential protocol.AuthToken, onFirstContact func(fingerprint string) error) (*Session, error) {
	conn, verifier, err := dialTLS(ctx, name, host, pinned)
	if err != nil {
		return nil, err
	}
	fingerprint := verifier.Observed()
	if verifier.FirstContact() && onFirstContact != nil {
		if err := onFirstContact(fingerprint); err != nil {
			conn.Close()
			return nil, err
		}
	}
	stream, err := authenticate(ctx, conn, credential)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Session{
		conn:         conn,
		stream:       stream,
		Fingerprint:  fingerprint,
		FirstContact: verifier.FirstContact(),
	}, nil
}
