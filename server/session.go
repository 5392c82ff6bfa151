// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/vex/lib/clock"
	"github.com/bureau-foundation/vex/lib/frame"
	"github.com/bureau-foundation/vex/lib/netutil"
	"github.com/bureau-foundation/vex/lib/pairing"
	"github.com/bureau-foundation/vex/lib/protocol"
)

// Transport is how a connection reached the daemon.
type Transport int

const (
	// TransportLocal is the Unix socket. Connections are trusted.
	TransportLocal Transport = iota
	// TransportRemote is TLS over TCP. Connections must authenticate.
	TransportRemote
)

func (t Transport) String() string {
	switch t {
	case TransportLocal:
		return "local"
	case TransportRemote:
		return "tcp"
	default:
		return fmt.Sprintf("Transport(%d)", int(t))
	}
}

// State is a session's position in its lifecycle.
type State int

const (
	StateAccepted State = iota
	StateAuthenticating
	StateReady
	StateClosed
	// StateUnauthorized is terminal: the credential was rejected.
	StateUnauthorized
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Collaborator carries out domain commands (repositories, workstreams,
// agents). local reports the session's transport. It always returns a
// Response; failures are protocol.Error values.
type Collaborator interface {
	Handle(ctx context.Context, command protocol.Command, local bool) protocol.Response
}

// DefaultAuthTimeout bounds both the TLS handshake and the wait for the
// credential frame.
const DefaultAuthTimeout = 10 * time.Second

// writeTimeout bounds each response write so a client that stops
// reading cannot pin a session forever.
const writeTimeout = 10 * time.Second

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Tokens       *pairing.Store
	Collaborator Collaborator
	Clock        clock.Clock
	Logger       *slog.Logger

	// Version is reported in DaemonStatus.
	Version string

	// AdvertiseHost is placed in Pair responses. Empty means none.
	AdvertiseHost string

	// AuthTimeout defaults to DefaultAuthTimeout.
	AuthTimeout time.Duration
}

// Handler runs sessions. It is shared by every connection on both
// transports.
type Handler struct {
	tokens        *pairing.Store
	collaborator  Collaborator
	clock         clock.Clock
	logger        *slog.Logger
	version       string
	advertiseHost string
	authTimeout   time.Duration
	startedAt     time.Time

	ready atomic.Int32
}

// NewHandler returns a Handler. Tokens is required.
func NewHandler(config HandlerConfig) *Handler {
	h := &Handler{
		tokens:        config.Tokens,
		collaborator:  config.Collaborator,
		clock:         config.Clock,
		logger:        config.Logger,
		version:       config.Version,
		advertiseHost: config.AdvertiseHost,
		authTimeout:   config.AuthTimeout,
	}
	if h.clock == nil {
		h.clock = clock.Real()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.authTimeout <= 0 {
		h.authTimeout = DefaultAuthTimeout
	}
	h.startedAt = h.clock.Now()
	return h
}

// ConnectedClients returns the number of sessions in Ready across both
// transports.
func (h *Handler) ConnectedClients() uint32 {
	return uint32(h.ready.Load())
}

// Uptime returns how long the handler has existed.
func (h *Handler) Uptime() time.Duration {
	return clock.Since(h.clock, h.startedAt)
}

// session is the per-connection state. Only ServeConn's goroutine
// touches it.
type session struct {
	handler   *Handler
	conn      net.Conn
	transport Transport
	stream    *protocol.Stream
	logger    *slog.Logger

	state State
	// tokenID is the authenticated token, nil on the local transport.
	tokenID *string
}

// ServeConn runs one connection's session to completion and returns the
// state it ended in. It does not close conn; the caller does. A remote
// conn that is a *tls.Conn has its handshake performed here.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn, transport Transport) State {
	s := &session{
		handler:   h,
		conn:      conn,
		transport: transport,
		stream:    protocol.NewStream(conn),
		logger:    h.logger.With("session", uuid.NewString(), "transport", transport.String()),
		state:     StateAccepted,
	}
	s.logger.Debug("connection accepted", "remote", conn.RemoteAddr().String())
	s.run(ctx)
	s.logger.Debug("session ended", "state", s.state.String())
	return s.state
}

func (s *session) run(ctx context.Context) {
	if s.transport == TransportRemote {
		s.state = StateAuthenticating
		if !s.authenticate(ctx) {
			return
		}
	}

	s.state = StateReady
	s.handler.ready.Add(1)
	defer s.handler.ready.Add(-1)

	for {
		command, err := s.stream.ReceiveCommand()
		if err != nil {
			s.state = StateClosed
			switch {
			case netutil.IsExpectedCloseError(err):
			case errors.Is(err, frame.ErrMalformed):
				s.logger.Warn("closing session on malformed frame", "error", err)
			default:
				s.logger.Debug("closing session on read error", "error", err)
			}
			return
		}

		response := s.dispatch(ctx, command)
		if failure, ok := response.(protocol.Error); ok {
			s.logger.Info("command failed", "command", protocol.CommandName(command), "error", failure.Error())
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.stream.SendResponse(response); err != nil {
			s.state = StateClosed
			s.logger.Debug("closing session on write error", "error", err)
			return
		}
		s.conn.SetWriteDeadline(time.Time{})
	}
}

// authenticate runs the TLS handshake (if any) and the credential
// exchange. It reports whether the session may proceed to Ready.
func (s *session) authenticate(ctx context.Context) bool {
	deadline := time.Now().Add(s.handler.authTimeout)
	if tlsConn, ok := s.conn.(*tls.Conn); ok {
		handshakeCtx, cancel := context.WithDeadline(ctx, deadline)
		err := tlsConn.HandshakeContext(handshakeCtx)
		cancel()
		if err != nil {
			s.state = StateClosed
			s.logger.Debug("TLS handshake failed", "error", err)
			return false
		}
	}

	s.conn.SetDeadline(time.Now().Add(s.handler.authTimeout))
	credential, err := s.stream.ReceiveAuthToken()
	if err != nil {
		s.state = StateClosed
		if netutil.IsExpectedCloseError(err) {
			s.logger.Debug("peer closed before sending a credential")
		} else {
			s.logger.Info("no valid credential frame", "error", err)
		}
		return false
	}

	tokenID, err := s.handler.tokens.Verify(credential.TokenID, credential.TokenSecret)
	if err != nil {
		s.state = StateUnauthorized
		s.logger.Warn("authentication failed", "token", credential.TokenID)
		if sendErr := s.stream.SendResponse(protocol.NewError(protocol.CodeUnauthorized)); sendErr != nil {
			s.logger.Debug("writing unauthorized response", "error", sendErr)
		}
		return false
	}

	if err := s.stream.SendResponse(protocol.Pong{}); err != nil {
		s.state = StateClosed
		s.logger.Debug("writing pong", "error", err)
		return false
	}
	s.conn.SetDeadline(time.Time{})
	s.tokenID = &tokenID
	s.logger = s.logger.With("token", tokenID)
	s.logger.Info("client authenticated")
	return true
}

func (s *session) local() bool {
	return s.transport == TransportLocal
}

// dispatch answers one command. Every Command variant is listed.
func (s *session) dispatch(ctx context.Context, command protocol.Command) protocol.Response {
	switch command := command.(type) {
	case protocol.Status:
		return protocol.DaemonStatus{
			UptimeSecs:       uint64(s.handler.Uptime() / time.Second),
			ConnectedClients: s.handler.ConnectedClients(),
			Version:          s.handler.version,
		}

	case protocol.Whoami:
		return protocol.ClientInfo{TokenID: s.tokenID, IsLocal: s.local()}

	case protocol.PairCreate:
		if !s.local() {
			return protocol.NewError(protocol.CodeLocalOnly)
		}
		return s.pairCreate(command)

	case protocol.PairList:
		if !s.local() {
			return protocol.NewError(protocol.CodeLocalOnly)
		}
		return s.pairList()

	case protocol.PairRevoke:
		if !s.local() {
			return protocol.NewError(protocol.CodeLocalOnly)
		}
		err := s.handler.tokens.Revoke(command.ID)
		switch {
		case errors.Is(err, pairing.ErrNotFound):
			return protocol.NewError(protocol.CodeNotFound)
		case err != nil:
			return protocol.Internal(err.Error())
		}
		s.logger.Info("token revoked", "revoked", command.ID)
		return protocol.OK{}

	case protocol.PairRevokeAll:
		if !s.local() {
			return protocol.NewError(protocol.CodeLocalOnly)
		}
		count, err := s.handler.tokens.RevokeAll()
		if err != nil {
			return protocol.Internal(err.Error())
		}
		s.logger.Info("all tokens revoked", "count", count)
		return protocol.Revoked{Count: uint32(count)}

	case protocol.RepoRegister, protocol.RepoList, protocol.RepoUnregister,
		protocol.WorkstreamCreate, protocol.WorkstreamList, protocol.WorkstreamDelete,
		protocol.AgentSpawn, protocol.AgentKill, protocol.AgentList:
		if s.handler.collaborator == nil {
			return protocol.Internal("workstream management is not available")
		}
		return s.handler.collaborator.Handle(ctx, command, s.local())

	default:
		return protocol.Internal(fmt.Sprintf("unsupported command %s", protocol.CommandName(command)))
	}
}

func (s *session) pairCreate(command protocol.PairCreate) protocol.Response {
	payload, err := s.handler.tokens.Issue(command.Label, command.ExpireSecs)
	if err != nil {
		return protocol.Internal(err.Error())
	}
	s.logger.Info("token issued", "issued", payload.ID)
	response := protocol.Pair{TokenID: payload.ID, TokenSecret: payload.Secret}
	if s.handler.advertiseHost != "" {
		host := s.handler.advertiseHost
		response.Host = &host
	}
	return response
}

func (s *session) pairList() protocol.Response {
	tokens := s.handler.tokens.List()
	clients := make([]protocol.PairedClient, 0, len(tokens))
	for _, token := range tokens {
		clients = append(clients, protocol.PairedClient{
			TokenID:   token.ID,
			Label:     token.Label,
			CreatedAt: token.CreatedAt.Unix(),
			ExpiresAt: unixPointer(token.ExpiresAt),
			LastSeen:  unixPointer(token.LastSeen),
			Revoked:   token.Revoked,
		})
	}
	return protocol.PairedClients{Clients: clients}
}

func unixPointer(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	seconds := t.Unix()
	return &seconds
}
