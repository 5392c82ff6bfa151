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
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Listen when another daemon answers
// on the socket path.
var ErrAlreadyRunning = errors.New("a daemon is already listening on this socket")

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// SocketPath is the Unix socket. Required.
	SocketPath string

	// TCPAddress is the host:port for TLS. Empty disables the remote
	// transport.
	TCPAddress string

	// TLSConfig is the server certificate configuration. Required when
	// TCPAddress is set.
	TLSConfig *tls.Config

	Handler *Handler
	Logger  *slog.Logger
}

// Listener accepts connections on both transports and runs a session
// per connection.
type Listener struct {
	socketPath string
	tlsConfig  *tls.Config
	handler    *Handler
	logger     *slog.Logger

	unixListener net.Listener
	tcpListener  net.Listener

	mu          sync.Mutex
	connections map[net.Conn]struct{}
	closing     bool

	// sessions tracks running session goroutines. Serve waits for them
	// before returning.
	sessions sync.WaitGroup
}

// Listen binds the Unix socket (mode 0600) and, if configured, the TCP
// address. A stale socket file left by a dead daemon is replaced; a
// live one is an error.
func Listen(config ListenerConfig) (*Listener, error) {
	if config.Handler == nil {
		return nil, errors.New("server: Handler is required")
	}
	if config.TCPAddress != "" && config.TLSConfig == nil {
		return nil, errors.New("server: TLSConfig is required with TCPAddress")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := removeStaleSocket(config.SocketPath); err != nil {
		return nil, err
	}
	unixListener, err := net.Listen("unix", config.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", config.SocketPath, err)
	}
	if err := os.Chmod(config.SocketPath, 0600); err != nil {
		unixListener.Close()
		return nil, fmt.Errorf("restricting %s: %w", config.SocketPath, err)
	}

	l := &Listener{
		socketPath:   config.SocketPath,
		tlsConfig:    config.TLSConfig,
		handler:      config.Handler,
		logger:       logger,
		unixListener: unixListener,
		connections:  make(map[net.Conn]struct{}),
	}

	if config.TCPAddress != "" {
		tcpListener, err := net.Listen("tcp", config.TCPAddress)
		if err != nil {
			unixListener.Close()
			os.Remove(config.SocketPath)
			return nil, fmt.Errorf("listening on %s: %w", config.TCPAddress, err)
		}
		l.tcpListener = tcpListener
	}
	return l, nil
}

func removeStaleSocket(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%s: %w", path, ErrAlreadyRunning)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}

// SocketPath returns the Unix socket path.
func (l *Listener) SocketPath() string {
	return l.socketPath
}

// TCPAddr returns the bound TCP address, or nil when the remote
// transport is disabled.
func (l *Listener) TCPAddr() net.Addr {
	if l.tcpListener == nil {
		return nil
	}
	return l.tcpListener.Addr()
}

// Serve runs both accept loops until ctx is cancelled, then closes the
// listeners and every live connection, waits for all sessions to end,
// and removes the socket file.
func (l *Listener) Serve(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return l.acceptLoop(groupCtx, l.unixListener, TransportLocal)
	})
	if l.tcpListener != nil {
		group.Go(func() error {
			return l.acceptLoop(groupCtx, l.tcpListener, TransportRemote)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		l.shutdown()
		return nil
	})

	l.logger.Info("listening", "socket", l.socketPath, "tcp", addrString(l.TCPAddr()))
	err := group.Wait()
	l.sessions.Wait()
	if removeErr := os.Remove(l.socketPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		l.logger.Warn("removing socket", "error", removeErr)
	}
	return err
}

func (l *Listener) shutdown() {
	l.unixListener.Close()
	if l.tcpListener != nil {
		l.tcpListener.Close()
	}
	l.mu.Lock()
	l.closing = true
	for conn := range l.connections {
		conn.Close()
	}
	l.mu.Unlock()
}

// Bounds for the pause after a failed Accept. Running out of file
// descriptors (EMFILE, ENFILE) clears as sessions end, so the loop
// waits and retries instead of returning.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// acceptLoop accepts until ctx is done or listener is closed. Every
// other Accept error is logged and retried after a backoff.
func (l *Listener) acceptLoop(ctx context.Context, listener net.Listener, transport Transport) error {
	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			l.logger.Error("accept failed", "transport", transport.String(), "error", err, "retry_in", backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		backoff = 0

		if transport == TransportLocal && !l.peerAllowed(conn) {
			conn.Close()
			continue
		}
		if !l.track(conn) {
			conn.Close()
			return nil
		}

		l.sessions.Add(1)
		go func() {
			defer l.sessions.Done()
			defer l.untrack(conn)
			sessionConn := conn
			if transport == TransportRemote {
				sessionConn = tls.Server(conn, l.tlsConfig)
			}
			l.handler.ServeConn(ctx, sessionConn, transport)
			sessionConn.Close()
		}()
	}
}

// peerAllowed rejects local peers running as a different, non-root
// user. Platforms without peer credentials rely on the socket mode.
func (l *Listener) peerAllowed(conn net.Conn) bool {
	uid, known, err := peerUID(conn)
	if err != nil {
		l.logger.Warn("reading peer credentials", "error", err)
		return false
	}
	if !known {
		return true
	}
	if uid != uint32(os.Getuid()) && uid != 0 {
		l.logger.Warn("rejecting local connection from another user", "uid", uid)
		return false
	}
	return true
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return false
	}
	l.connections[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.connections, conn)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "disabled"
	}
	return addr.String()
}
