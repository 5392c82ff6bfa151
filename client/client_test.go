// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/vex/lib/clock"
	"github.com/bureau-foundation/vex/lib/pairing"
	"github.com/bureau-foundation/vex/lib/protocol"
	"github.com/bureau-foundation/vex/lib/testutil"
	"github.com/bureau-foundation/vex/lib/tlscert"
	"github.com/bureau-foundation/vex/lib/tofu"
	"github.com/bureau-foundation/vex/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testDaemon is an in-process daemon listening on a Unix socket and on
// TLS over loopback.
type testDaemon struct {
	socket      string
	host        string
	fingerprint string
	tokens      *pairing.Store
	clock       *clock.FakeClock
}

func startDaemon(t *testing.T) *testDaemon {
	t.Helper()
	return startDaemonWithTLS(t, t.TempDir())
}

func startDaemonWithTLS(t *testing.T, tlsDir string) *testDaemon {
	t.Helper()
	identity, err := tlscert.LoadOrGenerate(tlsDir, []string{"127.0.0.1"}, time.Now())
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	tokens := pairing.NewMemoryStore(fakeClock, testLogger())
	handler := server.NewHandler(server.HandlerConfig{
		Tokens:  tokens,
		Clock:   fakeClock,
		Logger:  testLogger(),
		Version: "test",
	})
	listener, err := server.Listen(server.ListenerConfig{
		SocketPath: filepath.Join(testutil.SocketDir(t), "vexd.sock"),
		TCPAddress: "127.0.0.1:0",
		TLSConfig:  identity.ServerConfig(),
		Handler:    handler,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for daemon shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	return &testDaemon{
		socket:      listener.SocketPath(),
		host:        listener.TCPAddr().String(),
		fingerprint: identity.Fingerprint,
		tokens:      tokens,
		clock:       fakeClock,
	}
}

func (d *testDaemon) pair(t *testing.T, expireSecs *uint64) protocol.AuthToken {
	t.Helper()
	payload, err := d.tokens.Issue(nil, expireSecs)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return protocol.AuthToken{TokenID: payload.ID, TokenSecret: payload.Secret}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	store, _ := openTestConnections(t)
	return New(store, Options{Timeout: 5 * time.Second, Logger: testLogger()})
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"example.com", "example.com:7422", true},
		{"example.com:9000", "example.com:9000", true},
		{"10.1.2.3", "10.1.2.3:7422", true},
		{"::1", "[::1]:7422", true},
		{"[::1]", "[::1]:7422", true},
		{"[::1]:8000", "[::1]:8000", true},
		{"  host  ", "host:7422", true},
		{"", "", false},
		{":7422", "", false},
		{"host:0", "", false},
		{"host:http", "", false},
		{"host:70000", "", false},
	}
	for _, test := range tests {
		got, err := ParseHost(test.input)
		if test.ok != (err == nil) {
			t.Errorf("ParseHost(%q) error = %v, want ok=%v", test.input, err, test.ok)
			continue
		}
		if got != test.want {
			t.Errorf("ParseHost(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestConnectLocal(t *testing.T) {
	daemon := startDaemon(t)
	c := newTestClient(t)
	ctx := context.Background()

	connection, err := c.Connect(ctx, ConnectRequest{SocketPath: daemon.socket})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if connection.Name != DefaultConnectionName || connection.Remote() {
		t.Errorf("saved connection = %+v", connection)
	}

	response, err := c.Do(ctx, "", protocol.Whoami{})
	if err != nil {
		t.Fatalf("Whoami: %v", err)
	}
	info, ok := response.(protocol.ClientInfo)
	if !ok || !info.IsLocal || info.TokenID != nil {
		t.Errorf("Whoami = %#v, want local with no token", response)
	}
}

func TestConnectLocal_DaemonNotRunning(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Connect(context.Background(), ConnectRequest{
		Name:       "nowhere",
		SocketPath: filepath.Join(testutil.SocketDir(t), "missing.sock"),
	})
	if err == nil {
		t.Fatal("Connect to a missing socket succeeded")
	}
	if len(c.Store().List()) != 0 {
		t.Errorf("failed Connect saved a connection: %v", c.Store().List())
	}
}

func TestConnectRemote_PinsAndAuthenticates(t *testing.T) {
	daemon := startDaemon(t)
	credential := daemon.pair(t, nil)
	c := newTestClient(t)
	ctx := context.Background()

	connection, err := c.Connect(ctx, ConnectRequest{Name: "remote", Host: daemon.host, Credential: &credential})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if connection.TLSFingerprint != daemon.fingerprint {
		t.Errorf("pinned %q, want daemon fingerprint %q", connection.TLSFingerprint, daemon.fingerprint)
	}

	response, err := c.Do(ctx, "remote", protocol.Whoami{})
	if err != nil {
		t.Fatalf("Whoami: %v", err)
	}
	info, ok := response.(protocol.ClientInfo)
	if !ok || info.IsLocal || info.TokenID == nil || *info.TokenID != credential.TokenID {
		t.Errorf("Whoami = %#v, want token %s", response, credential.TokenID)
	}
}

func TestConnectRemote_BadCredentialSavesNothing(t *testing.T) {
	daemon := startDaemon(t)
	daemon.pair(t, nil)
	c := newTestClient(t)

	_, err := c.Connect(context.Background(), ConnectRequest{
		Name:       "remote",
		Host:       daemon.host,
		Credential: &protocol.AuthToken{TokenID: "tok_000000", TokenSecret: "wrong"},
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Connect error = %v, want ErrUnauthorized", err)
	}
	if _, err := c.Store().Get("remote"); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("rejected connection was saved")
	}
}

func TestConnectRemote_RequiresCredential(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Connect(context.Background(), ConnectRequest{Host: "127.0.0.1:1"}); err == nil {
		t.Fatal("remote Connect without a credential succeeded")
	}
}

func TestDispatch_PinMismatchFailsBeforeCredential(t *testing.T) {
	daemon := startDaemon(t)
	c := newTestClient(t)

	// The credential is garbage: reaching the daemon's credential check
	// would produce ErrUnauthorized, not a mismatch.
	mustSave(t, c.Store(), Connection{
		Name:           "remote",
		Transport:      TransportTCP,
		TCPHost:        daemon.host,
		TokenID:        "tok_000000",
		TokenSecret:    "garbage",
		TLSFingerprint: "0000000000000000000000000000000000000000000000000000000000000000",
	})

	_, err := c.Do(context.Background(), "remote", protocol.Status{})
	var mismatch *tofu.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Dispatch error = %v, want *tofu.MismatchError", err)
	}
	if mismatch.Actual != daemon.fingerprint || mismatch.Connection != "remote" {
		t.Errorf("mismatch = %+v", mismatch)
	}
	if !errors.Is(err, tofu.ErrFingerprintMismatch) {
		t.Errorf("mismatch does not wrap ErrFingerprintMismatch")
	}
	connection, _ := c.Store().Get("remote")
	if connection.TLSFingerprint == daemon.fingerprint {
		t.Error("mismatch replaced the saved pin")
	}
}

func TestRepin(t *testing.T) {
	tlsDir := t.TempDir()
	daemon := startDaemonWithTLS(t, tlsDir)
	credential := daemon.pair(t, nil)
	c := newTestClient(t)
	ctx := context.Background()

	const stale = "1111111111111111111111111111111111111111111111111111111111111111"
	mustSave(t, c.Store(), Connection{
		Name:           "remote",
		Transport:      TransportTCP,
		TCPHost:        daemon.host,
		TokenID:        credential.TokenID,
		TokenSecret:    credential.TokenSecret,
		TLSFingerprint: stale,
	})
	if _, err := c.Do(ctx, "remote", protocol.Status{}); !errors.Is(err, tofu.ErrFingerprintMismatch) {
		t.Fatalf("before repin: %v, want fingerprint mismatch", err)
	}

	repinned, err := c.Repin(ctx, "remote")
	if err != nil {
		t.Fatalf("Repin: %v", err)
	}
	if repinned.Previous != stale || repinned.Current != daemon.fingerprint {
		t.Errorf("Repin = %+v", repinned)
	}
	if _, err := c.Do(ctx, "remote", protocol.Status{}); err != nil {
		t.Fatalf("after repin: %v", err)
	}
}

func TestRepin_LocalConnection(t *testing.T) {
	c := newTestClient(t)
	mustSave(t, c.Store(), Connection{Name: "local", Transport: TransportUnix, UnixSocket: "/s"})
	if _, err := c.Repin(context.Background(), "local"); err == nil {
		t.Fatal("Repin of a local connection succeeded")
	}
}

func TestDispatch_FirstContactPersistsPin(t *testing.T) {
	daemon := startDaemon(t)
	credential := daemon.pair(t, nil)
	c := newTestClient(t)
	mustSave(t, c.Store(), Connection{
		Name:        "remote",
		Transport:   TransportTCP,
		TCPHost:     daemon.host,
		TokenID:     credential.TokenID,
		TokenSecret: credential.TokenSecret,
	})

	if _, err := c.Do(context.Background(), "remote", protocol.Status{}); err != nil {
		t.Fatalf("Status: %v", err)
	}
	reopened, err := OpenConnections(c.Store().Path())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	connection, _ := reopened.Get("remote")
	if connection.TLSFingerprint != daemon.fingerprint {
		t.Errorf("persisted pin = %q, want %q", connection.TLSFingerprint, daemon.fingerprint)
	}
}

func TestPinFirstContact_ConcurrentPin(t *testing.T) {
	c := newTestClient(t)
	mustSave(t, c.Store(), Connection{Name: "remote", Transport: TransportTCP, TCPHost: "devbox:7422"})

	if err := c.pinFirstContact("remote", "aaaa"); err != nil {
		t.Fatalf("first pin: %v", err)
	}
	// A second first-contact attempt that lost the race sees the same
	// certificate: nothing to do.
	if err := c.pinFirstContact("remote", "aaaa"); err != nil {
		t.Errorf("same fingerprint after a concurrent pin: %v", err)
	}
	// A different certificate is a mismatch against the pin just stored.
	err := c.pinFirstContact("remote", "bbbb")
	var mismatch *tofu.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("different fingerprint after a concurrent pin = %v, want MismatchError", err)
	}
	if mismatch.Expected != "aaaa" || mismatch.Actual != "bbbb" {
		t.Errorf("mismatch = %+v", mismatch)
	}
	connection, _ := c.Store().Get("remote")
	if connection.TLSFingerprint != "aaaa" {
		t.Errorf("pin overwritten to %q", connection.TLSFingerprint)
	}
}

func TestDispatch_StalledPeerTimesOutAlone(t *testing.T) {
	daemon := startDaemon(t)

	// Accepts TCP connections and never speaks.
	stalled, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	held := make(chan net.Conn, 16)
	acceptDone := make(chan struct{})
	t.Cleanup(func() {
		stalled.Close()
		testutil.RequireClosed(t, acceptDone, 5*time.Second, "waiting for the stalled listener")
		close(held)
		for conn := range held {
			conn.Close()
		}
	})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := stalled.Accept()
			if err != nil {
				return
			}
			select {
			case held <- conn:
			default:
				conn.Close()
			}
		}
	}()

	const timeout = 300 * time.Millisecond
	store, _ := openTestConnections(t)
	c := New(store, Options{Timeout: timeout, Logger: testLogger()})
	if _, err := c.Connect(context.Background(), ConnectRequest{Name: "healthy", SocketPath: daemon.socket}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mustSave(t, store, Connection{
		Name:        "stalled",
		Transport:   TransportTCP,
		TCPHost:     stalled.Addr().String(),
		TokenID:     "tok_000000",
		TokenSecret: "secret",
	})

	start := time.Now()
	results, err := c.Dispatch(context.Background(), protocol.Status{}, AllConnections())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("healthy: %v", results[0].Err)
	} else if _, ok := results[0].Response.(protocol.DaemonStatus); !ok {
		t.Errorf("healthy: response %#v", results[0].Response)
	}
	if !errors.Is(results[1].Err, context.DeadlineExceeded) {
		t.Errorf("stalled: err = %v, want deadline exceeded", results[1].Err)
	}
	if elapsed < timeout || elapsed > timeout+3*time.Second {
		t.Errorf("Dispatch took %v with a %v per-connection timeout", elapsed, timeout)
	}
}

func TestDispatch_FanOutIsolatesFailures(t *testing.T) {
	first := startDaemon(t)
	second := startDaemon(t)
	credential := second.pair(t, nil)
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Connect(ctx, ConnectRequest{Name: "b-local", SocketPath: first.socket}); err != nil {
		t.Fatalf("Connect local: %v", err)
	}
	if _, err := c.Connect(ctx, ConnectRequest{Name: "c-remote", Host: second.host, Credential: &credential}); err != nil {
		t.Fatalf("Connect remote: %v", err)
	}
	mustSave(t, c.Store(), Connection{
		Name:       "a-dead",
		Transport:  TransportUnix,
		UnixSocket: filepath.Join(testutil.SocketDir(t), "dead.sock"),
	})

	results, err := c.Dispatch(ctx, protocol.Status{}, AllConnections())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantNames := []string{"a-dead", "b-local", "c-remote"}
	for i, result := range results {
		if result.Connection.Name != wantNames[i] {
			t.Errorf("result %d is %s, want %s", i, result.Connection.Name, wantNames[i])
		}
	}
	if results[0].Err == nil {
		t.Error("dead connection reported success")
	}
	for _, result := range results[1:] {
		if result.Err != nil {
			t.Errorf("%s: %v", result.Connection.Name, result.Err)
			continue
		}
		status, ok := result.Response.(protocol.DaemonStatus)
		if !ok || status.Version != "test" {
			t.Errorf("%s: response %#v", result.Connection.Name, result.Response)
		}
	}
}

func TestDispatch_RemoteErrors(t *testing.T) {
	daemon := startDaemon(t)
	credential := daemon.pair(t, nil)
	c := newTestClient(t)
	ctx := context.Background()
	if _, err := c.Connect(ctx, ConnectRequest{Name: "remote", Host: daemon.host, Credential: &credential}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.Do(ctx, "remote", protocol.PairList{})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != protocol.CodeLocalOnly {
		t.Fatalf("PairList over TCP = %v, want LocalOnly", err)
	}

	// Workstream management is not wired into this daemon.
	_, err = c.Do(ctx, "remote", protocol.RepoList{})
	if !errors.As(err, &remote) || remote.Code != protocol.CodeInternal {
		t.Fatalf("RepoList = %v, want Internal", err)
	}
}

func TestDispatch_RevokedAndExpiredCredentials(t *testing.T) {
	daemon := startDaemon(t)
	revoked := daemon.pair(t, nil)
	expiring := daemon.pair(t, func() *uint64 { v := uint64(60); return &v }())
	c := newTestClient(t)
	ctx := context.Background()
	for name, credential := range map[string]protocol.AuthToken{"revoked": revoked, "expiring": expiring} {
		if _, err := c.Connect(ctx, ConnectRequest{Name: name, Host: daemon.host, Credential: &credential}); err != nil {
			t.Fatalf("Connect %s: %v", name, err)
		}
	}

	if err := daemon.tokens.Revoke(revoked.TokenID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := c.Do(ctx, "revoked", protocol.Status{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("revoked token: %v, want ErrUnauthorized", err)
	}
	if _, err := c.Do(ctx, "expiring", protocol.Status{}); err != nil {
		t.Errorf("unexpired token: %v", err)
	}

	daemon.clock.Advance(2 * time.Minute)
	if _, err := c.Do(ctx, "expiring", protocol.Status{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expired token: %v, want ErrUnauthorized", err)
	}
}

func TestDispatch_NoDefault(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Dispatch(context.Background(), protocol.Status{}, DefaultConnection()); !errors.Is(err, ErrNoDefault) {
		t.Fatalf("Dispatch = %v, want ErrNoDefault", err)
	}
}
