// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/vex/lib/clock"
	"github.com/bureau-foundation/vex/lib/pairing"
	"github.com/bureau-foundation/vex/lib/protocol"
	"github.com/bureau-foundation/vex/lib/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// recordingCollaborator answers every domain command with Repos and
// records what it was asked.
type recordingCollaborator struct {
	mu    sync.Mutex
	calls []collaboratorCall
}

type collaboratorCall struct {
	command protocol.Command
	local   bool
}

func (r *recordingCollaborator) Handle(_ context.Context, command protocol.Command, local bool) protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, collaboratorCall{command, local})
	return protocol.Repos{Repos: []protocol.Repository{}}
}

func (r *recordingCollaborator) Calls() []collaboratorCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]collaboratorCall(nil), r.calls...)
}

type fixture struct {
	handler      *Handler
	tokens       *pairing.Store
	clock        *clock.FakeClock
	collaborator *recordingCollaborator
}

func newFixture(t *testing.T, modify func(*HandlerConfig)) *fixture {
	t.Helper()
	fakeClock := clock.Fake(testEpoch)
	f := &fixture{
		tokens:       pairing.NewMemoryStore(fakeClock, testLogger()),
		clock:        fakeClock,
		collaborator: &recordingCollaborator{},
	}
	config := HandlerConfig{
		Tokens:        f.tokens,
		Collaborator:  f.collaborator,
		Clock:         fakeClock,
		Logger:        testLogger(),
		Version:       "1.2.3",
		AdvertiseHost: "devbox.example:7422",
	}
	if modify != nil {
		modify(&config)
	}
	f.handler = NewHandler(config)
	return f
}

func (f *fixture) issue(t *testing.T) protocol.AuthToken {
	t.Helper()
	payload, err := f.tokens.Issue(nil, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return protocol.AuthToken{TokenID: payload.ID, TokenSecret: payload.Secret}
}

// pipeSession is the client end of an in-memory connection plus the
// channel that receives the server session's final state.
type pipeSession struct {
	conn   net.Conn
	stream *protocol.Stream
	done   chan State
}

func (f *fixture) serve(t *testing.T, transport Transport) *pipeSession {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	done := make(chan State, 1)
	go func() {
		done <- f.handler.ServeConn(context.Background(), serverConn, transport)
		serverConn.Close()
	}()
	t.Cleanup(func() { clientConn.Close() })
	clientConn.SetDeadline(time.Now().Add(10 * time.Second))
	return &pipeSession{conn: clientConn, stream: protocol.NewStream(clientConn), done: done}
}

func (p *pipeSession) roundTrip(t *testing.T, command protocol.Command) protocol.Response {
	t.Helper()
	if err := p.stream.SendCommand(command); err != nil {
		t.Fatalf("SendCommand(%s): %v", protocol.CommandName(command), err)
	}
	response, err := p.stream.ReceiveResponse()
	if err != nil {
		t.Fatalf("ReceiveResponse(%s): %v", protocol.CommandName(command), err)
	}
	return response
}

func (p *pipeSession) authenticate(t *testing.T, credential protocol.AuthToken) protocol.Response {
	t.Helper()
	if err := p.stream.SendAuthToken(credential); err != nil {
		t.Fatalf("SendAuthToken: %v", err)
	}
	response, err := p.stream.ReceiveResponse()
	if err != nil {
		t.Fatalf("reading authentication response: %v", err)
	}
	return response
}

func (p *pipeSession) finish(t *testing.T) State {
	t.Helper()
	p.conn.Close()
	return testutil.RequireReceive(t, p.done, 5*time.Second, "waiting for session to end")
}

func requireErrorCode(t *testing.T, response protocol.Response, code protocol.ErrorCode) {
	t.Helper()
	failure, ok := response.(protocol.Error)
	if !ok {
		t.Fatalf("response = %#v, want Error %s", response, code)
	}
	if failure.Code != code {
		t.Fatalf("error code = %s, want %s", failure.Code, code)
	}
}

func TestLocalSession_StatusAndWhoami(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.Advance(90 * time.Second)
	session := f.serve(t, TransportLocal)

	status, ok := session.roundTrip(t, protocol.Status{}).(protocol.DaemonStatus)
	if !ok {
		t.Fatal("Status did not return DaemonStatus")
	}
	if status.UptimeSecs != 90 || status.ConnectedClients != 1 || status.Version != "1.2.3" {
		t.Errorf("DaemonStatus = %+v", status)
	}

	info, ok := session.roundTrip(t, protocol.Whoami{}).(protocol.ClientInfo)
	if !ok || !info.IsLocal || info.TokenID != nil {
		t.Errorf("Whoami = %+v, want local", info)
	}

	if state := session.finish(t); state != StateClosed {
		t.Errorf("final state = %s, want closed", state)
	}
	if f.handler.ConnectedClients() != 0 {
		t.Errorf("ConnectedClients after close = %d", f.handler.ConnectedClients())
	}
}

func TestLocalSession_PairingAdministration(t *testing.T) {
	f := newFixture(t, nil)
	session := f.serve(t, TransportLocal)

	label := "phone"
	expire := uint64(3600)
	pair, ok := session.roundTrip(t, protocol.PairCreate{Label: &label, ExpireSecs: &expire}).(protocol.Pair)
	if !ok {
		t.Fatal("PairCreate did not return Pair")
	}
	if pair.Host == nil || *pair.Host != "devbox.example:7422" {
		t.Errorf("Pair.Host = %v, want advertised host", pair.Host)
	}
	if _, err := f.tokens.Verify(pair.TokenID, pair.TokenSecret); err != nil {
		t.Errorf("issued pair does not verify: %v", err)
	}

	list, ok := session.roundTrip(t, protocol.PairList{}).(protocol.PairedClients)
	if !ok || len(list.Clients) != 1 {
		t.Fatalf("PairList = %+v", list)
	}
	client := list.Clients[0]
	if client.TokenID != pair.TokenID || client.Label == nil || *client.Label != "phone" {
		t.Errorf("listed client = %+v", client)
	}
	if client.CreatedAt != testEpoch.Unix() || client.ExpiresAt == nil || *client.ExpiresAt != testEpoch.Unix()+3600 {
		t.Errorf("listed times = created %d expires %v", client.CreatedAt, client.ExpiresAt)
	}

	requireErrorCode(t, session.roundTrip(t, protocol.PairRevoke{ID: "tok_ffffff"}), protocol.CodeNotFound)

	if response := session.roundTrip(t, protocol.PairRevoke{ID: pair.TokenID}); response != (protocol.OK{}) {
		t.Errorf("PairRevoke = %#v, want OK", response)
	}
	// Revoking an already-revoked token still succeeds.
	if response := session.roundTrip(t, protocol.PairRevoke{ID: pair.TokenID}); response != (protocol.OK{}) {
		t.Errorf("second PairRevoke = %#v, want OK", response)
	}
	if _, err := f.tokens.Verify(pair.TokenID, pair.TokenSecret); err == nil {
		t.Error("revoked token still verifies")
	}

	f.issue(t)
	f.issue(t)
	all, ok := session.roundTrip(t, protocol.PairRevokeAll{}).(protocol.Revoked)
	if !ok || all.Count != 2 {
		t.Errorf("PairRevokeAll = %+v, want 2", all)
	}
}

func TestRemoteSession_Authenticates(t *testing.T) {
	f := newFixture(t, nil)
	credential := f.issue(t)
	session := f.serve(t, TransportRemote)

	if _, ok := session.authenticate(t, credential).(protocol.Pong); !ok {
		t.Fatal("valid credential was not acknowledged with Pong")
	}
	info, ok := session.roundTrip(t, protocol.Whoami{}).(protocol.ClientInfo)
	if !ok || info.IsLocal || info.TokenID == nil || *info.TokenID != credential.TokenID {
		t.Errorf("Whoami = %+v", info)
	}
	if f.handler.ConnectedClients() != 1 {
		t.Errorf("ConnectedClients = %d, want 1", f.handler.ConnectedClients())
	}
	if state := session.finish(t); state != StateClosed {
		t.Errorf("final state = %s", state)
	}
}

func TestRemoteSession_RejectsBadCredential(t *testing.T) {
	tests := []struct {
		name       string
		credential func(protocol.AuthToken) protocol.AuthToken
	}{
		{"wrong secret", func(c protocol.AuthToken) protocol.AuthToken {
			c.TokenSecret = "not-the-secret"
			return c
		}},
		{"unknown id", func(c protocol.AuthToken) protocol.AuthToken {
			c.TokenID = "tok_000000"
			return c
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, nil)
			session := f.serve(t, TransportRemote)
			response := session.authenticate(t, test.credential(f.issue(t)))
			requireErrorCode(t, response, protocol.CodeUnauthorized)
			state := testutil.RequireReceive(t, session.done, 5*time.Second, "waiting for rejected session")
			if state != StateUnauthorized {
				t.Errorf("final state = %s, want unauthorized", state)
			}
		})
	}
}

func TestRemoteSession_ExpiredCredential(t *testing.T) {
	f := newFixture(t, nil)
	expire := uint64(60)
	payload, err := f.tokens.Issue(nil, &expire)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	f.clock.Advance(61 * time.Second)

	session := f.serve(t, TransportRemote)
	response := session.authenticate(t, protocol.AuthToken{TokenID: payload.ID, TokenSecret: payload.Secret})
	requireErrorCode(t, response, protocol.CodeUnauthorized)
}

func TestRemoteSession_CommandBeforeCredential(t *testing.T) {
	f := newFixture(t, nil)
	session := f.serve(t, TransportRemote)
	if err := session.stream.SendCommand(protocol.Status{}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	// A command envelope carries no credential fields, so it is read as
	// an empty credential and refused.
	response, err := session.stream.ReceiveResponse()
	if err != nil {
		t.Fatalf("ReceiveResponse: %v", err)
	}
	requireErrorCode(t, response, protocol.CodeUnauthorized)
	state := testutil.RequireReceive(t, session.done, 5*time.Second, "waiting for session to end")
	if state != StateUnauthorized {
		t.Fatalf("state = %s, want unauthorized", state)
	}
	if f.handler.ConnectedClients() != 0 {
		t.Errorf("ConnectedClients = %d", f.handler.ConnectedClients())
	}
}

func TestRemoteSession_AuthTimeout(t *testing.T) {
	f := newFixture(t, func(config *HandlerConfig) {
		config.AuthTimeout = 50 * time.Millisecond
	})
	session := f.serve(t, TransportRemote)
	state := testutil.RequireReceive(t, session.done, 5*time.Second, "waiting for auth timeout")
	if state != StateClosed {
		t.Errorf("state after silent client = %s, want closed", state)
	}
}

func TestRemoteSession_LocalOnlyCommands(t *testing.T) {
	f := newFixture(t, nil)
	session := f.serve(t, TransportRemote)
	if _, ok := session.authenticate(t, f.issue(t)).(protocol.Pong); !ok {
		t.Fatal("authentication failed")
	}

	for _, command := range []protocol.Command{
		protocol.PairCreate{},
		protocol.PairList{},
		protocol.PairRevoke{ID: "tok_aaaaaa"},
		protocol.PairRevokeAll{},
	} {
		requireErrorCode(t, session.roundTrip(t, command), protocol.CodeLocalOnly)
	}
	if len(f.tokens.List()) != 1 {
		t.Errorf("remote pairing commands changed the token store")
	}

	// The session stays usable after a refused command.
	if _, ok := session.roundTrip(t, protocol.Status{}).(protocol.DaemonStatus); !ok {
		t.Error("Status after LocalOnly failed")
	}
}

func TestSession_DomainCommandsReachCollaborator(t *testing.T) {
	f := newFixture(t, nil)

	local := f.serve(t, TransportLocal)
	local.roundTrip(t, protocol.RepoList{})
	local.finish(t)

	remote := f.serve(t, TransportRemote)
	remote.authenticate(t, f.issue(t))
	remote.roundTrip(t, protocol.WorkstreamList{})
	remote.finish(t)

	calls := f.collaborator.Calls()
	if len(calls) != 2 {
		t.Fatalf("collaborator saw %d calls, want 2", len(calls))
	}
	if _, ok := calls[0].command.(protocol.RepoList); !ok || !calls[0].local {
		t.Errorf("first call = %+v, want local RepoList", calls[0])
	}
	if _, ok := calls[1].command.(protocol.WorkstreamList); !ok || calls[1].local {
		t.Errorf("second call = %+v, want remote WorkstreamList", calls[1])
	}
}

func TestSession_NoCollaborator(t *testing.T) {
	f := newFixture(t, func(config *HandlerConfig) { config.Collaborator = nil })
	session := f.serve(t, TransportLocal)
	requireErrorCode(t, session.roundTrip(t, protocol.AgentList{}), protocol.CodeInternal)
}

func TestSession_RevocationAffectsOnlyNewSessions(t *testing.T) {
	f := newFixture(t, nil)
	credential := f.issue(t)
	live := f.serve(t, TransportRemote)
	if _, ok := live.authenticate(t, credential).(protocol.Pong); !ok {
		t.Fatal("authentication failed")
	}

	if err := f.tokens.Revoke(credential.TokenID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, ok := live.roundTrip(t, protocol.Status{}).(protocol.DaemonStatus); !ok {
		t.Error("live session stopped working after revocation")
	}
	fresh := f.serve(t, TransportRemote)
	requireErrorCode(t, fresh.authenticate(t, credential), protocol.CodeUnauthorized)
}

func TestSession_MalformedFrameCloses(t *testing.T) {
	f := newFixture(t, nil)
	session := f.serve(t, TransportLocal)

	// A length prefix far above the frame limit.
	if _, err := session.conn.Write([]byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	state := testutil.RequireReceive(t, session.done, 5*time.Second, "waiting for session to close")
	if state != StateClosed {
		t.Errorf("state = %s, want closed", state)
	}
}

func TestStateAndTransportStrings(t *testing.T) {
	if TransportLocal.String() != "local" || TransportRemote.String() != "tcp" {
		t.Errorf("transport strings = %s, %s", TransportLocal, TransportRemote)
	}
	for state, want := range map[State]string{
		StateAccepted:       "accepted",
		StateAuthenticating: "authenticating",
		StateReady:          "ready",
		StateClosed:         "closed",
		StateUnauthorized:   "unauthorized",
	} {
		if state.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(state), state.String(), want)
		}
	}
}
