// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tofu_test

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/vex/lib/tlscert"
	"github.com/bureau-foundation/vex/lib/tofu"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func daemonIdentity(t *testing.T) tlscert.Identity {
	t.Helper()
	identity, err := tlscert.LoadOrGenerate(t.TempDir(), []string{"localhost"}, testNow)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	return identity
}

// handshake runs a TLS handshake over loopback TCP. The server reads
// whatever the client sends after the handshake and reports it on the
// returned channel.
func handshake(t *testing.T, identity tlscert.Identity, verifier *tofu.Verifier) (<-chan []byte, error) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	received := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(10 * time.Second))
		server := tls.Server(conn, identity.ServerConfig())
		if err := server.Handshake(); err != nil {
			received <- nil
			return
		}
		data, _ := io.ReadAll(io.LimitReader(server, 5))
		received <- data
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	client := tls.Client(conn, verifier.ClientConfig())
	if err := client.Handshake(); err != nil {
		conn.Close()
		return received, err
	}
	if _, err := client.Write([]byte("hello")); err != nil {
		return received, err
	}
	return received, nil
}

func TestFingerprintStable(t *testing.T) {
	der := []byte("certificate bytes")
	if tofu.Fingerprint(der) != tofu.Fingerprint(der) {
		t.Fatal("Fingerprint is not deterministic")
	}
	if tofu.Fingerprint(der) == tofu.Fingerprint([]byte("other bytes")) {
		t.Fatal("distinct certificates share a fingerprint")
	}
	if len(tofu.Fingerprint(der)) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex characters", len(tofu.Fingerprint(der)))
	}
}

func TestFirstContactRecordsFingerprint(t *testing.T) {
	identity := daemonIdentity(t)
	verifier := tofu.NewVerifier("devbox", "")
	if !verifier.FirstContact() {
		t.Fatal("FirstContact = false without a pin")
	}

	received, err := handshake(t, identity, verifier)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if got := <-received; string(got) != "hello" {
		t.Errorf("server received %q, want hello", got)
	}
	if verifier.Observed() != identity.Fingerprint {
		t.Errorf("Observed = %s, want %s", verifier.Observed(), identity.Fingerprint)
	}
	if verifier.Mismatch() != nil {
		t.Errorf("Mismatch = %v on first contact", verifier.Mismatch())
	}
}

func TestPinnedMatchSucceeds(t *testing.T) {
	identity := daemonIdentity(t)
	verifier := tofu.NewVerifier("devbox", identity.Fingerprint)

	received, err := handshake(t, identity, verifier)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if got := <-received; string(got) != "hello" {
		t.Errorf("server received %q, want hello", got)
	}
}

func TestPinnedMismatchFailsBeforeData(t *testing.T) {
	identity := daemonIdentity(t)
	pinned := strings.Repeat("0", 64)
	verifier := tofu.NewVerifier("devbox", pinned)

	received, err := handshake(t, identity, verifier)
	if err == nil {
		t.Fatal("handshake succeeded against a different pinned certificate")
	}
	if got := <-received; len(got) != 0 {
		t.Errorf("server received %q although the pin check failed", got)
	}

	mismatch := verifier.Mismatch()
	if mismatch == nil {
		t.Fatalf("Mismatch = nil after a pin failure (handshake error: %v)", err)
	}
	if mismatch.Expected != pinned || mismatch.Actual != identity.Fingerprint {
		t.Errorf("mismatch = %+v", mismatch)
	}
	if !errors.Is(mismatch, tofu.ErrFingerprintMismatch) {
		t.Error("MismatchError does not wrap ErrFingerprintMismatch")
	}
	if !strings.Contains(mismatch.Error(), "fingerprint") {
		t.Errorf("error %q does not mention the fingerprint", mismatch.Error())
	}
}
