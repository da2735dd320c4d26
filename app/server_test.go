package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"testing"

	"tee-channel/attestation"
	"tee-channel/channel"
	"tee-channel/enclave"
	"tee-channel/shared"
)

type testParties struct {
	server    *server
	serverPub []byte
	loader    *channel.KeyPair
	requester *channel.KeyPair
}

func newTestParties(t *testing.T) *testParties {
	t.Helper()
	serverKeys, err := channel.Generate()
	if err != nil {
		t.Fatalf("Failed to generate server keys: %v", err)
	}
	loaderKeys, err := channel.Generate()
	if err != nil {
		t.Fatalf("Failed to generate loader keys: %v", err)
	}
	requesterKeys, err := channel.Generate()
	if err != nil {
		t.Fatalf("Failed to generate requester keys: %v", err)
	}

	logger, err := shared.NewLogger(shared.LoggerConfig{ServiceName: "app-test", Development: true})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	srv, err := newServer(serverKeys, loaderKeys.Public(), requesterKeys.Public(), logger)
	if err != nil {
		t.Fatalf("Failed to build server: %v", err)
	}
	return &testParties{
		server:    srv,
		serverPub: serverKeys.PublicBytes(),
		loader:    loaderKeys,
		requester: requesterKeys,
	}
}

// exchange runs one client exchange against the server over an
// in-memory pipe.
func (p *testParties) exchange(t *testing.T, keys *channel.KeyPair, role channel.Role, payload []byte) ([]byte, error) {
	t.Helper()
	serverPub, err := channel.ParsePublicKey(p.serverPub)
	if err != nil {
		t.Fatalf("Failed to parse server public key: %v", err)
	}
	codec, err := channel.NewCodec(keys, serverPub)
	if err != nil {
		t.Fatalf("Failed to build codec: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		p.server.handleConn(serverConn)
		close(done)
	}()
	defer func() {
		clientConn.Close()
		<-done
	}()
	return channel.Exchange(clientConn, codec, role, payload)
}

func TestLoadThenSum(t *testing.T) {
	p := newTestParties(t)

	echo, err := p.exchange(t, p.loader, channel.RoleLoader, []byte{12, 43})
	if err != nil {
		t.Fatalf("Loader exchange failed: %v", err)
	}
	if !bytes.Equal(echo, []byte{12, 43}) {
		t.Errorf("Loader echo = %v, want [12 43]", echo)
	}

	sum, err := p.exchange(t, p.requester, channel.RoleRequester, nil)
	if err != nil {
		t.Fatalf("Requester exchange failed: %v", err)
	}
	if !bytes.Equal(sum, []byte{55}) {
		t.Errorf("Sum = %v, want [55]", sum)
	}
}

func TestSumBeforeLoadIsZero(t *testing.T) {
	p := newTestParties(t)

	sum, err := p.exchange(t, p.requester, channel.RoleRequester, nil)
	if err != nil {
		t.Fatalf("Requester exchange failed: %v", err)
	}
	if !bytes.Equal(sum, []byte{0}) {
		t.Errorf("Sum = %v, want [0]", sum)
	}
}

func TestSumWrapsModulo256(t *testing.T) {
	p := newTestParties(t)

	if _, err := p.exchange(t, p.loader, channel.RoleLoader, []byte{200, 100}); err != nil {
		t.Fatalf("Loader exchange failed: %v", err)
	}
	sum, err := p.exchange(t, p.requester, channel.RoleRequester, nil)
	if err != nil {
		t.Fatalf("Requester exchange failed: %v", err)
	}
	if !bytes.Equal(sum, []byte{44}) {
		t.Errorf("Sum = %v, want [44] (300 mod 256)", sum)
	}
}

func TestLyingRoleGetsNoResponse(t *testing.T) {
	p := newTestParties(t)

	// The requester claims the loader role. The server opens with the
	// loader codec, authentication fails, and the connection closes
	// without a response.
	if _, err := p.exchange(t, p.requester, channel.RoleLoader, []byte{1, 2}); err == nil {
		t.Error("Expected exchange to fail for a lying role claim")
	}
}

func TestMalformedLoaderPayloadClosesConnection(t *testing.T) {
	p := newTestParties(t)

	if _, err := p.exchange(t, p.loader, channel.RoleLoader, []byte{1, 2, 3}); err == nil {
		t.Error("Expected exchange to fail for a 3-byte loader payload")
	}

	// The store must be untouched.
	sum, err := p.exchange(t, p.requester, channel.RoleRequester, nil)
	if err != nil {
		t.Fatalf("Requester exchange failed: %v", err)
	}
	if !bytes.Equal(sum, []byte{0}) {
		t.Errorf("Sum = %v, want [0] after rejected load", sum)
	}
}

// TestAttestedEndToEnd walks the full trust path: fetch the attestation
// document over HTTP, verify it against the attester's root, then run
// both client exchanges against the extracted key.
func TestAttestedEndToEnd(t *testing.T) {
	p := newTestParties(t)

	attester, err := enclave.NewSelfSignedAttester()
	if err != nil {
		t.Fatalf("Failed to create attester: %v", err)
	}
	logger, err := shared.NewLogger(shared.LoggerConfig{ServiceName: "app-test", Development: true})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	endpoint := httptest.NewServer(enclave.AttestationHandler(attester, p.serverPub, logger))
	defer endpoint.Close()

	docBytes, err := enclave.FetchAttestation(context.Background(), endpoint.URL+enclave.AttestationRawPath)
	if err != nil {
		t.Fatalf("Failed to fetch attestation: %v", err)
	}

	verifier, err := attestation.NewVerifierFromFile(attester.RootPEM())
	if err != nil {
		t.Fatalf("Failed to build verifier: %v", err)
	}
	verifiedKey, err := verifier.Verify(docBytes, attester.ImageIdentity())
	if err != nil {
		t.Fatalf("Attestation verification failed: %v", err)
	}
	if !bytes.Equal(verifiedKey, p.serverPub) {
		t.Fatalf("Verified key %x does not match server key %x", verifiedKey, p.serverPub)
	}

	// Talk to the server using only the attested key.
	p.serverPub = verifiedKey
	if _, err := p.exchange(t, p.loader, channel.RoleLoader, []byte{12, 43}); err != nil {
		t.Fatalf("Loader exchange failed: %v", err)
	}
	sum, err := p.exchange(t, p.requester, channel.RoleRequester, nil)
	if err != nil {
		t.Fatalf("Requester exchange failed: %v", err)
	}
	if !bytes.Equal(sum, []byte{55}) {
		t.Errorf("Sum = %v, want [55]", sum)
	}
}
