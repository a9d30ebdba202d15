package handshake

import (
	"bytes"
	"crypto/rand"
	"net"
	"testing"
	"time"
)

// buildValidComplexC1 constructs a 1536-byte C1 under the given schema whose
// embedded digest validates against the client key, mirroring what a real
// Flash-compatible client produces.
func buildValidComplexC1(t *testing.T, s digestScheme) []byte {
	t.Helper()
	buf := make([]byte, PacketSize)
	buf[4], buf[5], buf[6], buf[7] = 0x80, 0x00, 0x07, 0x02 // non-zero version
	if _, err := rand.Read(buf[8:]); err != nil {
		t.Fatalf("fill C1 random: %v", err)
	}
	digestOff := digestOffsetWithin(buf, digestBlockOffset(s))
	_, signed := splitDigest(buf, digestOff)
	copy(buf[digestOff:digestOff+digestSize], hmacSHA256(genuineFPKey[:30], signed))
	return buf
}

func TestDetectComplexC1_Schema0(t *testing.T) {
	c1 := buildValidComplexC1(t, schema0)
	scheme, digest, ok := detectComplexC1(c1)
	if !ok {
		t.Fatal("expected schema0 C1 to validate")
	}
	if scheme != schema0 {
		t.Fatalf("expected schema0, got %v", scheme)
	}
	if len(digest) != digestSize {
		t.Fatalf("expected %d-byte digest, got %d", digestSize, len(digest))
	}
}

func TestDetectComplexC1_Schema1(t *testing.T) {
	c1 := buildValidComplexC1(t, schema1)
	scheme, _, ok := detectComplexC1(c1)
	if !ok {
		t.Fatal("expected schema1 C1 to validate")
	}
	if scheme != schema1 {
		t.Fatalf("expected schema1, got %v", scheme)
	}
}

func TestDetectComplexC1_SimpleC1NotDetected(t *testing.T) {
	buf := make([]byte, PacketSize)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("fill simple C1: %v", err)
	}
	buf[4], buf[5], buf[6], buf[7] = 0, 0, 0, 0
	if _, _, ok := detectComplexC1(buf); ok {
		t.Fatal("random simple C1 should not validate as complex (digest collision impossible here)")
	}
}

func TestBuildComplexS1S2_Lengths(t *testing.T) {
	s1, err := buildComplexS1(schema0)
	if err != nil {
		t.Fatalf("buildComplexS1: %v", err)
	}
	if len(s1) != PacketSize {
		t.Fatalf("expected S1 length %d, got %d", PacketSize, len(s1))
	}
	digestOff := digestOffsetWithin(s1, digestBlockOffset(schema0))
	digest, signed := splitDigest(s1, digestOff)
	if !bytes.Equal(digest, hmacSHA256(genuineFMSKey[:36], signed)) {
		t.Fatal("S1 digest does not validate against the server key")
	}

	clientDigest := make([]byte, digestSize)
	if _, err := rand.Read(clientDigest); err != nil {
		t.Fatalf("fill client digest: %v", err)
	}
	s2, err := buildComplexS2(clientDigest)
	if err != nil {
		t.Fatalf("buildComplexS2: %v", err)
	}
	if len(s2) != PacketSize {
		t.Fatalf("expected S2 length %d, got %d", PacketSize, len(s2))
	}
	digestKey := hmacSHA256(genuineFMSKey, clientDigest)
	expected := hmacSHA256(digestKey, s2[:PacketSize-digestSize])
	if !bytes.Equal(s2[PacketSize-digestSize:], expected) {
		t.Fatal("S2 signature does not validate against the derived digest key")
	}
}

// TestServerHandshake_ComplexC1 drives a full ServerHandshake exchange with
// a synthetic complex C1, verifying the server recognizes the digest schema
// and completes the exchange instead of falling back to the simple path.
func TestServerHandshake_ComplexC1(t *testing.T) {
	c1 := buildValidComplexC1(t, schema0)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- ServerHandshake(serverConn) }()

	c0c1 := append([]byte{Version}, c1...)
	if _, err := clientConn.Write(c0c1); err != nil {
		t.Fatalf("write C0+C1: %v", err)
	}

	sBuf := make([]byte, 1+PacketSize+PacketSize)
	readErrCh := make(chan error, 1)
	go func() {
		_, err := readFull(clientConn, sBuf)
		readErrCh <- err
	}()
	select {
	case err := <-readErrCh:
		if err != nil {
			t.Fatalf("read S0+S1+S2: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading S0+S1+S2")
	}
	if sBuf[0] != Version {
		t.Fatalf("expected S0 version 0x03, got 0x%02x", sBuf[0])
	}
	s1 := sBuf[1 : 1+PacketSize]
	digestOff := digestOffsetWithin(s1, digestBlockOffset(schema0))
	digest, signed := splitDigest(s1, digestOff)
	if !bytes.Equal(digest, hmacSHA256(genuineFMSKey[:36], signed)) {
		t.Fatal("server's S1 digest does not validate: complex schema was not honored")
	}

	// C2 content is not validated by the server on the complex path; any
	// 1536-byte buffer completes the exchange.
	c2 := make([]byte, PacketSize)
	if _, err := rand.Read(c2); err != nil {
		t.Fatalf("fill C2: %v", err)
	}
	if _, err := clientConn.Write(c2); err != nil {
		t.Fatalf("write C2: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ServerHandshake returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ServerHandshake to complete")
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
