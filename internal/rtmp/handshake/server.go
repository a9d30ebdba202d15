package handshake

// Server-side RTMP handshake finite state machine.
// Implements the sequence: Read C0+C1 -> Send S0+S1+S2 -> Read C2 -> Complete,
// auto-detecting whether C1 uses the simple or the complex (digest-signed)
// schema. Version 0x03 only.

import (
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"time"

	rerrors "github.com/liveedge/hub/internal/errors"
	"github.com/liveedge/hub/internal/logger"
)

const (
	serverReadTimeout  = 5 * time.Second // per spec: 5s deadline for each blocking read phase
	serverWriteTimeout = 5 * time.Second
)

// ServerHandshake performs the server side RTMP handshake on the provided
// connection, transparently supporting both the simple and the complex
// (digest) schema — whichever the client's C1 turns out to use. It is a
// blocking call; on success the connection is positioned immediately after
// the C2 read (ready for chunk stream processing). On failure a
// *HandshakeError or *TimeoutError is returned (which satisfy
// IsProtocolError / IsTimeout).
//
// The function purposefully does not return the Handshake struct instance to keep
// the public API minimal for now; later integration can be adjusted to retain
// timestamps if required.
func ServerHandshake(conn net.Conn) error {
	if conn == nil {
		return rerrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.L().With("phase", "handshake", "side", "server")

	h := New() // FSM state container

	// 1. Read C0 (version) + C1 (1536 bytes). We use a single buffer so the
	// whole C1 is contiguous for the digest-schema detection below.
	c0c1 := make([]byte, 1+PacketSize)
	if err := setReadDeadline(conn, serverReadTimeout); err != nil {
		return err
	}
	if _, err := io.ReadFull(conn, c0c1); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("read C0+C1", serverReadTimeout, err)
		}
		return rerrors.NewHandshakeError("read C0+C1", err)
	}
	c0 := c0c1[0]
	c1 := c0c1[1:]
	if err := h.AcceptC0C1(c0, c1); err != nil {
		return err
	}
	if c0 != Version {
		return rerrors.NewHandshakeError("validate version", fmt.Errorf("unsupported version 0x%02x", c0))
	}

	// 2. Auto-detect the C1 schema: a client using the complex (digest)
	// handshake embeds a SHA-256 HMAC that validates under one of two
	// possible block layouts. Neither validating means a plain simple
	// handshake C1, which carries no digest at all.
	scheme, clientDigest, isComplex := detectComplexC1(c1)

	var s1, s2 []byte
	if isComplex {
		var err error
		s1, err = buildComplexS1(scheme)
		if err != nil {
			return rerrors.NewHandshakeError("build complex S1", err)
		}
		s2, err = buildComplexS2(clientDigest)
		if err != nil {
			return rerrors.NewHandshakeError("build complex S2", err)
		}
		log = log.With("scheme", "complex")
	} else {
		// Prepare simple S1 (timestamp + zero + random[1528]).
		buf := make([]byte, PacketSize)
		ts := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
		buf[0] = byte(ts >> 24)
		buf[1] = byte(ts >> 16)
		buf[2] = byte(ts >> 8)
		buf[3] = byte(ts)
		// 4 bytes zero already default
		if _, err := rand.Read(buf[randomFieldOffset:]); err != nil {
			return rerrors.NewHandshakeError("rand S1", err)
		}
		s1 = buf
		s2 = append([]byte(nil), c1...) // simple S2 is a byte-for-byte echo of C1
		log = log.With("scheme", "simple")
	}
	if err := h.SetS1(s1); err != nil { // advances state to SentS0S1S2
		return err
	}

	// 3. Send S0+S1+S2 atomically. Allocate a single contiguous buffer of 1+1536+1536 bytes.
	out := make([]byte, 1+PacketSize+PacketSize)
	out[0] = Version // S0
	copy(out[1:1+PacketSize], s1)
	copy(out[1+PacketSize:], s2)
	if err := setWriteDeadline(conn, serverWriteTimeout); err != nil {
		return err
	}
	if err := writeFull(conn, out); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("write S0+S1+S2", serverWriteTimeout, err)
		}
		return rerrors.NewHandshakeError("write S0+S1+S2", err)
	}

	// 4. Read C2 (1536 bytes)
	if err := setReadDeadline(conn, serverReadTimeout); err != nil {
		return err
	}
	c2 := make([]byte, PacketSize)
	if _, err := io.ReadFull(conn, c2); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("read C2", serverReadTimeout, err)
		}
		return rerrors.NewHandshakeError("read C2", err)
	}
	if err := h.AcceptC2(c2); err != nil {
		return err
	}

	// Simple C2 should echo S1 byte-for-byte; non-fatal, warn on mismatch.
	// Complex C2 instead carries a digest-key-derived signature over random
	// padding, so it is never a literal echo and is not checked here.
	if !isComplex && !bytesEqual(c2, s1) {
		log.Warn("C2 echo mismatch", "expected_echo_len", len(s1), "got_len", len(c2))
	}

	if err := h.Complete(); err != nil {
		return err
	}

	// Clear deadlines after successful handshake so subsequent chunk reads
	// can operate without timeout constraints (T016 integration requirement).
	// This prevents spurious "i/o timeout" errors when client delays sending
	// the connect command after handshake (common with OBS Studio).
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Warn("Failed to clear read deadline", "error", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		log.Warn("Failed to clear write deadline", "error", err)
	}

	log.Info("Handshake completed", "c1_ts", h.C1Timestamp(), "s1_ts", h.S1Timestamp())
	return nil
}

// Helper: set deadlines with error wrapping.
func setReadDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set read deadline", err)
	}
	return nil
}
func setWriteDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetWriteDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set write deadline", err)
	}
	return nil
}

// writeFull ensures entire buffer is written.
func writeFull(w io.Writer, b []byte) error {
	off := 0
	for off < len(b) {
		n, err := w.Write(b[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// bytesEqual is a small inline version (avoids importing bytes just for Equal)
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isTimeoutErr performs a lightweight timeout classification so we can convert
// into TimeoutError. Only an error whose Timeout() reports true counts;
// io.ErrUnexpectedEOF and other premature-close errors are not timeouts and
// are wrapped as handshake errors by the callers.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	type to interface{ Timeout() bool }
	if ne, ok := err.(to); ok && ne.Timeout() {
		return true
	}
	return false
}
