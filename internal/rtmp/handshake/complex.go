package handshake

// Complex (digest) handshake per the RTMP handshake addendum: C1/S1 carry an
// embedded SHA-256 HMAC digest proving each side holds one of two published
// "genuine" keys (Flash Player / Flash Media Server). The server detects
// which of the two possible C1 layouts ("schema 0" or "schema 1") a client
// used by trying both and checking which one's embedded digest validates;
// a C1 that validates under neither schema is treated as a simple
// (non-digest) handshake instead.

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	keyBlockSize    = 764
	digestBlockSize = 764
	digestSize      = sha256.Size
)

// genuineFPKey is the published Adobe "Flash Player" key; its first 30
// bytes (the ASCII portion, "Genuine Adobe Flash Player 001") sign a
// client's C1/C2 digest.
var genuineFPKey = []byte{
	0x47, 0x65, 0x6e, 0x75, 0x69, 0x6e, 0x65, 0x20, 0x41, 0x64,
	0x6f, 0x62, 0x65, 0x20, 0x46, 0x6c, 0x61, 0x73, 0x68, 0x20,
	0x50, 0x6c, 0x61, 0x79, 0x65, 0x72, 0x20, 0x30, 0x30, 0x31,
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8, 0x2e, 0x00, 0xd0, 0xd1,
	0x02, 0x9e, 0x7e, 0x57, 0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
	0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

// genuineFMSKey is the published Adobe "Flash Media Server" key; its first
// 36 bytes (the ASCII portion) sign S1's digest, and the full 68 bytes key
// the S2 signature.
var genuineFMSKey = []byte{
	0x47, 0x65, 0x6e, 0x75, 0x69, 0x6e, 0x65, 0x20, 0x41, 0x64, 0x6f, 0x62,
	0x65, 0x20, 0x46, 0x6c, 0x61, 0x73, 0x68, 0x20, 0x4d, 0x65, 0x64, 0x69,
	0x61, 0x20, 0x53, 0x65, 0x72, 0x76, 0x65, 0x72, 0x20, 0x30, 0x30, 0x31,
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8, 0x2e, 0x00, 0xd0, 0xd1,
	0x02, 0x9e, 0x7e, 0x57, 0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
	0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

// digestScheme identifies which of the two possible block orderings a C1/S1
// buffer follows, after its 8-byte time+version header.
type digestScheme int

const (
	schema0 digestScheme = iota // key block [8:772), digest block [772:1536)
	schema1                     // digest block [8:772), key block [772:1536)
)

func digestBlockOffset(s digestScheme) int {
	if s == schema0 {
		return 8 + keyBlockSize
	}
	return 8
}

// digestOffsetWithin returns the absolute offset of the 32-byte digest
// inside buf, computed from the 4-byte offset field at the start of the
// digest block at digestBlockOff.
func digestOffsetWithin(buf []byte, digestBlockOff int) int {
	sum := int(buf[digestBlockOff]) + int(buf[digestBlockOff+1]) +
		int(buf[digestBlockOff+2]) + int(buf[digestBlockOff+3])
	off := sum % (digestBlockSize - 4 - digestSize)
	return digestBlockOff + 4 + off
}

// splitDigest extracts the 32-byte digest at digestOff and the message that
// must have been signed to produce it (buf with those 32 bytes excised).
func splitDigest(buf []byte, digestOff int) (digest, signedMsg []byte) {
	digest = append([]byte(nil), buf[digestOff:digestOff+digestSize]...)
	signedMsg = make([]byte, 0, len(buf)-digestSize)
	signedMsg = append(signedMsg, buf[:digestOff]...)
	signedMsg = append(signedMsg, buf[digestOff+digestSize:]...)
	return digest, signedMsg
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// detectComplexC1 tries both digest schemas against a 1536-byte C1 and
// reports the first one whose embedded digest validates against the
// client key. ok is false when neither schema validates, meaning the peer
// sent a simple (non-digest) C1.
func detectComplexC1(c1 []byte) (s digestScheme, clientDigest []byte, ok bool) {
	for _, candidate := range []digestScheme{schema0, schema1} {
		digestOff := digestOffsetWithin(c1, digestBlockOffset(candidate))
		digest, signed := splitDigest(c1, digestOff)
		if hmac.Equal(digest, hmacSHA256(genuineFPKey[:30], signed)) {
			return candidate, digest, true
		}
	}
	return 0, nil, false
}

// buildComplexS1 produces a 1536-byte S1 following the same schema the
// client used, with fresh random padding and a digest signed by the
// server key.
func buildComplexS1(s digestScheme) ([]byte, error) {
	buf := make([]byte, PacketSize)
	binary.BigEndian.PutUint32(buf[0:4], 0)
	copy(buf[4:8], []byte{0x0d, 0x0e, 0x0a, 0x0d}) // non-zero version signals digest support
	if _, err := rand.Read(buf[8:]); err != nil {
		return nil, fmt.Errorf("fill S1 random: %w", err)
	}
	digestOff := digestOffsetWithin(buf, digestBlockOffset(s))
	_, signed := splitDigest(buf, digestOff)
	copy(buf[digestOff:digestOff+digestSize], hmacSHA256(genuineFMSKey[:36], signed))
	return buf, nil
}

// buildComplexS2 produces S2 as a fully random block signed with a
// digest-key derived from the client's C1 digest, per the handshake's S2
// construction.
func buildComplexS2(clientDigest []byte) ([]byte, error) {
	buf := make([]byte, PacketSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("fill S2 random: %w", err)
	}
	digestKey := hmacSHA256(genuineFMSKey, clientDigest)
	sig := hmacSHA256(digestKey, buf[:PacketSize-digestSize])
	copy(buf[PacketSize-digestSize:], sig)
	return buf, nil
}
