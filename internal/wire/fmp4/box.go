// Package fmp4 writes the fragmented-MP4 boxes the DASH segmenter (and
// HLS's fMP4 mode) needs: ftyp, an init segment's moov (trak/mdia/
// minf/stbl with avcC/esds), and each media segment's moof/mfhd/traf/
// trun plus mdat, styp, and sidx.
package fmp4

import (
	"encoding/binary"
)

// box is the generic ISO-BMFF container: a 4-byte big-endian size, a
// 4-byte type, and a body (itself raw bytes or nested boxes).
func box(boxType string, body ...[]byte) []byte {
	total := 8
	for _, b := range body {
		total += len(b)
	}
	buf := make([]byte, 0, total)
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(total))
	buf = append(buf, sizeBuf[:]...)
	buf = append(buf, boxType...)
	for _, b := range body {
		buf = append(buf, b...)
	}
	return buf
}

func u8(v uint8) []byte  { return []byte{v} }
func u16(v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b[:]
}
func u24(v uint32) []byte { return []byte{byte(v >> 16), byte(v >> 8), byte(v)} }
func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}
func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// fullBox prefixes body with the version/flags word every "full box"
// (one whose type starts a new ISO-BMFF box version) carries.
func fullBox(boxType string, version uint8, flags uint32, body ...[]byte) []byte {
	full := append(u8(version), u24(flags)...)
	for _, b := range body {
		full = append(full, b...)
	}
	return box(boxType, full)
}

// FileType builds an ftyp box. mp4/iso6/dash brands are the ones
// player compatibility in the wild actually checks for.
func FileType(majorBrand string, minorVersion uint32, compatibleBrands []string) []byte {
	body := []byte(majorBrand)
	body = append(body, u32(minorVersion)...)
	for _, b := range compatibleBrands {
		body = append(body, []byte(b)...)
	}
	return box("ftyp", body)
}

// SegmentType builds a styp box, the fMP4 media segment's equivalent
// of ftyp.
func SegmentType(majorBrand string, minorVersion uint32, compatibleBrands []string) []byte {
	body := []byte(majorBrand)
	body = append(body, u32(minorVersion)...)
	for _, b := range compatibleBrands {
		body = append(body, []byte(b)...)
	}
	return box("styp", body)
}
