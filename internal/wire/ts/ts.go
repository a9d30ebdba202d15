// Package ts muxes H.264/AAC access units into MPEG-TS: 188-byte
// packets carrying a PAT, a PMT, and PES-packetized elementary streams
// with PCR inserted at least every 100ms, the format the HLS segmenter
// writes to disk.
package ts

import (
	"bytes"
	"encoding/binary"

	liveedgeerrors "github.com/liveedge/hub/internal/errors"
)

const (
	PacketSize = 188
	syncByte   = 0x47

	patPID = 0x0000
	pmtPID = 0x1000
	videoPID = 0x0100
	audioPID = 0x0101

	streamTypeH264 = 0x1B
	streamTypeAAC  = 0x0F

	pcrPID = videoPID
	// pcrMaxIntervalPTS bounds PCR insertion per spec.md §4.B ("PCR insertion
	// every <=100ms"); the muxer tracks elapsed 90kHz ticks against it.
	pcrMaxIntervalPTS = 100 * 90 // 100ms in 90kHz units
)

// Muxer accumulates continuity counters and PCR timing state across a
// single HLS segment's packets. A fresh Muxer should be used per
// segment so continuity counters restart cleanly at PAT/PMT on the
// next segment (matching how real TS segmenters re-announce PAT/PMT at
// the head of every file).
type Muxer struct {
	buf bytes.Buffer

	patCC uint8
	pmtCC uint8
	vidCC uint8
	audCC uint8

	lastPCR      int64
	pcrWritten   bool
	hasAudio     bool
}

// NewMuxer creates a Muxer and writes the PAT/PMT packets that must
// open every segment.
func NewMuxer(hasAudio bool) *Muxer {
	m := &Muxer{hasAudio: hasAudio, lastPCR: -1 << 62}
	m.writePAT()
	m.writePMT()
	return m
}

// Bytes returns the accumulated TS packets written so far.
func (m *Muxer) Bytes() []byte { return m.buf.Bytes() }

// WriteVideo packetizes one Annex-B-framed H.264 access unit (a
// sequence of 0x00000001-prefixed NALUs) as a PES packet split across
// TS packets, carrying PCR when due.
func (m *Muxer) WriteVideo(pts, dts int64, annexB []byte, randomAccess bool) error {
	pes := buildPES(0xE0, pts, dts, annexB, true)
	needPCR := !m.pcrWritten || dts-m.lastPCR >= pcrMaxIntervalPTS
	m.writePES(videoPID, &m.vidCC, pes, randomAccess, needPCR, dts)
	if needPCR {
		m.lastPCR = dts
		m.pcrWritten = true
	}
	return nil
}

// WriteAudio packetizes one ADTS-framed AAC access unit as a PES
// packet.
func (m *Muxer) WriteAudio(pts int64, adts []byte) error {
	pes := buildPES(0xC0, pts, pts, adts, false)
	m.writePES(audioPID, &m.audCC, pes, false, false, pts)
	return nil
}

func (m *Muxer) writePAT() {
	payload := new(bytes.Buffer)
	payload.WriteByte(0x00) // table id
	// section length filled below
	section := new(bytes.Buffer)
	section.Write([]byte{0, 1}) // transport_stream_id
	section.WriteByte(0xC1)     // version=0, current_next=1
	section.WriteByte(0x00)     // section_number
	section.WriteByte(0x00)     // last_section_number
	section.Write([]byte{0x00, 0x01})
	section.Write([]byte{byte(0xE0 | (pmtPID >> 8)), byte(pmtPID & 0xFF)})

	sectionLen := section.Len() + 4 // + CRC32
	payload.WriteByte(byte(0xB0 | (sectionLen >> 8)))
	payload.WriteByte(byte(sectionLen))
	payload.Write(section.Bytes())
	crc := crc32MPEG2(payload.Bytes()[1:])
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	payload.Write(crcBuf[:])

	m.writeSection(patPID, &m.patCC, payload.Bytes())
}

func (m *Muxer) writePMT() {
	section := new(bytes.Buffer)
	section.WriteByte(0x02) // table id
	streams := new(bytes.Buffer)
	writeStream := func(streamType byte, pid int) {
		streams.WriteByte(streamType)
		streams.Write([]byte{byte(0xE0 | (pid >> 8)), byte(pid)})
		streams.Write([]byte{0xF0, 0x00}) // ES info length = 0
	}
	writeStream(streamTypeH264, videoPID)
	if m.hasAudio {
		writeStream(streamTypeAAC, audioPID)
	}

	body := new(bytes.Buffer)
	body.Write([]byte{0, 1}) // program_number
	body.WriteByte(0xC1)     // version=0, current_next=1
	body.WriteByte(0x00)     // section_number
	body.WriteByte(0x00)     // last_section_number
	body.Write([]byte{byte(0xE0 | (pcrPID >> 8)), byte(pcrPID & 0xFF)})
	body.Write([]byte{0xF0, 0x00}) // program info length = 0
	body.Write(streams.Bytes())

	sectionLen := body.Len() + 4
	section.WriteByte(byte(0xB0 | (sectionLen >> 8)))
	section.WriteByte(byte(sectionLen))
	section.Write(body.Bytes())

	crc := crc32MPEG2(section.Bytes()[1:])
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	section.Write(crcBuf[:])

	m.writeSection(pmtPID, &m.pmtCC, section.Bytes())
}

// writeSection frames a PSI section (PAT/PMT) as a single TS packet
// with the pointer_field byte PSI requires.
func (m *Muxer) writeSection(pid int, cc *uint8, section []byte) {
	payload := append([]byte{0x00}, section...) // pointer_field = 0
	m.writePacket(pid, cc, true, false, -1, payload, true)
}

// writePES splits a PES packet across as many TS packets as needed,
// setting the payload_unit_start_indicator on the first and, on
// request, a PCR-bearing adaptation field on the first as well.
func (m *Muxer) writePES(pid int, cc *uint8, pes []byte, randomAccess, withPCR bool, pcrBase int64) {
	first := true
	for len(pes) > 0 {
		n := PacketSize - 4
		if first && withPCR {
			n -= 8 // adaptation field with PCR
		}
		if n > len(pes) {
			n = len(pes)
		}
		chunk := pes[:n]
		pes = pes[n:]
		pcr := int64(-1)
		if first && withPCR {
			pcr = pcrBase
		}
		m.writePacket(pid, cc, first, first && randomAccess, pcr, chunk, false)
		first = false
	}
}

// writePacket emits one 188-byte TS packet. If payload is shorter than
// the available space, the adaptation field is stuffed to pad it out.
func (m *Muxer) writePacket(pid int, cc *uint8, pusi, randomAccess bool, pcr int64, payload []byte, isSection bool) {
	var pkt [PacketSize]byte
	pkt[0] = syncByte
	pusiBit := byte(0)
	if pusi {
		pusiBit = 0x40
	}
	pkt[1] = pusiBit | byte((pid>>8)&0x1F)
	pkt[2] = byte(pid)

	hasAdaptation := pcr >= 0 || randomAccess
	avail := PacketSize - 4
	headerLen := 4
	off := 4

	if hasAdaptation || len(payload) < avail {
		adaptLen := 0
		if pcr >= 0 {
			adaptLen = 7
		}
		needed := avail - len(payload)
		if needed > adaptLen+1 {
			adaptLen = needed - 1
		}
		if adaptLen > 0 || hasAdaptation {
			pkt[3] = 0x30 | (*cc & 0x0F) // adaptation + payload present
			pkt[4] = byte(adaptLen)
			off = 5
			flags := byte(0)
			if randomAccess {
				flags |= 0x40
			}
			if pcr >= 0 {
				flags |= 0x10
			}
			if adaptLen > 0 {
				pkt[5] = flags
				off = 6
				if pcr >= 0 {
					writePCR(pkt[off:off+6], pcr)
					off += 6
				}
				for off < 5+adaptLen {
					pkt[off] = 0xFF
					off++
				}
			}
			headerLen = off
		} else {
			pkt[3] = 0x10 | (*cc & 0x0F)
			headerLen = 4
		}
	} else {
		pkt[3] = 0x10 | (*cc & 0x0F)
	}
	*cc = (*cc + 1) & 0x0F

	n := copy(pkt[headerLen:], payload)
	_ = n
	_ = isSection
	m.buf.Write(pkt[:])
}

func writePCR(dst []byte, pcrBase int64) {
	base := pcrBase & 0x1FFFFFFFF
	ext := int64(0)
	dst[0] = byte(base >> 25)
	dst[1] = byte(base >> 17)
	dst[2] = byte(base >> 9)
	dst[3] = byte(base >> 1)
	dst[4] = byte((base&1)<<7) | 0x7E | byte(ext>>8)
	dst[5] = byte(ext)
}

// buildPES wraps an elementary-stream access unit in a PES packet
// header. withDTS controls whether a separate DTS field is written
// (video, where PTS and DTS can differ) or PTS-only (audio).
func buildPES(streamID byte, pts, dts int64, payload []byte, withDTS bool) []byte {
	buf := new(bytes.Buffer)
	buf.Write([]byte{0x00, 0x00, 0x01, streamID})

	header := new(bytes.Buffer)
	ptsDtsFlags := byte(0x80)
	tsFieldLen := 5
	if withDTS && dts != pts {
		ptsDtsFlags = 0xC0
		tsFieldLen = 10
	}
	header.WriteByte(0x80)
	header.WriteByte(ptsDtsFlags)
	header.WriteByte(byte(tsFieldLen))
	writeTimestamp(header, 0x2|(ptsDtsFlags>>6), pts)
	if ptsDtsFlags == 0xC0 {
		writeTimestamp(header, 0x1, dts)
	}

	pesPacketLen := len(payload) + header.Len()
	if pesPacketLen > 0xFFFF {
		pesPacketLen = 0 // unbounded length, legal for video PES
	}
	buf.WriteByte(byte(pesPacketLen >> 8))
	buf.WriteByte(byte(pesPacketLen))
	buf.Write(header.Bytes())
	buf.Write(payload)
	return buf.Bytes()
}

func writeTimestamp(w *bytes.Buffer, marker byte, ts int64) {
	ts &= 0x1FFFFFFFF
	b0 := (marker << 4) | byte((ts>>30)&0x0E) | 0x01
	b1 := byte(ts >> 22)
	b2 := byte((ts>>14)&0xFE) | 0x01
	b3 := byte(ts >> 7)
	b4 := byte((ts<<1)&0xFE) | 0x01
	w.WriteByte(b0)
	w.WriteByte(b1)
	w.WriteByte(b2)
	w.WriteByte(b3)
	w.WriteByte(b4)
}

var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = (c << 1) ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		crcTable[i] = c
	}
}

func crc32MPEG2(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// ErrShortPacket is returned by validation helpers when fewer than
// PacketSize bytes are available for a packet boundary check.
var ErrShortPacket = liveedgeerrors.NewMalformedPayload("ts.packet", 0, nil)
