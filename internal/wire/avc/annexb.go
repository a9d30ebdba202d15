package avc

import (
	"encoding/binary"

	liveedgeerrors "github.com/liveedge/hub/internal/errors"
)

var startCode = []byte{0, 0, 0, 1}

// ToAnnexB rewrites an AVCC length-prefixed NALU stream (the framing
// RTMP/FLV/fMP4 all carry) into Annex-B (start-code delimited), the
// form MPEG-TS elementary streams require. lengthSize is the
// AVCDecoderConfigurationRecord's NALLengthSize (1, 2, or 4).
func ToAnnexB(avcc []byte, lengthSize int) ([]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, liveedgeerrors.NewMalformedPayload("avc.to_annexb", 0, nil)
	}
	out := make([]byte, 0, len(avcc)+16)
	pos := 0
	for pos < len(avcc) {
		if pos+lengthSize > len(avcc) {
			return nil, liveedgeerrors.NewMalformedPayload("avc.to_annexb.length", pos, nil)
		}
		var nalLen int
		switch lengthSize {
		case 1:
			nalLen = int(avcc[pos])
		case 2:
			nalLen = int(binary.BigEndian.Uint16(avcc[pos : pos+2]))
		case 4:
			nalLen = int(binary.BigEndian.Uint32(avcc[pos : pos+4]))
		}
		pos += lengthSize
		if pos+nalLen > len(avcc) {
			return nil, liveedgeerrors.NewMalformedPayload("avc.to_annexb.nalu", pos, nil)
		}
		out = append(out, startCode...)
		out = append(out, avcc[pos:pos+nalLen]...)
		pos += nalLen
	}
	return out, nil
}

// ParameterSetsAnnexB emits a DecoderConfig's SPS/PPS NALUs Annex-B
// framed, the prefix TS segmenters prepend ahead of every IDR access
// unit so a mid-stream joiner can decode without waiting for the next
// sequence header.
func (c *DecoderConfig) ParameterSetsAnnexB() []byte {
	var out []byte
	for _, sps := range c.SPS {
		out = append(out, startCode...)
		out = append(out, sps...)
	}
	for _, pps := range c.PPS {
		out = append(out, startCode...)
		out = append(out, pps...)
	}
	return out
}
