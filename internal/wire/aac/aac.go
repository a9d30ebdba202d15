// Package aac parses AudioSpecificConfig (the payload of an AAC audio
// sequence header) and frames raw AAC access units with an ADTS
// header, the form MPEG-TS elementary streams require.
package aac

import liveedgeerrors "github.com/liveedge/hub/internal/errors"

var sampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// Config is the parsed form of an AudioSpecificConfig (ISO 14496-3).
type Config struct {
	ObjectType      uint8
	SampleRateIndex uint8
	SampleRate      int
	ChannelConfig   uint8
}

// ParseAudioSpecificConfig decodes the two-byte (minimum) config that
// follows the [SoundFormat/Rate/Size/Type][AACPacketType] prefix on an
// AAC audio sequence-header tag.
func ParseAudioSpecificConfig(data []byte) (*Config, error) {
	if len(data) < 2 {
		return nil, liveedgeerrors.NewMalformedPayload("aac.audio_specific_config", 0, nil)
	}
	objectType := data[0] >> 3
	rateIdx := ((data[0] & 0x07) << 1) | (data[1] >> 7)
	channels := (data[1] >> 3) & 0x0F
	if rateIdx >= 16 {
		return nil, liveedgeerrors.NewMalformedPayload("aac.audio_specific_config.rate", 0, nil)
	}
	return &Config{
		ObjectType:      objectType,
		SampleRateIndex: rateIdx,
		SampleRate:      sampleRates[rateIdx],
		ChannelConfig:   channels,
	}, nil
}

// ADTSHeader returns the 7-byte ADTS header (no CRC) to prepend to one
// raw AAC access unit of the given total frame length (header + data).
func (c *Config) ADTSHeader(frameLen int) []byte {
	h := make([]byte, 7)
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, no CRC
	profile := c.ObjectType - 1
	h[2] = (profile << 6) | (c.SampleRateIndex << 2) | ((c.ChannelConfig >> 2) & 0x01)
	h[3] = (c.ChannelConfig&0x03)<<6 | byte((frameLen>>11)&0x03)
	h[4] = byte((frameLen >> 3) & 0xFF)
	h[5] = byte((frameLen&0x07)<<5) | 0x1F
	h[6] = 0xFC
	return h
}

// ToADTS wraps a raw AAC access unit with its ADTS header.
func (c *Config) ToADTS(raw []byte) []byte {
	frameLen := len(raw) + 7
	out := make([]byte, 0, frameLen)
	out = append(out, c.ADTSHeader(frameLen)...)
	out = append(out, raw...)
	return out
}

// descriptor encodes one MPEG-4 descriptor tag+length(as a single
// byte, sufficient for every field this package ever emits)+payload.
func descriptor(tag byte, payload []byte) []byte {
	out := []byte{tag, byte(len(payload))}
	return append(out, payload...)
}

// BuildESDS wraps a raw AudioSpecificConfig in the minimal
// ES_Descriptor/DecoderConfigDescriptor/SLConfigDescriptor chain an
// fMP4 esds box needs (ISO 14496-1 §7.2.6.5), object type indication
// 0x40 (MPEG-4 Audio / AAC).
func BuildESDS(asc []byte) []byte {
	dsi := descriptor(0x05, asc)
	decConfig := descriptor(0x04, append([]byte{
		0x40,       // objectTypeIndication: MPEG-4 Audio
		0x15,       // streamType=audio(5)<<2 | upStream=0 | reserved=1
		0, 0, 0,    // bufferSizeDB
		0, 1, 0xF4, 0, // maxBitrate
		0, 1, 0xF4, 0, // avgBitrate
	}, dsi...))
	slConfig := descriptor(0x06, []byte{0x02})
	es := descriptor(0x03, append(append([]byte{0x00, 0x00, 0x00}, decConfig...), slConfig...))
	return es
}
