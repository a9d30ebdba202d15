// Package avc parses the pieces of an H.264 AVCDecoderConfigurationRecord
// and SPS NALU the segmenters need: profile/level (for fMP4 avcC/moov
// boxes and HLS CODECS attributes) and picture width/height (for DASH
// AdaptationSet dimensions).
package avc

import (
	liveedgeerrors "github.com/liveedge/hub/internal/errors"
	"github.com/liveedge/hub/internal/wire/bitreader"
)

// DecoderConfig is the parsed form of an AVCDecoderConfigurationRecord,
// the payload of an AVC video sequence header.
type DecoderConfig struct {
	ProfileIndication    uint8
	ProfileCompatibility uint8
	LevelIndication      uint8
	NALLengthSize        int
	SPS                  [][]byte
	PPS                  [][]byte
}

// ParseDecoderConfig parses an AVCDecoderConfigurationRecord (ISO
// 14496-15 §5.2.4.1), the body that follows the two-byte
// [VideoHeader][AVCPacketType] prefix on an AVC sequence-header tag.
func ParseDecoderConfig(data []byte) (*DecoderConfig, error) {
	if len(data) < 7 {
		return nil, liveedgeerrors.NewMalformedPayload("avc.decoder_config", 0, nil)
	}
	cfg := &DecoderConfig{
		ProfileIndication:    data[1],
		ProfileCompatibility: data[2],
		LevelIndication:      data[3],
		NALLengthSize:        int(data[4]&0x03) + 1,
	}
	pos := 5
	numSPS := int(data[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(data) {
			return nil, liveedgeerrors.NewMalformedPayload("avc.decoder_config.sps_len", pos, nil)
		}
		length := int(data[pos])<<8 | int(data[pos+1])
		pos += 2
		if pos+length > len(data) {
			return nil, liveedgeerrors.NewMalformedPayload("avc.decoder_config.sps_body", pos, nil)
		}
		cfg.SPS = append(cfg.SPS, data[pos:pos+length])
		pos += length
	}
	if pos >= len(data) {
		return cfg, nil
	}
	numPPS := int(data[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		if pos+2 > len(data) {
			break
		}
		length := int(data[pos])<<8 | int(data[pos+1])
		pos += 2
		if pos+length > len(data) {
			break
		}
		cfg.PPS = append(cfg.PPS, data[pos:pos+length])
		pos += length
	}
	return cfg, nil
}

// Dimensions holds the decoded picture size from an SPS.
type Dimensions struct {
	Width  int
	Height int
}

// ParseSPSDimensions decodes just enough of an SPS NALU (minus its
// 1-byte NAL header) to compute the coded picture width and height,
// accounting for cropping.
func ParseSPSDimensions(sps []byte) (Dimensions, error) {
	if len(sps) < 4 {
		return Dimensions{}, liveedgeerrors.NewMalformedPayload("avc.sps", 0, nil)
	}
	r := bitreader.New(sps[1:]) // skip the NAL header byte
	profileIdc, err := r.Bits(8)
	if err != nil {
		return Dimensions{}, err
	}
	if _, err := r.Bits(8); err != nil { // constraint flags + reserved
		return Dimensions{}, err
	}
	if _, err := r.Bits(8); err != nil { // level_idc
		return Dimensions{}, err
	}
	if _, err := r.UE(); err != nil { // seq_parameter_set_id
		return Dimensions{}, err
	}

	chromaFormatIdc := uint32(1)
	if isHighProfile(uint8(profileIdc)) {
		var err error
		chromaFormatIdc, err = r.UE()
		if err != nil {
			return Dimensions{}, err
		}
		if chromaFormatIdc == 3 {
			if _, err := r.Bit(); err != nil { // separate_colour_plane_flag
				return Dimensions{}, err
			}
		}
		if _, err := r.UE(); err != nil { // bit_depth_luma_minus8
			return Dimensions{}, err
		}
		if _, err := r.UE(); err != nil { // bit_depth_chroma_minus8
			return Dimensions{}, err
		}
		if _, err := r.Bit(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return Dimensions{}, err
		}
		seqScalingMatrixPresent, err := r.Bit()
		if err != nil {
			return Dimensions{}, err
		}
		if seqScalingMatrixPresent != 0 {
			count := 8
			if chromaFormatIdc == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				present, err := r.Bit()
				if err != nil {
					return Dimensions{}, err
				}
				if present != 0 {
					return Dimensions{}, liveedgeerrors.NewMalformedPayload("avc.sps.scaling_list_unsupported", 0, nil)
				}
			}
		}
	}

	if _, err := r.UE(); err != nil { // log2_max_frame_num_minus4
		return Dimensions{}, err
	}
	picOrderCntType, err := r.UE()
	if err != nil {
		return Dimensions{}, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := r.UE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return Dimensions{}, err
		}
	case 1:
		if _, err := r.Bit(); err != nil { // delta_pic_order_always_zero_flag
			return Dimensions{}, err
		}
		if _, err := r.SE(); err != nil { // offset_for_non_ref_pic
			return Dimensions{}, err
		}
		if _, err := r.SE(); err != nil { // offset_for_top_to_bottom_field
			return Dimensions{}, err
		}
		numRefFrames, err := r.UE()
		if err != nil {
			return Dimensions{}, err
		}
		for i := uint32(0); i < numRefFrames; i++ {
			if _, err := r.SE(); err != nil {
				return Dimensions{}, err
			}
		}
	}
	if _, err := r.UE(); err != nil { // max_num_ref_frames
		return Dimensions{}, err
	}
	if _, err := r.Bit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return Dimensions{}, err
	}
	picWidthInMbsMinus1, err := r.UE()
	if err != nil {
		return Dimensions{}, err
	}
	picHeightInMapUnitsMinus1, err := r.UE()
	if err != nil {
		return Dimensions{}, err
	}
	frameMbsOnly, err := r.Bit()
	if err != nil {
		return Dimensions{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := r.Bit(); err != nil { // mb_adaptive_frame_field_flag
			return Dimensions{}, err
		}
	}
	if _, err := r.Bit(); err != nil { // direct_8x8_inference_flag
		return Dimensions{}, err
	}
	cropLeft, cropRight, cropTop, cropBottom := uint32(0), uint32(0), uint32(0), uint32(0)
	cropPresent, err := r.Bit()
	if err != nil {
		return Dimensions{}, err
	}
	if cropPresent != 0 {
		if cropLeft, err = r.UE(); err != nil {
			return Dimensions{}, err
		}
		if cropRight, err = r.UE(); err != nil {
			return Dimensions{}, err
		}
		if cropTop, err = r.UE(); err != nil {
			return Dimensions{}, err
		}
		if cropBottom, err = r.UE(); err != nil {
			return Dimensions{}, err
		}
	}

	width := (int(picWidthInMbsMinus1) + 1) * 16
	heightMapUnits := (int(picHeightInMapUnitsMinus1) + 1) * 16
	height := heightMapUnits
	if frameMbsOnly == 0 {
		height *= 2
	}

	subWidthC, subHeightC := 2, 2
	if chromaFormatIdc == 3 {
		subWidthC, subHeightC = 1, 1
	} else if chromaFormatIdc == 0 {
		subWidthC, subHeightC = 1, 1
	}
	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - int(frameMbsOnly))

	width -= cropUnitX * int(cropLeft+cropRight)
	height -= cropUnitY * int(cropTop+cropBottom)

	return Dimensions{Width: width, Height: height}, nil
}

func isHighProfile(profileIdc uint8) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	default:
		return false
	}
}
