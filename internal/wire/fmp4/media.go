package fmp4

// Sample describes one encoded access unit going into a trun entry.
type Sample struct {
	Duration     uint32 // in the track's timescale
	Size         uint32
	Data         []byte
	SyncSample   bool  // true for a video keyframe / any audio sample
	CompositionOffset int32 // pts - dts, in the track's timescale
}

const (
	trunFlagDataOffsetPresent       = 0x000001
	trunFlagSampleDurationPresent   = 0x000100
	trunFlagSampleSizePresent       = 0x000200
	trunFlagSampleFlagsPresent      = 0x000400
	trunFlagSampleCompositionOffset = 0x000800

	tfhdFlagDefaultBaseIsMoof = 0x020000

	// sampleFlagNonSync marks a non-sync sample so trun's per-sample
	// flags let players seek to sync points without parsing payload.
	sampleFlagNonSync = 0x00010000
)

// MediaSegment builds one fMP4 media segment (styp + moof + mdat) for a
// single track, following the "self-contained fragment" layout players
// expect for low-latency live: sampleCompositionOffset/duration/size
// are all written explicitly so no earlier segment's moov needs
// revisiting.
func MediaSegment(trackID uint32, sequenceNumber uint32, baseDecodeTime uint64, samples []Sample) []byte {
	styp := SegmentType("msdh", 0, []string{"msdh", "msix"})
	moof := moofBox(trackID, sequenceNumber, baseDecodeTime, samples)
	mdat := mdatBox(samples)
	// trun's data-offset must point past moof into mdat; patch it now
	// that both box sizes are known.
	dataOffset := uint32(len(moof) + 8) // +8 for mdat's header
	patchTrunDataOffset(moof, dataOffset)
	out := make([]byte, 0, len(styp)+len(moof)+len(mdat))
	out = append(out, styp...)
	out = append(out, moof...)
	out = append(out, mdat...)
	return out
}

func mdatBox(samples []Sample) []byte {
	var body []byte
	for _, s := range samples {
		body = append(body, s.Data...)
	}
	return box("mdat", body)
}

func moofBox(trackID, sequenceNumber uint32, baseDecodeTime uint64, samples []Sample) []byte {
	mfhd := fullBox("mfhd", 0, 0, u32(sequenceNumber))
	traf := trafBox(trackID, baseDecodeTime, samples)
	return box("moof", mfhd, traf)
}

func trafBox(trackID uint32, baseDecodeTime uint64, samples []Sample) []byte {
	tfhd := fullBox("tfhd", 0, tfhdFlagDefaultBaseIsMoof, u32(trackID))
	tfdt := fullBox("tfdt", 1, 0, u64(baseDecodeTime))
	trun := trunBox(samples)
	return box("traf", tfhd, tfdt, trun)
}

// trunMarker is written in place of the real data offset so
// patchTrunDataOffset can find and overwrite it without re-walking the
// whole box tree; trun is always the last child written into traf.
const trunMarker = 0x7fffffff

func trunBox(samples []Sample) []byte {
	flags := trunFlagDataOffsetPresent | trunFlagSampleDurationPresent |
		trunFlagSampleSizePresent | trunFlagSampleFlagsPresent | trunFlagSampleCompositionOffset

	body := u32(uint32(len(samples)))
	body = append(body, u32(uint32(trunMarker))...) // data offset, patched below
	for _, s := range samples {
		flagsWord := uint32(0)
		if !s.SyncSample {
			flagsWord = sampleFlagNonSync
		}
		body = append(body, u32(s.Duration)...)
		body = append(body, u32(s.Size)...)
		body = append(body, u32(flagsWord)...)
		body = append(body, u32(uint32(s.CompositionOffset))...)
	}
	return fullBox("trun", 1, uint32(flags), body)
}

// patchTrunDataOffset rewrites the 4-byte data-offset field inside
// moof's trun box in place, locating it as the first occurrence of
// trunMarker in moof.
func patchTrunDataOffset(moof []byte, dataOffset uint32) {
	marker := u32(uint32(trunMarker))
	for i := 0; i+4 <= len(moof); i++ {
		if moof[i] == marker[0] && moof[i+1] == marker[1] && moof[i+2] == marker[2] && moof[i+3] == marker[3] {
			copy(moof[i:i+4], u32(dataOffset))
			return
		}
	}
}

// SegmentIndex builds a sidx box describing one media segment's
// timing for players that fetch it before the segment itself (DASH
// SegmentTimeline referencing a separate sidx, or low-latency HLS
// EXT-X-PART preload hints).
func SegmentIndex(trackID uint32, timescale uint32, earliestPresentationTime uint64, firstOffset uint64, referenceDuration uint32, referenceSize uint32) []byte {
	body := u32(trackID)
	body = append(body, u32(timescale)...)
	body = append(body, u32(uint32(earliestPresentationTime))...)
	body = append(body, u32(uint32(firstOffset))...)
	body = append(body, u16(0)...) // reserved
	body = append(body, u16(1)...) // reference_count
	refType := uint32(0)           // 0 = media reference
	sizeAndType := (refType << 31) | (referenceSize & 0x7fffffff)
	body = append(body, u32(sizeAndType)...)
	body = append(body, u32(referenceDuration)...)
	sapAndDelta := uint32(1) << 31 // starts_with_SAP=1, SAP type 1, no delta
	body = append(body, u32(sapAndDelta)...)
	return fullBox("sidx", 0, 0, body)
}
