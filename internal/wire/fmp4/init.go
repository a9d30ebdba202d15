package fmp4

// TrackConfig describes one elementary stream for InitSegment.
type TrackConfig struct {
	TrackID   uint32
	Timescale uint32
	IsVideo   bool
	Width     uint16 // video only
	Height    uint16 // video only
	AVCC      []byte // avcC box payload (SPS/PPS), video only
	SampleRate uint32 // audio only
	Channels   uint16 // audio only
	ESDS       []byte // esds box payload (AudioSpecificConfig wrapped), audio only
}

// InitSegment builds ftyp+moov for a DASH/fMP4 init segment covering
// the given tracks.
func InitSegment(tracks []TrackConfig) []byte {
	ftyp := FileType("iso5", 1, []string{"iso5", "dash"})

	mvhd := fullBox("mvhd", 0, 0,
		u32(0), u32(0), // creation/modification time
		u32(1000),      // timescale
		u32(0),         // duration (0, unknown for fragmented)
		u32(0x00010000), // rate 1.0
		u16(0x0100), u16(0), // volume 1.0, reserved
		u32(0), u32(0), // reserved
		identityMatrix(),
		make([]byte, 24), // pre_defined
		u32(uint32(len(tracks))+1), // next_track_id
	)

	body := [][]byte{ftyp, box("moov", append([][]byte{mvhd}, traks(tracks)...)...)}
	return concat(body...)
}

func traks(tracks []TrackConfig) [][]byte {
	out := make([][]byte, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, trak(tr))
	}
	out = append(out, mvex(tracks))
	return out
}

func trak(tr TrackConfig) []byte {
	tkhd := fullBox("tkhd", 0, 0x000007, // enabled+in_movie+in_preview
		u32(0), u32(0), // creation/modification time
		u32(tr.TrackID),
		u32(0), // reserved
		u32(0), // duration
		make([]byte, 8), // reserved
		u16(0), u16(0), // layer, alternate_group
		u16(0), u16(0), // volume, reserved
		identityMatrix(),
		u32(uint32(tr.Width)<<16), u32(uint32(tr.Height)<<16),
	)

	mdhd := fullBox("mdhd", 0, 0,
		u32(0), u32(0),
		u32(tr.Timescale),
		u32(0),
		u16(0x55C4), u16(0), // language "und", pre_defined
	)
	handlerType := "soun"
	handlerName := []byte("SoundHandler\x00")
	if tr.IsVideo {
		handlerType = "vide"
		handlerName = []byte("VideoHandler\x00")
	}
	hdlr := fullBox("hdlr", 0, 0, u32(0), []byte(handlerType), make([]byte, 12), handlerName)

	var mediaHeader []byte
	var sampleEntry []byte
	if tr.IsVideo {
		mediaHeader = box("vmhd", fullBox("vmhd", 0, 1, u16(0), u16(0), u16(0), u16(0))[8:])
		sampleEntry = avc1(tr)
	} else {
		mediaHeader = box("smhd", fullBox("smhd", 0, 0, u16(0), u16(0))[8:])
		sampleEntry = mp4a(tr)
	}

	dinf := box("dinf", box("dref", fullBox("url ", 0, 1)))
	stsd := fullBox("stsd", 0, 0, u32(1), sampleEntry)
	stbl := box("stbl", stsd, emptyTable("stts"), emptyTable("stsc"), emptyTable("stsz", true), emptyTable("stco"))
	minf := box("minf", mediaHeader, dinf, stbl)
	mdia := box("mdia", mdhd, hdlr, minf)
	return box("trak", tkhd, mdia)
}

func avc1(tr TrackConfig) []byte {
	entry := concat(
		make([]byte, 6), u16(1), // reserved, data_reference_index
		u16(0), u16(0), // pre_defined, reserved
		make([]byte, 12), // pre_defined
		u16(tr.Width), u16(tr.Height),
		u32(0x00480000), u32(0x00480000), // horiz/vert resolution 72dpi
		u32(0), // reserved
		u16(1), // frame_count
		make([]byte, 32), // compressorname
		u16(0x0018), // depth
		u16(0xFFFF), // pre_defined
	)
	avcC := box("avcC", tr.AVCC)
	return box("avc1", entry, avcC)
}

func mp4a(tr TrackConfig) []byte {
	entry := concat(
		make([]byte, 6), u16(1),
		u16(0), u16(0),
		u32(0), u32(0),
		u16(tr.Channels), u16(16), // channelcount, samplesize
		u16(0), u16(0),
		u32(tr.SampleRate<<16),
	)
	esds := box("esds", tr.ESDS)
	return box("mp4a", entry, esds)
}

func emptyTable(name string, szVariant ...bool) []byte {
	if name == "stsz" {
		return fullBox("stsz", 0, 0, u32(0), u32(0))
	}
	return fullBox(name, 0, 0, u32(0))
}

func mvex(tracks []TrackConfig) []byte {
	trexes := make([][]byte, 0, len(tracks))
	for _, tr := range tracks {
		trexes = append(trexes, fullBox("trex", 0, 0,
			u32(tr.TrackID),
			u32(1), // default_sample_description_index
			u32(0), u32(0), u32(0),
		))
	}
	return box("mvex", trexes...)
}

func identityMatrix() []byte {
	return concat(
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
	)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
