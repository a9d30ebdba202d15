package fmp4

import (
	"encoding/binary"
	"testing"
)

func TestMediaSegmentStructure(t *testing.T) {
	samples := []Sample{
		{Duration: 40, Size: 4, Data: []byte{1, 2, 3, 4}, SyncSample: true},
		{Duration: 40, Size: 3, Data: []byte{5, 6, 7}, SyncSample: false, CompositionOffset: 40},
	}
	seg := MediaSegment(1, 7, 1000, samples)

	pos := 0
	readBox := func() (string, []byte) {
		size := binary.BigEndian.Uint32(seg[pos : pos+4])
		typ := string(seg[pos+4 : pos+8])
		body := seg[pos+8 : pos+int(size)]
		pos += int(size)
		return typ, body
	}

	typ, _ := readBox()
	if typ != "styp" {
		t.Fatalf("first box = %q, want styp", typ)
	}
	typ, moofBody := readBox()
	if typ != "moof" {
		t.Fatalf("second box = %q, want moof", typ)
	}
	if len(moofBody) == 0 {
		t.Fatalf("moof body empty")
	}
	typ, mdatBody := readBox()
	if typ != "mdat" {
		t.Fatalf("third box = %q, want mdat", typ)
	}
	want := append(append([]byte{}, samples[0].Data...), samples[1].Data...)
	if string(mdatBody) != string(want) {
		t.Fatalf("mdat payload mismatch")
	}
	if pos != len(seg) {
		t.Fatalf("trailing bytes after mdat: pos=%d len=%d", pos, len(seg))
	}
}

func TestSegmentIndexRoundTripFields(t *testing.T) {
	sidx := SegmentIndex(1, 90000, 1000, 0, 2000, 512)
	if string(sidx[4:8]) != "sidx" {
		t.Fatalf("box type = %q, want sidx", sidx[4:8])
	}
	trackID := binary.BigEndian.Uint32(sidx[12:16])
	if trackID != 1 {
		t.Fatalf("track id = %d, want 1", trackID)
	}
	timescale := binary.BigEndian.Uint32(sidx[16:20])
	if timescale != 90000 {
		t.Fatalf("timescale = %d, want 90000", timescale)
	}
}
