package hls

import (
	"strings"
	"testing"
)

func TestPlaylistSlidingWindow(t *testing.T) {
	p := NewPlaylist(2, 4)
	p.Append(Segment{SeqNo: 0, Name: "seg-0.ts", DurationS: 4})
	p.Append(Segment{SeqNo: 1, Name: "seg-1.ts", DurationS: 4})
	p.Append(Segment{SeqNo: 2, Name: "seg-2.ts", DurationS: 4})

	if p.SegmentCount() != 2 {
		t.Fatalf("expected window size 2, got %d", p.SegmentCount())
	}
	out := p.Render()
	if strings.Contains(out, "seg-0.ts") {
		t.Fatalf("evicted segment still present in playlist: %s", out)
	}
	if !strings.Contains(out, "EXT-X-MEDIA-SEQUENCE:1") {
		t.Fatalf("media sequence not advanced: %s", out)
	}
	if !strings.Contains(out, "seg-2.ts") {
		t.Fatalf("latest segment missing: %s", out)
	}
}

func TestPlaylistEndAppendsEndlist(t *testing.T) {
	p := NewPlaylist(3, 4)
	p.Append(Segment{SeqNo: 0, Name: "seg-0.ts", DurationS: 4})
	p.End()
	out := p.Render()
	if !strings.HasSuffix(strings.TrimRight(out, "\n"), "#EXT-X-ENDLIST") {
		t.Fatalf("expected ENDLIST at end of playlist: %s", out)
	}
}
