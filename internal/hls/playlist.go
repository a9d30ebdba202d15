package hls

import (
	"fmt"
	"strings"
	"sync"
)

// Segment describes one media segment entry in a playlist.
type Segment struct {
	SeqNo          uint64
	Name           string
	DurationS      float64
	Discontinuity  bool
}

// Playlist is a fixed-capacity sliding-window M3U8 media playlist
// (spec §4.E "windowed playlist"), modeled after the MediaPlaylist
// FIFO shape in the retrieved m3u8 libraries but trimmed to exactly
// what a live HLS writer needs: append, evict oldest, render.
type Playlist struct {
	mu              sync.Mutex
	windowSize      int
	targetDuration  int
	mediaSeq        uint64
	segments        []Segment
	ended           bool
}

// NewPlaylist creates a sliding-window playlist retaining at most
// windowSize segments.
func NewPlaylist(windowSize int, targetDurationS int) *Playlist {
	if windowSize <= 0 {
		windowSize = 6
	}
	if targetDurationS <= 0 {
		targetDurationS = 6
	}
	return &Playlist{windowSize: windowSize, targetDuration: targetDurationS}
}

// Append adds a new segment, evicting the oldest once the window is
// full and advancing EXT-X-MEDIA-SEQUENCE to match.
func (p *Playlist) Append(seg Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments = append(p.segments, seg)
	if d := int(seg.DurationS + 0.999); d > p.targetDuration {
		p.targetDuration = d
	}
	for len(p.segments) > p.windowSize {
		p.segments = p.segments[1:]
		p.mediaSeq++
	}
}

// End marks the playlist closed, appending EXT-X-ENDLIST to future
// renders. Used when the publisher disconnects and no more segments
// will be produced.
func (p *Playlist) End() {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
}

// Render encodes the current playlist window as M3U8 text.
func (p *Playlist) Render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-ALLOW-CACHE:NO\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.targetDuration)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.mediaSeq)
	for _, seg := range p.segments {
		if seg.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n%s\n", seg.DurationS, seg.Name)
	}
	if p.ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// SegmentCount reports the current window size, for tests/diagnostics.
func (p *Playlist) SegmentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.segments)
}
