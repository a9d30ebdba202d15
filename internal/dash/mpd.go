package dash

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// mpd mirrors just the elements a live dynamic DASH manifest needs;
// encoding/xml's struct tags are the whole implementation, matching
// spec.md §9's resolved "stdlib is the right tool" call (DASH's MPD
// schema is strict, small and stable — no generation library is
// warranted).
type mpd struct {
	XMLName                   xml.Name `xml:"MPD"`
	Xmlns                     string   `xml:"xmlns,attr"`
	Profiles                  string   `xml:"profiles,attr"`
	Type                      string   `xml:"type,attr"`
	MinimumUpdatePeriod       string   `xml:"minimumUpdatePeriod,attr"`
	AvailabilityStartTime     string   `xml:"availabilityStartTime,attr"`
	TimeShiftBufferDepth      string   `xml:"timeShiftBufferDepth,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	Period                    period   `xml:"Period"`
}

type period struct {
	ID              string          `xml:"id,attr"`
	Start           string          `xml:"start,attr"`
	AdaptationSets  []adaptationSet `xml:"AdaptationSet"`
}

type adaptationSet struct {
	MimeType        string           `xml:"mimeType,attr"`
	SegmentAlignment bool            `xml:"segmentAlignment,attr"`
	Representation  representation  `xml:"Representation"`
}

type representation struct {
	ID             string          `xml:"id,attr"`
	Codecs         string          `xml:"codecs,attr"`
	Bandwidth      int             `xml:"bandwidth,attr"`
	Width          int             `xml:"width,attr,omitempty"`
	Height         int             `xml:"height,attr,omitempty"`
	SampleRate     int             `xml:"audioSamplingRate,attr,omitempty"`
	SegmentTemplate segmentTemplate `xml:"SegmentTemplate"`
}

type segmentTemplate struct {
	Timescale      uint32          `xml:"timescale,attr"`
	Initialization string          `xml:"initialization,attr"`
	Media          string          `xml:"media,attr"`
	StartNumber    uint64          `xml:"startNumber,attr"`
	Timeline       segmentTimeline `xml:"SegmentTimeline"`
}

type segmentTimeline struct {
	S []timelineEntry `xml:"S"`
}

type timelineEntry struct {
	T uint64 `xml:"t,attr,omitempty"`
	D uint64 `xml:"d,attr"`
	R int    `xml:"r,attr,omitempty"`
}

// TrackInfo describes one representation's static parameters for the
// manifest writer.
type TrackInfo struct {
	ID         string
	MimeType   string // "video/mp4" or "audio/mp4"
	Codecs     string
	Bandwidth  int
	Width      int
	Height     int
	SampleRate int
	Timescale  uint32
}

// segmentEntry is one SegmentTimeline <S> element tracked per track.
type segmentEntry struct {
	duration uint64
}

// Manifest accumulates a live source's segment timeline and renders a
// dynamic MPD on demand (spec §4.F "dynamic MPD"). AvailabilityStartTime
// is latched at the first segment observed, per spec.md §9's resolved
// open question.
type Manifest struct {
	mu                    sync.Mutex
	tracks                []TrackInfo
	timelines             map[string][]segmentEntry
	windowSize            int
	availabilityStart     time.Time
	availabilityStartSet  bool
	minUpdatePeriodS      float64
	timeShiftBufferDepthS float64
}

// NewManifest creates a manifest for the given tracks.
func NewManifest(tracks []TrackInfo, windowSize int, minUpdatePeriodS, timeShiftBufferDepthS float64) *Manifest {
	if windowSize <= 0 {
		windowSize = 6
	}
	tl := make(map[string][]segmentEntry, len(tracks))
	for _, tr := range tracks {
		tl[tr.ID] = nil
	}
	return &Manifest{
		tracks:                tracks,
		timelines:             tl,
		windowSize:            windowSize,
		minUpdatePeriodS:      minUpdatePeriodS,
		timeShiftBufferDepthS: timeShiftBufferDepthS,
	}
}

// AppendSegment records one new media segment's duration for trackID,
// latching availabilityStartTime on the very first call across any
// track.
func (m *Manifest) AppendSegment(trackID string, durationTicks uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.availabilityStartSet {
		m.availabilityStart = time.Now().UTC()
		m.availabilityStartSet = true
	}
	entries := append(m.timelines[trackID], segmentEntry{duration: durationTicks})
	if len(entries) > m.windowSize {
		entries = entries[len(entries)-m.windowSize:]
	}
	m.timelines[trackID] = entries
}

// Render encodes the current manifest state as MPD XML.
func (m *Manifest) Render(initPattern, mediaPattern string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := mpd{
		Xmlns:                 "urn:mpeg:dash:schema:mpd:2011",
		Profiles:              "urn:mpeg:dash:profile:isoff-live:2011",
		Type:                  "dynamic",
		MinimumUpdatePeriod:   durationToISO(m.minUpdatePeriodS),
		TimeShiftBufferDepth:  durationToISO(m.timeShiftBufferDepthS),
		MinBufferTime:         "PT2S",
		Period:                period{ID: "0", Start: "PT0S"},
	}
	if m.availabilityStartSet {
		doc.AvailabilityStartTime = m.availabilityStart.Format(time.RFC3339)
	}

	for _, tr := range m.tracks {
		var s []timelineEntry
		for _, e := range m.timelines[tr.ID] {
			s = append(s, timelineEntry{D: e.duration})
		}
		as := adaptationSet{
			MimeType:         tr.MimeType,
			SegmentAlignment: true,
			Representation: representation{
				ID:         tr.ID,
				Codecs:     tr.Codecs,
				Bandwidth:  tr.Bandwidth,
				Width:      tr.Width,
				Height:     tr.Height,
				SampleRate: tr.SampleRate,
				SegmentTemplate: segmentTemplate{
					Timescale:      tr.Timescale,
					Initialization: replaceID(initPattern, tr.ID),
					Media:          replaceID(mediaPattern, tr.ID),
					StartNumber:    1,
					Timeline:       segmentTimeline{S: s},
				},
			},
		}
		doc.Period.AdaptationSets = append(doc.Period.AdaptationSets, as)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func replaceID(pattern, id string) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		if i+4 <= len(pattern) && pattern[i:i+4] == "$ID$" {
			out = append(out, id...)
			i += 3
			continue
		}
		out = append(out, pattern[i])
	}
	return string(out)
}

func durationToISO(seconds float64) string {
	if seconds <= 0 {
		return "PT0S"
	}
	return fmt.Sprintf("PT%sS", strconv.FormatFloat(seconds, 'f', -1, 64))
}
