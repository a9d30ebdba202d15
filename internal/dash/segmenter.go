package dash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/logger"
	"github.com/liveedge/hub/internal/media"
	"github.com/liveedge/hub/internal/wire/aac"
	"github.com/liveedge/hub/internal/wire/avc"
	"github.com/liveedge/hub/internal/wire/fmp4"
)

const (
	videoTimescale = 90000
	audioTimescale = 48000

	videoTrackID = 1
	audioTrackID = 2
)

// Config governs one stream's DASH segmenter.
type Config struct {
	OutputDir             string
	SegmentDuration       time.Duration
	WindowSize            int
	MinimumUpdatePeriodS  float64
	TimeShiftBufferDepthS float64
}

// Segmenter writes fMP4 init/media segments and a dynamic MPD for one
// LiveSource (spec §4.F).
type Segmenter struct {
	h    *hub.Hub
	key  media.StreamKey
	cfg  Config
	mf   *Manifest
	log  *logger.Logger

	videoCfg    *avc.DecoderConfig
	audioCfg    *aac.Config
	audioASC    []byte
	initWritten bool
}

// NewSegmenter prepares a DASH segmenter for key.
func NewSegmenter(h *hub.Hub, key media.StreamKey, cfg Config) (*Segmenter, error) {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = 4 * time.Second
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 6
	}
	if cfg.MinimumUpdatePeriodS <= 0 {
		cfg.MinimumUpdatePeriodS = cfg.SegmentDuration.Seconds()
	}
	if cfg.TimeShiftBufferDepthS <= 0 {
		cfg.TimeShiftBufferDepthS = cfg.SegmentDuration.Seconds() * float64(cfg.WindowSize)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, err
	}
	return &Segmenter{
		h:   h,
		key: key,
		cfg: cfg,
		log: logger.L().With("component", "dash", "stream_key", key.String()),
	}, nil
}

// Manifest exposes the live manifest for an HTTP handler to render,
// nil until the first sequence headers are observed.
func (s *Segmenter) Manifest() *Manifest { return s.mf }

// Run drives the segmenter until ctx is canceled or its consumer
// closes.
func (s *Segmenter) Run(ctx context.Context) error {
	play := s.h.Play(s.key, hub.Want{Audio: true, Video: true, Script: false})
	defer play.Close()

	var videoSamples, audioSamples []fmp4.Sample
	videoSeq, audioSeq := uint32(1), uint32(1)
	var videoBaseDTS, audioBaseDTS int64
	segStartDTS := int64(-1)
	var lastVideoDTS int64

	flushVideo := func() error {
		if len(videoSamples) == 0 {
			return nil
		}
		seg := fmp4.MediaSegment(videoTrackID, videoSeq, uint64(videoBaseDTS), videoSamples)
		name := fmt.Sprintf("video-%d.m4s", videoSeq)
		if err := writeAtomic(filepath.Join(s.cfg.OutputDir, name), seg); err != nil {
			return err
		}
		var total uint64
		for _, sm := range videoSamples {
			total += uint64(sm.Duration)
		}
		s.mf.AppendSegment("v0", total)
		videoBaseDTS += int64(total)
		videoSeq++
		videoSamples = videoSamples[:0]
		return nil
	}
	flushAudio := func() error {
		if len(audioSamples) == 0 {
			return nil
		}
		seg := fmp4.MediaSegment(audioTrackID, audioSeq, uint64(audioBaseDTS), audioSamples)
		name := fmt.Sprintf("audio-%d.m4s", audioSeq)
		if err := writeAtomic(filepath.Join(s.cfg.OutputDir, name), seg); err != nil {
			return err
		}
		var total uint64
		for _, sm := range audioSamples {
			total += uint64(sm.Duration)
		}
		if s.mf != nil {
			s.mf.AppendSegment("a0", total)
		}
		audioBaseDTS += int64(total)
		audioSeq++
		audioSamples = audioSamples[:0]
		return nil
	}

	for {
		msg, err := play.Dequeue(ctx)
		if err != nil {
			_ = flushVideo()
			_ = flushAudio()
			return err
		}

		switch {
		case msg.IsSequenceHeader() && msg.Kind == media.KindVideo:
			cfg, perr := avc.ParseDecoderConfig(msg.Payload.Bytes())
			if perr == nil {
				s.videoCfg = cfg
				s.maybeWriteInit()
			}
			msg.Release()
			continue
		case msg.IsSequenceHeader() && msg.Kind == media.KindAudio:
			asc := msg.Payload.Bytes()[2:]
			cfg, perr := aac.ParseAudioSpecificConfig(asc)
			if perr == nil {
				s.audioCfg = cfg
				s.audioASC = append([]byte(nil), asc...)
				s.maybeWriteInit()
			}
			msg.Release()
			continue
		case msg.Kind == media.KindScript:
			msg.Release()
			continue
		}

		if s.mf == nil {
			// Init segment (and therefore the manifest) isn't ready yet;
			// frames arriving before both sequence headers are seen can't
			// be placed in a fragment with a valid track description.
			msg.Release()
			continue
		}

		switch msg.Kind {
		case media.KindVideo:
			if msg.IsKeyFrame() {
				if segStartDTS >= 0 && msg.VirtualDts-segStartDTS >= s.cfg.SegmentDuration.Milliseconds() {
					if err := flushVideo(); err != nil {
						msg.Release()
						return err
					}
					segStartDTS = -1
				}
				if segStartDTS < 0 {
					segStartDTS = msg.VirtualDts
				}
			}
			if segStartDTS < 0 {
				msg.Release()
				continue
			}
			body := msg.Payload.Bytes()
			if len(body) < 5 || s.videoCfg == nil {
				msg.Release()
				continue
			}
			dur := uint32(videoTimescale * (msg.VirtualDts - lastVideoDTS) / 1000)
			if lastVideoDTS == 0 {
				dur = uint32(videoTimescale * 40 / 1000) // nominal until a second frame establishes cadence
			}
			lastVideoDTS = msg.VirtualDts
			videoSamples = append(videoSamples, fmp4.Sample{
				Duration:          dur,
				Size:              uint32(len(body) - 5),
				Data:              append([]byte(nil), body[5:]...),
				SyncSample:        msg.IsKeyFrame(),
				CompositionOffset: int32(videoTimescale * (msg.VirtualPts - msg.VirtualDts) / 1000),
			})
		case media.KindAudio:
			if segStartDTS < 0 {
				msg.Release()
				continue
			}
			body := msg.Payload.Bytes()
			if len(body) < 2 {
				msg.Release()
				continue
			}
			audioSamples = append(audioSamples, fmp4.Sample{
				Duration:   1024, // one AAC frame at the codec's native rate
				Size:       uint32(len(body) - 2),
				Data:       append([]byte(nil), body[2:]...),
				SyncSample: true,
			})
			if len(audioSamples) >= 40 { // ~0.85s at 1024/48000; flush independent of video cadence
				_ = flushAudio()
			}
		}
		msg.Release()
	}
}

func (s *Segmenter) maybeWriteInit() {
	if s.videoCfg == nil || s.audioCfg == nil || s.initWritten {
		return
	}
	tracks := []fmp4.TrackConfig{
		{TrackID: videoTrackID, Timescale: videoTimescale, IsVideo: true, AVCC: buildAVCC(s.videoCfg)},
		{TrackID: audioTrackID, Timescale: audioTimescale, SampleRate: uint32(s.audioCfg.SampleRate),
			Channels: uint16(s.audioCfg.ChannelConfig), ESDS: aac.BuildESDS(s.audioASC)},
	}
	init := fmp4.InitSegment(tracks)
	if err := writeAtomic(filepath.Join(s.cfg.OutputDir, "init.mp4"), init); err != nil {
		s.log.Warn("failed to write dash init segment", "error", err.Error())
		return
	}
	s.initWritten = true
	s.mf = NewManifest([]TrackInfo{
		{ID: "v0", MimeType: "video/mp4", Codecs: avcCodecString(s.videoCfg), Timescale: videoTimescale},
		{ID: "a0", MimeType: "audio/mp4", Codecs: "mp4a.40.2", SampleRate: s.audioCfg.SampleRate, Timescale: audioTimescale},
	}, s.cfg.WindowSize, s.cfg.MinimumUpdatePeriodS, s.cfg.TimeShiftBufferDepthS)
}

func buildAVCC(cfg *avc.DecoderConfig) []byte {
	// The AVCDecoderConfigurationRecord is exactly the FLV sequence
	// header payload already parsed into cfg; re-derive its raw form
	// since ParseDecoderConfig doesn't retain the original bytes.
	out := []byte{0x01, cfg.ProfileIndication, cfg.ProfileCompatibility, cfg.LevelIndication, 0xFF}
	out = append(out, byte(0xE0|len(cfg.SPS)))
	for _, sps := range cfg.SPS {
		out = append(out, byte(len(sps)>>8), byte(len(sps)))
		out = append(out, sps...)
	}
	out = append(out, byte(len(cfg.PPS)))
	for _, pps := range cfg.PPS {
		out = append(out, byte(len(pps)>>8), byte(len(pps)))
		out = append(out, pps...)
	}
	return out
}

func avcCodecString(cfg *avc.DecoderConfig) string {
	return fmt.Sprintf("avc1.%02X%02X%02X", cfg.ProfileIndication, cfg.ProfileCompatibility, cfg.LevelIndication)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
