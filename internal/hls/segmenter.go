package hls

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
	"github.com/liveedge/hub/internal/wire/ts"
)

// Config governs one stream's segmenter.
type Config struct {
	OutputDir      string
	TargetDuration time.Duration
	WindowSize     int
}

// Segmenter cuts one LiveSource's media into MPEG-TS segments and
// maintains the sliding-window playlist describing them (spec §4.E).
// It is an ordinary hub.Consumer; nothing about it is privileged.
type Segmenter struct {
	h    *hub.Hub
	key  media.StreamKey
	cfg  Config
	pl   *Playlist
	log  *logger.Logger

	videoCfg *avc.DecoderConfig
	audioCfg *aac.Config
}

// NewSegmenter prepares (but does not start) a segmenter for key,
// creating its output directory.
func NewSegmenter(h *hub.Hub, key media.StreamKey, cfg Config) (*Segmenter, error) {
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = 6 * time.Second
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 6
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, err
	}
	return &Segmenter{
		h:   h,
		key: key,
		cfg: cfg,
		pl:  NewPlaylist(cfg.WindowSize, int(cfg.TargetDuration.Seconds())),
		log: logger.L().With("component", "hls", "stream_key", key.String()),
	}, nil
}

// Playlist exposes the live playlist for an HTTP handler to render.
func (s *Segmenter) Playlist() *Playlist { return s.pl }

// Run drives the segmenter until ctx is canceled or the source's
// consumer is closed (publisher reaped past the idle grace period).
func (s *Segmenter) Run(ctx context.Context) error {
	play := s.h.Play(s.key, hub.Want{Audio: true, Video: true, Script: false})
	defer play.Close()
	defer s.pl.End()

	var pending []media.Message
	var pendingPayloads []*media.RefPayload
	segStart := int64(-1)
	hasAudio := false
	seq := uint64(0)

	flush := func(discontinuity bool) error {
		if len(pending) == 0 {
			return nil
		}
		muxer := ts.NewMuxer(hasAudio)
		for i := range pending {
			if err := s.writeSample(muxer, &pending[i]); err != nil {
				s.log.Warn("dropping unwritable sample", "error", err.Error())
			}
		}
		name := fmt.Sprintf("seg-%08d.ts", seq)
		if err := writeAtomic(filepath.Join(s.cfg.OutputDir, name), muxer.Bytes()); err != nil {
			return err
		}
		durMS := pending[len(pending)-1].VirtualDts - pending[0].VirtualDts
		s.pl.Append(Segment{SeqNo: seq, Name: name, DurationS: float64(durMS) / 1000.0, Discontinuity: discontinuity})
		seq++
		for _, p := range pendingPayloads {
			p.Release()
		}
		pending = pending[:0]
		pendingPayloads = pendingPayloads[:0]
		return nil
	}

	for {
		msg, err := play.Dequeue(ctx)
		if err != nil {
			_ = flush(false)
			return err
		}

		switch {
		case msg.IsSequenceHeader() && msg.Kind == media.KindVideo:
			cfg, perr := avc.ParseDecoderConfig(msg.Payload.Bytes())
			if perr == nil {
				s.videoCfg = cfg
			}
			msg.Release()
			continue
		case msg.IsSequenceHeader() && msg.Kind == media.KindAudio:
			cfg, perr := aac.ParseAudioSpecificConfig(msg.Payload.Bytes()[2:])
			if perr == nil {
				s.audioCfg = cfg
				hasAudio = true
			}
			msg.Release()
			continue
		case msg.Kind == media.KindScript:
			msg.Release()
			continue
		}

		if msg.Kind == media.KindVideo && msg.IsKeyFrame() {
			if segStart >= 0 && msg.VirtualDts-segStart >= s.cfg.TargetDuration.Milliseconds() {
				if err := flush(false); err != nil {
					msg.Release()
					return err
				}
				segStart = -1
			}
			if segStart < 0 {
				segStart = msg.VirtualDts
			}
		}
		if segStart < 0 {
			// No keyframe observed yet; can't start a segment without one.
			msg.Release()
			continue
		}
		pending = append(pending, *msg)
		pendingPayloads = append(pendingPayloads, msg.Payload)
	}
}

func (s *Segmenter) writeSample(muxer *ts.Muxer, m *media.Message) error {
	switch m.Kind {
	case media.KindVideo:
		if s.videoCfg == nil {
			return fmt.Errorf("hls: video sample before sequence header")
		}
		body := m.Payload.Bytes()
		if len(body) < 5 {
			return fmt.Errorf("hls: short video body")
		}
		annexB, err := avc.ToAnnexB(body[5:], s.videoCfg.NALLengthSize)
		if err != nil {
			return err
		}
		if m.IsKeyFrame() {
			annexB = append(s.videoCfg.ParameterSetsAnnexB(), annexB...)
		}
		return muxer.WriteVideo(m.VirtualPts*90, m.VirtualDts*90, annexB, m.IsKeyFrame())
	case media.KindAudio:
		if s.audioCfg == nil {
			return fmt.Errorf("hls: audio sample before sequence header")
		}
		body := m.Payload.Bytes()
		if len(body) < 2 {
			return fmt.Errorf("hls: short audio body")
		}
		adts := s.audioCfg.ToADTS(body[2:])
		return muxer.WriteAudio(m.VirtualPts*90, adts)
	default:
		return nil
	}
}

// writeAtomic writes data to path via a temp file + rename so a
// concurrent GET never observes a partially written segment.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
