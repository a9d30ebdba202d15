package httpflv

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/logger"
	"github.com/liveedge/hub/internal/media"
	"github.com/liveedge/hub/internal/wire/aac"
	"github.com/liveedge/hub/internal/wire/avc"
	"github.com/liveedge/hub/internal/wire/flv"
	"github.com/liveedge/hub/internal/wire/ts"
)

// Handler routes GET /<app>/<stream>.<ext> requests onto a hub
// Consumer and streams the result as FLV or MPEG-TS. It implements
// http.Handler directly so callers can mount it under any mux/path
// prefix.
type Handler struct {
	Hub *hub.Hub
	log *logger.Logger
}

// NewHandler builds a Handler backed by h.
func NewHandler(h *hub.Hub) *Handler {
	return &Handler{Hub: h, log: logger.L().With("component", "httpflv")}
}

func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("Range") != "" {
		http.Error(w, "range requests not supported for live streams", http.StatusNotAcceptable)
		return
	}

	app, stream, ext, ok := parsePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	key := media.NewStreamKey("", app, stream)

	switch ext {
	case "flv":
		s.serveFLV(w, r, key)
	case "ts":
		s.serveTS(w, r, key)
	default:
		http.Error(w, fmt.Sprintf("unsupported extension %q", ext), http.StatusNotFound)
	}
}

// parsePath extracts app/stream/ext from "/<app>/<stream>.<ext>".
func parsePath(p string) (app, stream, ext string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	name := parts[1]
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return "", "", "", false
	}
	return parts[0], name[:dot], name[dot+1:], true
}

func (s *Handler) serveFLV(w http.ResponseWriter, r *http.Request, key media.StreamKey) {
	flusher, _ := w.(http.Flusher)
	play := s.Hub.Play(key, hub.DefaultWant)
	defer play.Close()

	w.Header().Set("Content-Type", "video/x-flv")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(flvFileHeader()); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		msg, err := play.Dequeue(ctx)
		if err != nil {
			return
		}
		tag := &flv.Tag{
			Type:      flvTagType(msg.Kind),
			Timestamp: uint32(msg.VirtualDts),
			StreamID:  0,
			Body:      msg.Payload.Bytes(),
		}
		werr := tag.Encode(w)
		msg.Release()
		if werr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Handler) serveTS(w http.ResponseWriter, r *http.Request, key media.StreamKey) {
	flusher, _ := w.(http.Flusher)
	play := s.Hub.Play(key, hub.DefaultWant)
	defer play.Close()

	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)

	conv := &tsConverter{}
	ctx := r.Context()
	for {
		msg, err := play.Dequeue(ctx)
		if err != nil {
			return
		}
		out, handled := conv.consume(msg)
		msg.Release()
		if !handled {
			continue
		}
		if _, werr := w.Write(out); werr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// tsConverter tracks the codec configuration needed to convert each
// incoming hub message into a self-contained one-message TS muxer
// output, the same AVCC->Annex-B / raw-AAC->ADTS conversion
// internal/hls applies, but emitted inline per message instead of
// batched into fixed-duration segments.
type tsConverter struct {
	videoCfg *avc.DecoderConfig
	audioCfg *aac.Config
}

func (c *tsConverter) consume(msg *media.Message) (out []byte, handled bool) {
	switch {
	case msg.IsSequenceHeader() && msg.Kind == media.KindVideo:
		if cfg, err := avc.ParseDecoderConfig(msg.Payload.Bytes()); err == nil {
			c.videoCfg = cfg
		}
		return nil, false
	case msg.IsSequenceHeader() && msg.Kind == media.KindAudio:
		if cfg, err := aac.ParseAudioSpecificConfig(msg.Payload.Bytes()[2:]); err == nil {
			c.audioCfg = cfg
		}
		return nil, false
	case msg.Kind == media.KindScript:
		return nil, false
	}

	muxer := ts.NewMuxer(c.audioCfg != nil)
	switch msg.Kind {
	case media.KindVideo:
		if c.videoCfg == nil {
			return nil, false
		}
		body := msg.Payload.Bytes()
		if len(body) < 5 {
			return nil, false
		}
		annexB, err := avc.ToAnnexB(body[5:], c.videoCfg.NALLengthSize)
		if err != nil {
			return nil, false
		}
		if msg.IsKeyFrame() {
			annexB = append(c.videoCfg.ParameterSetsAnnexB(), annexB...)
		}
		if err := muxer.WriteVideo(msg.VirtualPts*90, msg.VirtualDts*90, annexB, msg.IsKeyFrame()); err != nil {
			return nil, false
		}
	case media.KindAudio:
		if c.audioCfg == nil {
			return nil, false
		}
		body := msg.Payload.Bytes()
		if len(body) < 2 {
			return nil, false
		}
		if err := muxer.WriteAudio(msg.VirtualPts*90, c.audioCfg.ToADTS(body[2:])); err != nil {
			return nil, false
		}
	default:
		return nil, false
	}
	return muxer.Bytes(), true
}

func flvFileHeader() []byte {
	return []byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}
}

func flvTagType(k media.Kind) uint8 {
	switch k {
	case media.KindAudio:
		return flv.TagTypeAudio
	case media.KindVideo:
		return flv.TagTypeVideo
	default:
		return flv.TagTypeScript
	}
}
