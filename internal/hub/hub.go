package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	liveedgeerrors "github.com/liveedge/hub/internal/errors"
	"github.com/liveedge/hub/internal/logger"
	"github.com/liveedge/hub/internal/media"
)

var errOverflowNoKeyframe = liveedgeerrors.NewOverflow("hub.consumer", nil)

// Config governs hub-wide defaults applied to every LiveSource created
// without an explicit per-source override.
type Config struct {
	Source       SourceConfig
	ReapInterval time.Duration
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{Source: DefaultSourceConfig(), ReapInterval: 5 * time.Second}
}

// Hub owns every LiveSource, keyed by StreamKey (spec §4.D). It is the
// single integration point protocol front-ends (RTMP, HLS, DASH,
// HTTP-FLV, Forward/Edge) publish into and play from.
type Hub struct {
	cfg Config
	log *logger.Logger

	mu                sync.Mutex
	sources           map[media.StreamKey]*LiveSource
	closed            chan struct{}
	closeOnce         sync.Once
	onMissingSource   func(media.StreamKey)
	onPublishStart    func(media.StreamKey)
	onPublishStop     func(media.StreamKey)
}

// SetMissingSourceHook registers fn to be invoked the first time a
// consumer attaches to a LiveSource and finds no publisher (spec §4.H:
// "edge pull is triggered lazily by play on a missing source"). It is
// not invoked again for that source until a publisher claims it or
// ClearEdgeTrigger re-arms it. fn should attempt an edge pull
// asynchronously; the hub never blocks Play on it.
func (h *Hub) SetMissingSourceHook(fn func(media.StreamKey)) {
	h.mu.Lock()
	h.onMissingSource = fn
	h.mu.Unlock()
}

// SetPublishStartHook registers fn to be invoked (in its own
// goroutine) every time a publisher successfully claims a stream key.
// Front-ends that segment or re-push a stream (HLS/DASH segmenters,
// forward-push) use this to start their per-key worker lazily rather
// than needing their own publish-detection logic.
func (h *Hub) SetPublishStartHook(fn func(media.StreamKey)) {
	h.mu.Lock()
	h.onPublishStart = fn
	h.mu.Unlock()
}

// SetPublishStopHook registers fn to be invoked when a publisher
// releases a stream key, mirroring SetPublishStartHook so a started
// per-key worker can be stopped.
func (h *Hub) SetPublishStopHook(fn func(media.StreamKey)) {
	h.mu.Lock()
	h.onPublishStop = fn
	h.mu.Unlock()
}

// New builds a Hub and starts its idle-source reaper.
func New(cfg Config) *Hub {
	h := &Hub{
		cfg:     cfg,
		log:     logger.L().With("component", "hub"),
		sources: make(map[media.StreamKey]*LiveSource),
		closed:  make(chan struct{}),
	}
	go h.reapLoop()
	return h
}

func (h *Hub) sourceLocked(key media.StreamKey) *LiveSource {
	s, ok := h.sources[key]
	if !ok {
		s = newLiveSource(key, h.cfg.Source)
		h.sources[key] = s
	}
	return s
}

// PublishHandle is returned by Publish; callers drive ingest through
// it and must call Close when the publisher disconnects.
type PublishHandle struct {
	hub    *Hub
	source *LiveSource
	epoch  uint64
	closed bool
}

// Publish claims the publisher slot for key, creating the LiveSource
// if it doesn't exist yet. Fails with errors.InUse unless the hub's
// AllowTakeover policy is set, per spec §4.D's at-most-one-publisher
// invariant.
func (h *Hub) Publish(key media.StreamKey) (*PublishHandle, error) {
	h.mu.Lock()
	s := h.sourceLocked(key)
	h.mu.Unlock()

	epoch, evicted, ok := s.claimPublisher(uuid.NewString())
	if !ok {
		return nil, liveedgeerrors.NewInUse("hub.Publish", nil)
	}
	if evicted != "" {
		h.log.Warn("publisher evicted by takeover", "stream_key", key.String())
	}
	h.log.Info("publish started", "stream_key", key.String())
	if hook := h.startHook(); hook != nil {
		go hook(key)
	}
	return &PublishHandle{hub: h, source: s, epoch: epoch}, nil
}

func (h *Hub) startHook() func(media.StreamKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onPublishStart
}

func (h *Hub) stopHook() func(media.StreamKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onPublishStop
}

// Video ingests one video message (sequence header or coded frame).
func (p *PublishHandle) Video(dts, pts uint32, payload *media.RefPayload) {
	p.source.ingest(p.epoch, media.KindVideo, dts, pts, payload)
}

// Audio ingests one audio message.
func (p *PublishHandle) Audio(dts, pts uint32, payload *media.RefPayload) {
	p.source.ingest(p.epoch, media.KindAudio, dts, pts, payload)
}

// Metadata ingests an onMetaData-style script message.
func (p *PublishHandle) Metadata(dts uint32, payload *media.RefPayload) {
	p.source.ingest(p.epoch, media.KindScript, dts, dts, payload)
}

// Close releases the publisher slot. Attached consumers are not torn
// down and receive no end-of-stream signal: they keep their buffered
// tail, receive nothing further until a new publisher claims the key,
// and stay attached until their own PlayHandle.Close. The idle reaper
// only collects a source that has no consumers left.
func (p *PublishHandle) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.source.releasePublisher(p.epoch)
	p.hub.log.Info("publish ended", "stream_key", p.source.Key.String())
	if hook := p.hub.stopHook(); hook != nil {
		go hook(p.source.Key)
	}
}

// PlayHandle is returned by Play; callers Dequeue from it to receive
// cold-start replay followed by the live tail.
type PlayHandle struct {
	hub    *Hub
	source *LiveSource
	c      *Consumer
}

// Play attaches a new consumer to key's LiveSource (creating it if
// no publisher has ever claimed it yet, so a player arriving first
// still gets a waiting room rather than an error) with cold-start
// replay in the order metadata -> audio SH -> video SH -> GOP cache ->
// live tail, exactly as attach() applies it under one lock with ingest.
func (h *Hub) Play(key media.StreamKey, want Want) *PlayHandle {
	h.mu.Lock()
	s := h.sourceLocked(key)
	hook := h.onMissingSource
	h.mu.Unlock()

	c := s.attach(want)
	if hook != nil && s.triggerEdgeOnce() {
		go hook(key)
	}
	return &PlayHandle{hub: h, source: s, c: c}
}

// Dequeue blocks for the next message, honoring ctx cancellation.
func (p *PlayHandle) Dequeue(ctx context.Context) (*media.Message, error) {
	return p.c.Dequeue(ctx)
}

// SetPaused implements VOD-style pause/resume semantics (spec §4.H
// mirrors RTMP's pause command); HTTP-FLV/HLS/DASH pullers don't use
// this, only the RTMP play path does.
func (p *PlayHandle) SetPaused(paused bool) { p.c.SetPaused(paused) }

// Close detaches the consumer from its source.
func (p *PlayHandle) Close() {
	p.source.detach(p.c.ID)
}

// ClearEdgeTrigger allows a future Play against key to retrigger the
// missing-source hook, used by the Edge puller once a pull attempt has
// run its course (succeeded and later stopped, or given up) so a later
// viewer isn't permanently denied a retry.
func (h *Hub) ClearEdgeTrigger(key media.StreamKey) {
	h.mu.Lock()
	s, ok := h.sources[key]
	h.mu.Unlock()
	if ok {
		s.clearEdgeTrigger()
	}
}

// IsLive reports whether key currently has an active publisher.
func (h *Hub) IsLive(key media.StreamKey) bool {
	h.mu.Lock()
	s, ok := h.sources[key]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return s.isPublished()
}

// LiveKeys returns the keys of every source with an active publisher,
// for operator tooling (cmd/livehub-edgectl) that needs to enumerate
// what's currently live without a network API.
func (h *Hub) LiveKeys() []media.StreamKey {
	h.mu.Lock()
	sources := make([]*LiveSource, 0, len(h.sources))
	keys := make([]media.StreamKey, 0, len(h.sources))
	for k, s := range h.sources {
		sources = append(sources, s)
		keys = append(keys, k)
	}
	h.mu.Unlock()

	live := make([]media.StreamKey, 0, len(keys))
	for i, s := range sources {
		if s.isPublished() {
			live = append(live, keys[i])
		}
	}
	return live
}

// Close shuts down every source and stops the reaper.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.mu.Lock()
		sources := h.sources
		h.sources = make(map[media.StreamKey]*LiveSource)
		h.mu.Unlock()
		for _, s := range sources {
			s.closeAll(liveedgeerrors.NewShutdown("hub.Close", nil))
		}
	})
}

// reapLoop periodically removes sources that have been both
// unpublished and consumer-less for longer than the configured idle
// grace period (spec §4.D "idle reap"), so a stream key that nobody
// cares about any more doesn't leak its GOP cache and cached headers
// forever.
func (h *Hub) reapLoop() {
	interval := h.cfg.ReapInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.closed:
			return
		case <-ticker.C:
			h.reapOnce()
		}
	}
}

func (h *Hub) reapOnce() {
	grace := h.cfg.Source.IdleGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	var dead []*LiveSource
	h.mu.Lock()
	for key, s := range h.sources {
		if idle, yes := s.idleSince(); yes && idle >= grace {
			dead = append(dead, s)
			delete(h.sources, key)
		}
	}
	h.mu.Unlock()
	for _, s := range dead {
		s.closeAll(liveedgeerrors.NewNotFound("hub.reap", nil))
		h.log.Debug("reaped idle source", "stream_key", s.Key.String())
	}
}
