package hub

import (
	"sync"
	"time"

	"github.com/liveedge/hub/internal/media"
)

// SourceConfig governs the per-stream policy a LiveSource is created
// with (spec §4.D "GopCache policy", "publisher override").
type SourceConfig struct {
	GopPolicy        GopPolicy
	GopCacheDepth    int // only meaningful for GopCacheLastNGops
	ConsumerMaxMS    int64
	ATCThresholdMS   int64
	AllowTakeover    bool          // "latest wins": a new publish replaces an existing one
	IdleGracePeriod  time.Duration // how long a drained source lingers before reaping
}

// DefaultSourceConfig matches the spec's stated defaults.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		GopPolicy:       GopCacheAllUntilNextKeyframe,
		GopCacheDepth:   1,
		ConsumerMaxMS:   10_000,
		ATCThresholdMS:  DefaultATCThresholdMS,
		AllowTakeover:   false,
		IdleGracePeriod: 30 * time.Second,
	}
}

// LiveSource is the per-StreamKey aggregate: the current publisher's
// epoch, cached sequence headers, GOP cache, and the set of attached
// consumers (spec §4.D). All publisher-owned fields (audioSH, videoSH,
// gop, fixer) are only ever mutated by the publish path; Play only
// reads them under mu.
type LiveSource struct {
	Key media.StreamKey
	cfg SourceConfig

	mu            sync.Mutex
	publisherID   string // empty when unpublished
	publishEpoch  uint64
	metadata      *media.Message
	audioSH       *media.Message
	videoSH       *media.Message
	gop           *gopCache
	fixer         *timestampFixer
	consumers     map[string]*Consumer
	createdAt     time.Time
	lastPublishAt time.Time
	lastActiveAt  time.Time
	hasAudio      bool
	hasVideo      bool
	edgeTriggered bool
}

func newLiveSource(key media.StreamKey, cfg SourceConfig) *LiveSource {
	return &LiveSource{
		Key:       key,
		cfg:       cfg,
		gop:       newGopCache(cfg.GopPolicy, cfg.GopCacheDepth),
		fixer:     newTimestampFixer(cfg.ATCThresholdMS),
		consumers: make(map[string]*Consumer),
		createdAt: time.Now(),
	}
}

// isPublished reports whether a publisher currently owns this source.
func (s *LiveSource) isPublished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisherID != ""
}

// claimPublisher attempts to become the publisher of this source,
// returning the assigned epoch and whether it succeeded. Enforces
// spec §4.D's at-most-one-publisher invariant; if AllowTakeover is
// set, a new claim evicts the previous publisher instead of failing.
func (s *LiveSource) claimPublisher(publisherID string) (epoch uint64, evicted string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisherID != "" {
		if !s.cfg.AllowTakeover {
			return 0, "", false
		}
		evicted = s.publisherID
	}
	s.publisherID = publisherID
	s.publishEpoch++
	s.lastPublishAt = time.Now()
	s.lastActiveAt = s.lastPublishAt
	s.edgeTriggered = false
	// A new publisher epoch invalidates cached decode state: a
	// different encoder may use different parameter sets.
	s.metadata = nil
	s.audioSH = nil
	s.videoSH = nil
	s.hasAudio = false
	s.hasVideo = false
	s.gop.reset()
	s.fixer = newTimestampFixer(s.cfg.ATCThresholdMS)
	return s.publishEpoch, evicted, true
}

// releasePublisher clears the publisher slot if epoch still matches
// the caller's (a stale handle from an evicted publisher must not
// clear a newer one's claim).
func (s *LiveSource) releasePublisher(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishEpoch != epoch {
		return
	}
	s.publisherID = ""
}

// ingest is called by the publish path for every inbound message. It
// applies ATC, updates cached state, and fans the message out to every
// attached consumer, dropping (and closing) any consumer the overflow
// policy stalls.
func (s *LiveSource) ingest(epoch uint64, kind media.Kind, rawDts, rawPts uint32, payload *media.RefPayload) {
	msg := &media.Message{Key: s.Key, Kind: kind, Dts: rawDts, Pts: rawPts, Payload: payload}

	s.mu.Lock()
	if s.publishEpoch != epoch {
		s.mu.Unlock()
		msg.Release()
		return
	}
	virtualDts, rebased := s.fixer.correct(rawDts)
	msg.VirtualDts = virtualDts
	msg.VirtualPts = s.fixer.apply(rawPts)
	s.lastActiveAt = time.Now()

	if rebased {
		s.gop.reset()
	}

	switch {
	case msg.IsSequenceHeader() && kind == media.KindAudio:
		if s.audioSH != nil {
			s.audioSH.Release()
		}
		s.audioSH = msg.Clone()
		s.hasAudio = true
	case msg.IsSequenceHeader() && kind == media.KindVideo:
		if s.videoSH != nil {
			s.videoSH.Release()
		}
		s.videoSH = msg.Clone()
		s.hasVideo = true
	case kind == media.KindScript:
		if s.metadata != nil {
			s.metadata.Release()
		}
		s.metadata = msg.Clone()
	case kind == media.KindVideo:
		s.gop.push(msg)
		s.hasVideo = true
	case kind == media.KindAudio:
		s.hasAudio = true
	}

	toDrop := make([]*Consumer, 0)
	for id, c := range s.consumers {
		clone := msg.Clone()
		if !c.enqueue(clone) {
			toDrop = append(toDrop, c)
			delete(s.consumers, id)
		}
	}
	s.mu.Unlock()

	for _, c := range toDrop {
		c.close(errOverflowNoKeyframe)
	}
	msg.Release()
}

// attach registers a new consumer, replaying cold-start state under
// the same lock that protects ingest so no message can slip between
// the snapshot and subscription (spec §4.D cold-start ordering:
// metadata -> audio SH -> video SH -> GOP cache -> live tail).
func (s *LiveSource) attach(want Want) *Consumer {
	s.mu.Lock()
	c := newConsumer(s.Key, want, s.cfg.ConsumerMaxMS)
	if s.metadata != nil {
		c.enqueue(s.metadata.Clone())
	}
	if s.audioSH != nil {
		c.enqueue(s.audioSH.Clone())
	}
	if s.videoSH != nil {
		c.enqueue(s.videoSH.Clone())
	}
	for _, m := range s.gop.snapshot() {
		c.enqueue(m)
	}
	s.consumers[c.ID] = c
	s.mu.Unlock()
	return c
}

// triggerEdgeOnce takes mu and reports whether the caller is the first to
// observe this source unpublished and should invoke the edge-pull
// hook; the source is marked so later Play calls don't fire it again.
func (s *LiveSource) triggerEdgeOnce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisherID != "" || s.edgeTriggered {
		return false
	}
	s.edgeTriggered = true
	return true
}

// clearEdgeTrigger allows a future Play to retrigger edge-pull once a
// real publish (direct or via a completed edge pull) has come and
// gone, so a later viewer doesn't permanently forfeit the retry.
func (s *LiveSource) clearEdgeTrigger() {
	s.mu.Lock()
	s.edgeTriggered = false
	s.mu.Unlock()
}

func (s *LiveSource) detach(id string) {
	s.mu.Lock()
	c, ok := s.consumers[id]
	delete(s.consumers, id)
	s.mu.Unlock()
	if ok {
		c.close(nil)
	}
}

// consumerCount reports the number of attached consumers, for the
// idle-grace-period reaper and diagnostics.
func (s *LiveSource) consumerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

// idleSince reports how long this source has had neither a publisher
// nor any consumer, or false if it is currently active.
func (s *LiveSource) idleSince() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisherID != "" || len(s.consumers) > 0 {
		return 0, false
	}
	return time.Since(s.lastActiveAt), true
}

// closeAll tears down every attached consumer, used when the source is
// reaped from the hub or the hub itself is closed.
func (s *LiveSource) closeAll(reason error) {
	s.mu.Lock()
	consumers := s.consumers
	s.consumers = make(map[string]*Consumer)
	if s.metadata != nil {
		s.metadata.Release()
		s.metadata = nil
	}
	if s.audioSH != nil {
		s.audioSH.Release()
		s.audioSH = nil
	}
	if s.videoSH != nil {
		s.videoSH.Release()
		s.videoSH = nil
	}
	s.gop.reset()
	s.mu.Unlock()
	for _, c := range consumers {
		c.close(reason)
	}
}
