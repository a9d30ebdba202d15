package server

// Stream Registry (Task T048)
// ---------------------------
// Thread‑safe registry that tracks active publish streams keyed by the full
// stream key ("app/stream"). This will be used by publish/play handlers so
// they can register one publisher and multiple subscribers. At this stage we
// only implement the minimal API required by the task; more helper methods
// (broadcast, removal hooks etc.) can be layered in future tasks.
//
// Concurrency model: sync.RWMutex guards the map. Per‑stream mutable slices
// are guarded by the stream's own mutex (so that subscriber operations do not
// serialize across different streams).

import (
	"errors"
	slog "github.com/liveedge/hub/internal/logger"
	"sync"
	"time"

	"github.com/liveedge/hub/internal/rtmp/chunk"
	"github.com/liveedge/hub/internal/rtmp/media"
)

// ErrPublisherExists is returned when trying to set a second publisher.
var ErrPublisherExists = errors.New("publisher already registered for stream")

// Registry holds all active streams keyed by stream key.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return &Registry{streams: make(map[string]*Stream)} }

// Stream represents a server-side stream: bookkeeping (codecs, recorder,
// cached sequence headers, subscriber count) that sits alongside the hub
// source the same stream key maps to. Actual media fan-out to play clients
// goes through the hub, not through this struct; Publisher/Subscribers here
// exist for accounting and diagnostics, not delivery. Subscribers re-use the
// media package's Subscriber interface so callers outside this package (the
// play handler) can register without importing conn back into media.
type Stream struct {
	Key         string
	Publisher   interface{}
	Subscribers []media.Subscriber
	Metadata    map[string]interface{}
	VideoCodec  string
	AudioCodec  string
	StartTime   time.Time
	Recorder    *media.Recorder

	// Cached sequence headers for late-joining subscribers
	AudioSequenceHeader *chunk.Message
	VideoSequenceHeader *chunk.Message

	mu sync.RWMutex // protects Subscribers & Publisher mutation
}

// CreateStream returns the existing stream if present or creates a new one.
// The boolean indicates whether a new stream was created.
func (r *Registry) CreateStream(key string) (*Stream, bool) {
	if key == "" {
		return nil, false
	}
	// Fast path read
	r.mu.RLock()
	if s, ok := r.streams[key]; ok {
		r.mu.RUnlock()
		return s, false
	}
	r.mu.RUnlock()

	// Upgrade to write lock
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[key]; ok { // double‑check
		return s, false
	}
	s := &Stream{Key: key, StartTime: time.Now(), Metadata: make(map[string]interface{}), Subscribers: make([]media.Subscriber, 0)}
	r.streams[key] = s
	return s, true
}

// GetStream returns the stream for key or nil if absent.
func (r *Registry) GetStream(key string) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[key]
}

// DeleteStream removes the stream (if present) and returns true if deleted.
func (r *Registry) DeleteStream(key string) bool {
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[key]; ok {
		delete(r.streams, key)
		return true
	}
	return false
}

// SetPublisher sets the publisher if empty else returns ErrPublisherExists.
func (s *Stream) SetPublisher(pub interface{}) error {
	if s == nil || pub == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Publisher != nil {
		return ErrPublisherExists
	}
	s.Publisher = pub
	return nil
}

// AddSubscriber adds a subscriber (ignoring nil) in a thread‑safe manner.
func (s *Stream) AddSubscriber(sub media.Subscriber) {
	if s == nil || sub == nil {
		return
	}
	s.mu.Lock()
	s.Subscribers = append(s.Subscribers, sub)
	s.mu.Unlock()
}

// RemoveSubscriber removes the first matching subscriber reference (identity
// comparison) from the slice. This helper is added by T050 (play handler) so
// tests can simulate disconnect without a full connection lifecycle yet.
func (s *Stream) RemoveSubscriber(sub media.Subscriber) {
	if s == nil || sub == nil {
		return
	}
	s.mu.Lock()
	for i, existing := range s.Subscribers {
		if existing == sub {
			// Remove without preserving order (swap delete) since order is
			// not semantically relevant.
			last := len(s.Subscribers) - 1
			s.Subscribers[i] = s.Subscribers[last]
			s.Subscribers[last] = nil
			s.Subscribers = s.Subscribers[:last]
			break
		}
	}
	s.mu.Unlock()
}

// SubscriberCount returns a snapshot count of subscribers.
func (s *Stream) SubscriberCount() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Subscribers)
}

// --- CodecStore interface implementation (required for relay/codec detection) ---

// SetAudioCodec sets the audio codec name in a thread-safe manner.
func (s *Stream) SetAudioCodec(codec string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.AudioCodec = codec
	s.mu.Unlock()
}

// SetVideoCodec sets the video codec name in a thread-safe manner.
func (s *Stream) SetVideoCodec(codec string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.VideoCodec = codec
	s.mu.Unlock()
}

// GetAudioCodec returns the current audio codec in a thread-safe manner.
func (s *Stream) GetAudioCodec() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AudioCodec
}

// GetVideoCodec returns the current video codec in a thread-safe manner.
func (s *Stream) GetVideoCodec() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.VideoCodec
}

// StreamKey returns the stream's key (required by CodecStore interface).
func (s *Stream) StreamKey() string {
	if s == nil {
		return ""
	}
	return s.Key
}

// CacheSequenceHeader inspects a just-ingested audio/video message and, if it
// is an AVC or AAC sequence header, stores a private copy on the stream so a
// subscriber that joins after the publisher's first GOP can still be primed
// with decoder config before the hub's live tail starts flowing to it. This
// used to run inside a per-message broadcast loop the registry owned before
// the hub took over actual fan-out; now it is the one piece of that loop
// still worth keeping, invoked directly from the connection's message
// handler on the same messages it hands to the hub.
func (s *Stream) CacheSequenceHeader(msg *chunk.Message, logger *slog.Logger) {
	if s == nil || msg == nil {
		return
	}
	switch {
	case msg.TypeID == 9 && len(msg.Payload) >= 2 && msg.Payload[1] == 0:
		hdr := cloneMessage(msg)
		s.mu.Lock()
		s.VideoSequenceHeader = hdr
		s.mu.Unlock()
		if logger != nil {
			logger.Debug("cached video sequence header", "stream_key", s.Key, "size", len(msg.Payload))
		}
	case msg.TypeID == 8 && len(msg.Payload) >= 2 && (msg.Payload[0]>>4) == 0x0A && msg.Payload[1] == 0:
		hdr := cloneMessage(msg)
		s.mu.Lock()
		s.AudioSequenceHeader = hdr
		s.mu.Unlock()
		if logger != nil {
			logger.Debug("cached audio sequence header", "stream_key", s.Key, "size", len(msg.Payload))
		}
	}
}

// cloneMessage deep-copies the payload so the cached sequence header outlives
// the read-loop buffer the original message borrows from.
func cloneMessage(msg *chunk.Message) *chunk.Message {
	out := &chunk.Message{
		CSID:            msg.CSID,
		TypeID:          msg.TypeID,
		Timestamp:       msg.Timestamp,
		MessageStreamID: msg.MessageStreamID,
		MessageLength:   msg.MessageLength,
		Payload:         make([]byte, len(msg.Payload)),
	}
	copy(out.Payload, msg.Payload)
	return out
}
