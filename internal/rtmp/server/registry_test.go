package server

import (
	"testing"

	"github.com/liveedge/hub/internal/rtmp/chunk"
	"github.com/liveedge/hub/internal/rtmp/media"
)

// stubSubscriber implements media.Subscriber with a no‑op SendMessage.
type stubSubscriber struct{}

func (s *stubSubscriber) SendMessage(_ *chunk.Message) error { return nil }

// Ensure stub implements the right interface expected (from media package we imported earlier).
var _ media.Subscriber = (*stubSubscriber)(nil)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()
	if s, ok := r.CreateStream("app/stream1"); !ok || s == nil {
		t.Fatalf("expected new stream to be created")
	}
	// idempotent create
	if _, ok := r.CreateStream("app/stream1"); ok {
		t.Fatalf("expected existing stream, not newly created")
	}
	if r.GetStream("missing") != nil {
		t.Fatalf("expected nil for missing stream")
	}
}

func TestRegistryPublisher(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateStream("app/stream2")
	if err := s.SetPublisher("pub1"); err != nil {
		t.Fatalf("unexpected error setting publisher: %v", err)
	}
	if err := s.SetPublisher("pub2"); err == nil {
		t.Fatalf("expected error on second publisher")
	}
}

func TestRegistrySubscribers(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateStream("app/stream3")
	s.AddSubscriber(&stubSubscriber{})
	s.AddSubscriber(&stubSubscriber{})
	if c := s.SubscriberCount(); c != 2 {
		t.Fatalf("expected 2 subscribers, got %d", c)
	}
}

func TestStreamCacheSequenceHeader(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateStream("app/seqhdr")

	videoHdr := &chunk.Message{TypeID: 9, Payload: []byte{0x17, 0x00, 0xAA, 0xBB}}
	s.CacheSequenceHeader(videoHdr, nil)
	if s.VideoSequenceHeader == nil {
		t.Fatal("expected video sequence header to be cached")
	}
	if &s.VideoSequenceHeader.Payload[0] == &videoHdr.Payload[0] {
		t.Fatal("expected cached header to be a deep copy, not share the original backing array")
	}

	audioHdr := &chunk.Message{TypeID: 8, Payload: []byte{0xAF, 0x00, 0xCC}}
	s.CacheSequenceHeader(audioHdr, nil)
	if s.AudioSequenceHeader == nil {
		t.Fatal("expected audio sequence header to be cached")
	}

	// Non-sequence-header frames must not overwrite the cached header.
	s.CacheSequenceHeader(&chunk.Message{TypeID: 9, Payload: []byte{0x27, 0x01, 0x00}}, nil)
	if s.VideoSequenceHeader.Payload[1] != 0x00 {
		t.Fatal("expected video sequence header to remain unchanged for a non-header frame")
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	r.CreateStream("app/stream4")
	if !r.DeleteStream("app/stream4") {
		t.Fatalf("expected delete to succeed")
	}
	if r.GetStream("app/stream4") != nil {
		t.Fatalf("expected stream to be gone")
	}
	if r.DeleteStream("app/stream4") { // second delete
		t.Fatalf("expected second delete to be false")
	}
}
