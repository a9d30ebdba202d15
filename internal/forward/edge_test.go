package forward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/media"
	"github.com/liveedge/hub/internal/rtmp/chunk"
)

type fakeEdgeClient struct {
	messages []*chunk.Message
	idx      int
	closed   bool
}

func (f *fakeEdgeClient) Connect() error { return nil }
func (f *fakeEdgeClient) Play() error    { return nil }
func (f *fakeEdgeClient) Close() error   { f.closed = true; return nil }
func (f *fakeEdgeClient) ReadMessage() (*chunk.Message, error) {
	if f.idx >= len(f.messages) {
		return nil, errors.New("eof")
	}
	m := f.messages[f.idx]
	f.idx++
	return m, nil
}

func videoChunk(ts uint32, keyframe bool) *chunk.Message {
	fb := byte(0x27)
	if keyframe {
		fb = 0x17
	}
	return &chunk.Message{TypeID: typeIDVideo, Timestamp: ts, Payload: []byte{fb, 1, 0, 0, 0, 0xAA}}
}

func TestEdgePullerPublishesIntoHub(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	defer h.Close()

	fc := &fakeEdgeClient{messages: []*chunk.Message{videoChunk(0, true), videoChunk(40, false)}}
	p := NewPuller(h, BackoffPolicy{MaxRetries: 1})
	p.SetDialer(func(url string) (EdgeClient, error) { return fc, nil })

	key := media.NewStreamKey("", "live", "origin")
	hook := p.Hook(func(k media.StreamKey) (string, bool) { return "rtmp://origin/live/origin", true })
	h.SetMissingSourceHook(hook)

	play := h.Play(key, hub.DefaultWant)
	defer play.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	seen := 0
	for seen < 2 {
		msg, err := play.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		msg.Release()
		seen++
	}
	if !fc.closed {
		// Give the puller's retry loop a moment to observe EOF and close.
		deadline := time.After(time.Second)
		for !fc.closed {
			select {
			case <-deadline:
				t.Fatalf("fake client never closed after stream EOF")
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

func TestEdgePullerHookFiresOnlyOnce(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	defer h.Close()

	calls := 0
	fc := &fakeEdgeClient{}
	p := NewPuller(h, BackoffPolicy{MaxRetries: 1})
	p.SetDialer(func(url string) (EdgeClient, error) { calls++; return fc, nil })

	key := media.NewStreamKey("", "live", "once")
	h.SetMissingSourceHook(p.Hook(func(k media.StreamKey) (string, bool) { return "rtmp://origin/live/once", true }))

	play1 := h.Play(key, hub.DefaultWant)
	play2 := h.Play(key, hub.DefaultWant)
	defer play1.Close()
	defer play2.Close()

	time.Sleep(100 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("expected exactly one dial attempt across two Play calls on a missing source, got %d", calls)
	}
}
