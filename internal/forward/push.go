package forward

import (
	"context"
	"sync"
	"time"

	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/logger"
	"github.com/liveedge/hub/internal/media"
	"github.com/liveedge/hub/internal/rtmp/chunk"
	"github.com/liveedge/hub/internal/rtmp/client"
	"github.com/liveedge/hub/internal/rtmp/relay"
)

// Forwarder pushes a locally-published stream to a configured set of
// downstream peers (spec §4.H Forward-push), one persistent
// relay.Destination per peer, retried identically on peer failure.
type Forwarder struct {
	h             *hub.Hub
	backoff       BackoffPolicy
	clientFactory relay.RTMPClientFactory
	log           *logger.Logger

	mu    sync.Mutex
	tasks map[media.StreamKey]*forwardTask
}

// NewForwarder builds a Forwarder backed by h.
func NewForwarder(h *hub.Hub, backoff BackoffPolicy) *Forwarder {
	return &Forwarder{
		h:       h,
		backoff: backoff,
		clientFactory: func(url string) (relay.RTMPClient, error) {
			return client.New(url)
		},
		log:   logger.L().With("component", "forward.push"),
		tasks: make(map[media.StreamKey]*forwardTask),
	}
}

// SetClientFactory overrides how downstream RTMP clients are made, for
// tests.
func (f *Forwarder) SetClientFactory(factory relay.RTMPClientFactory) {
	f.clientFactory = factory
}

type forwardTask struct {
	cancel context.CancelFunc
}

// Start begins forwarding key's live content to every URL in peers.
// Safe to call once per publish; calling it again for an already-active
// key is a no-op (use Stop first to change the peer set).
func (f *Forwarder) Start(key media.StreamKey, peers []string) {
	if len(peers) == 0 {
		return
	}
	f.mu.Lock()
	if _, exists := f.tasks[key]; exists {
		f.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.tasks[key] = &forwardTask{cancel: cancel}
	f.mu.Unlock()

	for _, peer := range peers {
		go f.runPeer(ctx, key, peer)
	}
}

// Stop halts all forwarding for key, called when the local publisher
// disconnects.
func (f *Forwarder) Stop(key media.StreamKey) {
	f.mu.Lock()
	t, ok := f.tasks[key]
	delete(f.tasks, key)
	f.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// runPeer owns one peer's persistent session: subscribe to the hub,
// connect to the peer, relay every message, and on either side failing
// reconnect with jittered backoff until ctx is cancelled or attempts
// are exhausted.
func (f *Forwarder) runPeer(ctx context.Context, key media.StreamKey, peerURL string) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if f.backoff.Exhausted(attempt) {
			f.log.Warn("forward push exhausted retries", "stream_key", key.String(), "peer", peerURL)
			return
		}
		streamed, err := f.pushOnce(ctx, key, peerURL)
		if err == nil {
			return
		}
		if streamed {
			attempt = -1
		}
		delay := f.backoff.Delay(attempt)
		f.log.Warn("forward push failed, retrying", "stream_key", key.String(), "peer", peerURL, "err", err, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (f *Forwarder) pushOnce(ctx context.Context, key media.StreamKey, peerURL string) (streamed bool, err error) {
	dest, err := relay.NewDestination(peerURL, logger.L(), f.clientFactory)
	if err != nil {
		return false, err
	}
	defer dest.Close()

	if err := dest.Connect(); err != nil {
		return false, err
	}
	f.log.Info("forward push connected", "stream_key", key.String(), "peer", peerURL)

	play := f.h.Play(key, hub.DefaultWant)
	defer play.Close()

	for {
		msg, derr := play.Dequeue(ctx)
		if derr != nil {
			return streamed, derr
		}
		cm := toChunkMessage(msg)
		if cm == nil {
			msg.Release()
			continue
		}
		err := dest.SendMessage(cm)
		msg.Release()
		if err != nil {
			return streamed, err
		}
		streamed = true
	}
}

func toChunkMessage(m *media.Message) *chunk.Message {
	var typeID uint8
	switch m.Kind {
	case media.KindVideo:
		typeID = 9
	case media.KindAudio:
		typeID = 8
	default:
		return nil
	}
	body := m.Payload.Bytes()
	return &chunk.Message{TypeID: typeID, Timestamp: m.Dts, MessageLength: uint32(len(body)), Payload: body}
}
