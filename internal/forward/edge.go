package forward

import (
	"context"
	"sync"
	"time"

	liveedgeerrors "github.com/liveedge/hub/internal/errors"
	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/logger"
	"github.com/liveedge/hub/internal/media"
	"github.com/liveedge/hub/internal/rtmp/chunk"
	"github.com/liveedge/hub/internal/rtmp/client"
)

// RTMP message type IDs consumed off an edge-pull connection; the rest
// (command/control/user-control) are discarded by Puller.run.
const (
	typeIDAudio = 8
	typeIDVideo = 9
	typeIDData  = 18 // AMF0 data (onMetaData)
)

// ClientDialer constructs a pull connection, overridable in tests.
type ClientDialer func(url string) (EdgeClient, error)

// EdgeClient is the subset of rtmp/client.Client the puller drives.
type EdgeClient interface {
	Connect() error
	Play() error
	ReadMessage() (*chunk.Message, error)
	Close() error
}

func defaultDialer(url string) (EdgeClient, error) { return client.New(url) }

// Puller pulls one upstream stream into the hub, triggered lazily by
// Hub.Play against a key with no local publisher (spec §4.H). It goes
// idle after the first successful push and is retriggered only once a
// later publish comes and goes.
type Puller struct {
	h       *hub.Hub
	dialer  ClientDialer
	backoff BackoffPolicy
	log     *logger.Logger

	mu      sync.Mutex
	running map[media.StreamKey]bool
}

// NewPuller builds a Puller backed by h; the upstream URL for each key
// is supplied later through Hook's originURL.
func NewPuller(h *hub.Hub, backoff BackoffPolicy) *Puller {
	return &Puller{
		h:       h,
		dialer:  defaultDialer,
		backoff: backoff,
		log:     logger.L().With("component", "forward.edge"),
		running: make(map[media.StreamKey]bool),
	}
}

// SetDialer overrides how upstream connections are made, for tests.
func (p *Puller) SetDialer(d ClientDialer) { p.dialer = d }

// Hook returns the function to register with hub.SetMissingSourceHook.
// originURL resolves a StreamKey to the rtmp:// URL to pull from; it
// returns ok=false for keys with no configured upstream, in which case
// no pull is attempted.
func (p *Puller) Hook(originURL func(media.StreamKey) (string, bool)) func(media.StreamKey) {
	return func(key media.StreamKey) {
		url, ok := originURL(key)
		if !ok {
			return
		}
		p.mu.Lock()
		if p.running[key] {
			p.mu.Unlock()
			return
		}
		p.running[key] = true
		p.mu.Unlock()

		go func() {
			defer func() {
				p.mu.Lock()
				delete(p.running, key)
				p.mu.Unlock()
			}()
			p.pullWithRetry(context.Background(), key, url)
		}()
	}
}

// pullWithRetry runs run in a loop with jittered exponential backoff
// until run returns without error, ctx is done, or the attempt budget
// is exhausted; a run that streamed before failing restarts the
// attempt count.
func (p *Puller) pullWithRetry(ctx context.Context, key media.StreamKey, url string) {
	for attempt := 0; ; attempt++ {
		if p.backoff.Exhausted(attempt) {
			p.log.Warn("edge pull exhausted retries", "stream_key", key.String(), "url", url)
			return
		}
		streamed, err := p.run(ctx, key, url)
		if err == nil {
			return
		}
		if streamed {
			// A connection that delivered at least one frame before
			// failing counts as a fresh start, not a failed attempt.
			attempt = -1
		}
		delay := p.backoff.Delay(attempt)
		p.log.Warn("edge pull failed, retrying", "stream_key", key.String(), "url", url, "err", err, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// run performs one connect-play-relay attempt. streamed reports whether
// at least one media message was successfully published before err.
func (p *Puller) run(ctx context.Context, key media.StreamKey, url string) (streamed bool, err error) {
	c, err := p.dialer(url)
	if err != nil {
		return false, liveedgeerrors.NewIo("forward.edge.dial", err)
	}
	defer c.Close()

	if err := c.Connect(); err != nil {
		return false, liveedgeerrors.NewIo("forward.edge.connect", err)
	}
	if err := c.Play(); err != nil {
		return false, liveedgeerrors.NewProtocolViolation("forward.edge.play", err)
	}

	ph, err := p.h.Publish(key)
	if err != nil {
		// Another publisher (direct or a concurrent pull) beat us to
		// it; our pull is redundant, not an error worth retrying.
		return false, nil
	}
	defer ph.Close()
	defer p.h.ClearEdgeTrigger(key)

	p.log.Info("edge pull publishing", "stream_key", key.String(), "url", url)

	for {
		msg, readErr := c.ReadMessage()
		if readErr != nil {
			return streamed, liveedgeerrors.NewIo("forward.edge.read", readErr)
		}
		switch msg.TypeID {
		case typeIDVideo:
			ph.Video(msg.Timestamp, msg.Timestamp, payloadOf(msg.Payload))
			streamed = true
		case typeIDAudio:
			ph.Audio(msg.Timestamp, msg.Timestamp, payloadOf(msg.Payload))
			streamed = true
		case typeIDData:
			ph.Metadata(msg.Timestamp, payloadOf(msg.Payload))
			streamed = true
		}
		select {
		case <-ctx.Done():
			return streamed, ctx.Err()
		default:
		}
	}
}

func payloadOf(data []byte) *media.RefPayload {
	buf := make([]byte, len(data))
	copy(buf, data)
	return media.NewRefPayload(buf, false)
}
