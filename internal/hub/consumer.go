package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	liveedgeerrors "github.com/liveedge/hub/internal/errors"
	"github.com/liveedge/hub/internal/media"
)

// Want selects which message kinds a Consumer receives (spec §3,
// Consumer{want_audio, want_video, want_script}).
type Want struct {
	Audio  bool
	Video  bool
	Script bool
}

func (w Want) accepts(k media.Kind) bool {
	switch k {
	case media.KindAudio:
		return w.Audio
	case media.KindVideo:
		return w.Video
	case media.KindScript:
		return w.Script
	default:
		return false
	}
}

// DefaultWant subscribes to every kind, the common case for a
// full-fidelity player.
var DefaultWant = Want{Audio: true, Video: true, Script: true}

// Consumer is a per-subscriber queue within a LiveSource (spec §3).
// The outgoing ring is bounded by duration, not byte size or frame
// count; overflow applies the keyframe-aligned drop policy.
type Consumer struct {
	ID     string
	parent *Key

	mu          sync.Mutex
	cond        *sync.Cond // never initialized or used; waiters block on notify
	notify      chan struct{}
	queue       []*media.Message
	maxDuration int64 // ms
	want        Want
	paused      bool
	closed      bool
	closeErr    error
	jitter      jitterCorrector
	stalled     bool
}

// Key is re-exported from media for callers that only import hub.
type Key = media.StreamKey

func newConsumer(parent Key, want Want, maxDurationMS int64) *Consumer {
	if maxDurationMS <= 0 {
		maxDurationMS = 10_000
	}
	c := &Consumer{
		ID:          uuid.NewString(),
		parent:      &parent,
		notify:      make(chan struct{}, 1),
		want:        want,
		maxDuration: maxDurationMS,
	}
	return c
}

// SetPaused toggles delivery; enqueue still accepts messages while
// paused (they accumulate against the same overflow policy) but
// Dequeue blocks until resumed.
func (c *Consumer) SetPaused(p bool) {
	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
	if !p {
		c.wake()
	}
}

// enqueue appends msg if its kind is wanted, applying the
// keyframe-aligned drop policy on overflow. Returns false if the
// consumer was marked stalled and should be dropped by the caller.
// Takes ownership of msg's reference on success; releases it directly
// if the kind is unwanted or an overflowing tail portion is discarded.
func (c *Consumer) enqueue(msg *media.Message) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		msg.Release()
		return false
	}
	if !c.want.accepts(msg.Kind) {
		c.mu.Unlock()
		msg.Release()
		return true
	}
	c.queue = append(c.queue, msg)
	c.trimOverflowLocked()
	stalled := c.stalled
	c.mu.Unlock()
	if !stalled {
		c.wake()
	}
	return !stalled
}

// trimOverflowLocked must be called with mu held. It implements spec
// §3's Consumer overflow policy: "keep the last keyframe and drop
// intermediate frames back to it". If no keyframe exists in the
// window to trim to, the consumer is marked stalled so the caller
// tears it down.
func (c *Consumer) trimOverflowLocked() {
	if len(c.queue) < 2 {
		return
	}
	span := c.queue[len(c.queue)-1].VirtualDts - c.queue[0].VirtualDts
	if span <= c.maxDuration {
		return
	}
	// Find the most recent video keyframe and drop everything before it.
	lastKeyIdx := -1
	for i := len(c.queue) - 1; i >= 0; i-- {
		if c.queue[i].IsKeyFrame() {
			lastKeyIdx = i
			break
		}
	}
	if lastKeyIdx <= 0 {
		if lastKeyIdx < 0 {
			c.stalled = true
			c.closed = true
			c.closeErr = liveedgeerrors.NewOverflow("hub.consumer", fmt.Errorf("queue overflow with no keyframe to trim to"))
		}
		return
	}
	for _, dropped := range c.queue[:lastKeyIdx] {
		dropped.Release()
	}
	c.queue = append([]*media.Message(nil), c.queue[lastKeyIdx:]...)
}

func (c *Consumer) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a message is available, the consumer is
// closed, or ctx is done.
func (c *Consumer) Dequeue(ctx context.Context) (*media.Message, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 && !c.paused {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		if c.closed && len(c.queue) == 0 {
			err := c.closeErr
			c.mu.Unlock()
			if err == nil {
				err = liveedgeerrors.NewShutdown("hub.consumer", nil)
			}
			return nil, err
		}
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// close tears the consumer down with the given reason, releasing any
// still-queued messages. Safe to call multiple times.
func (c *Consumer) close(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.closeErr == nil {
		c.closeErr = reason
	}
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, m := range queued {
		m.Release()
	}
	c.wake()
}

// QueueDepth reports the current number of buffered messages, for
// diagnostics/tests.
func (c *Consumer) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
