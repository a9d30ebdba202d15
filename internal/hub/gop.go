package hub

import (
	"sync"

	"github.com/liveedge/hub/internal/media"
)

// GopPolicy selects how the GOP cache retires old groups of pictures
// (spec §4.D "GopCache policy").
type GopPolicy int

const (
	// GopCacheAllUntilNextKeyframe keeps exactly the GOP currently being
	// built, dropping the previous one the instant a new keyframe
	// arrives. This is the spec's documented default ("cache all until
	// next keyframe").
	GopCacheAllUntilNextKeyframe GopPolicy = iota
	// GopCacheLastNGops retains the last N GOPs, counting the one
	// currently being built, evicting the oldest as new keyframes
	// arrive past that count.
	GopCacheLastNGops
)

// gopCache is a bounded FIFO of messages covering whole GOPs. Its
// invariant (spec §3): the first element is always a keyframe, or the
// cache is empty. Audio-only streams never call push, so the cache
// stays empty and is bypassed entirely, matching spec.
type gopCache struct {
	mu     sync.Mutex
	policy GopPolicy
	n      int // max GOPs retained under GopCacheLastNGops
	gops   [][]*media.Message
}

func newGopCache(policy GopPolicy, n int) *gopCache {
	if n <= 0 {
		n = 1
	}
	return &gopCache{policy: policy, n: n}
}

// push appends a video message to the cache, starting a new GOP on a
// keyframe and trimming per policy. Frames observed before any
// keyframe (so the invariant would break) are dropped.
func (c *gopCache) push(msg *media.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.IsKeyFrame() {
		c.gops = append(c.gops, []*media.Message{msg.Clone()})
		c.trimLocked()
		return
	}
	if len(c.gops) == 0 {
		return // no keyframe yet; invariant forbids a non-keyframe-led cache
	}
	last := len(c.gops) - 1
	c.gops[last] = append(c.gops[last], msg.Clone())
}

func (c *gopCache) trimLocked() {
	switch c.policy {
	case GopCacheLastNGops:
		for len(c.gops) > c.n {
			releaseGop(c.gops[0])
			c.gops = c.gops[1:]
		}
	default: // GopCacheAllUntilNextKeyframe
		for len(c.gops) > 1 {
			releaseGop(c.gops[0])
			c.gops = c.gops[1:]
		}
	}
}

func releaseGop(gop []*media.Message) {
	for _, m := range gop {
		m.Release()
	}
}

// snapshot returns every cached message, oldest GOP first, oldest
// frame first within each GOP, each retained so the caller owns an
// independent reference.
func (c *gopCache) snapshot() []*media.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int
	for _, g := range c.gops {
		total += len(g)
	}
	if total == 0 {
		return nil
	}
	out := make([]*media.Message, 0, total)
	for _, g := range c.gops {
		for _, m := range g {
			out = append(out, m.Clone())
		}
	}
	return out
}

// empty reports whether the cache currently holds no messages.
func (c *gopCache) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.gops) == 0
}

// reset drops every cached GOP, releasing their messages. Used when a
// publisher re-announces sequence headers with different codec
// parameters (the old cache's frames are no longer decodable against
// the new headers).
func (c *gopCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.gops {
		releaseGop(g)
	}
	c.gops = nil
}
