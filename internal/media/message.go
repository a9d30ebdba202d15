// Package media defines the transport-independent frame the hub fans out:
// a stream-keyed, kind-tagged, timestamped payload shared by reference
// across every consumer so a slow subscriber never forces a copy on the
// publisher's hot path.
package media

import (
	"sync/atomic"

	"github.com/liveedge/hub/internal/bufpool"
)

// Kind identifies what a Message carries, mirroring the three RTMP
// message types the hub ever fans out.
type Kind uint8

const (
	KindAudio Kind = iota
	KindVideo
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindScript:
		return "script"
	default:
		return "unknown"
	}
}

// RefPayload is a reference-counted immutable byte buffer. Every
// consumer ring and the GOP cache hold the same RefPayload by pointer;
// the backing array is only released to the buffer pool once the last
// holder calls Release. Retain/Release use a plain atomic counter: Go's
// garbage collector would reclaim the array regardless, but routing
// large buffers back through bufpool measurably cuts allocation churn
// on the fan-out hot path, which is the point of holding a refcount at
// all in a GC'd language.
type RefPayload struct {
	data   []byte
	count  int32
	pooled bool
}

// NewRefPayload wraps data with an initial reference count of one.
// pooled indicates data was obtained from bufpool.Get and should be
// returned via bufpool.Put once the last reference is released.
func NewRefPayload(data []byte, pooled bool) *RefPayload {
	return &RefPayload{data: data, count: 1, pooled: pooled}
}

// Bytes returns the underlying buffer. Callers must not mutate it.
func (p *RefPayload) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data
}

// Len returns len(Bytes()).
func (p *RefPayload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.data)
}

// Retain increments the reference count; call once per new holder
// (each consumer enqueue, the GOP cache) before storing the pointer.
func (p *RefPayload) Retain() *RefPayload {
	if p == nil {
		return nil
	}
	atomic.AddInt32(&p.count, 1)
	return p
}

// Release decrements the reference count, returning the backing array
// to bufpool once it reaches zero.
func (p *RefPayload) Release() {
	if p == nil {
		return
	}
	if atomic.AddInt32(&p.count, -1) == 0 && p.pooled {
		bufpool.Put(p.data)
	}
}

// StreamKey is the (vhost, app, stream) triple every hub operation is
// keyed on. The zero value's Vhost is resolved to DefaultVhost at the
// point a key is constructed from wire input, not later.
type StreamKey struct {
	Vhost  string
	App    string
	Stream string
}

// DefaultVhost is substituted for an empty vhost component.
const DefaultVhost = "__defaultVhost__"

// NewStreamKey builds a StreamKey, substituting DefaultVhost for an
// empty vhost.
func NewStreamKey(vhost, app, stream string) StreamKey {
	if vhost == "" {
		vhost = DefaultVhost
	}
	return StreamKey{Vhost: vhost, App: app, Stream: stream}
}

func (k StreamKey) String() string {
	return k.Vhost + "/" + k.App + "/" + k.Stream
}

// Message is one framed piece of media or metadata flowing through the
// hub. Dts/Pts are wire (32-bit, wrapping) milliseconds as received
// from the publisher; VirtualDts/VirtualPts are the hub's ATC-corrected
// 64-bit virtual timeline (see internal/hub). Payload is immutable and
// shared by reference; Retain/Release its RefPayload to participate in
// the refcount.
type Message struct {
	Key        StreamKey
	Kind       Kind
	Dts        uint32
	Pts        uint32
	VirtualDts int64
	VirtualPts int64
	Payload    *RefPayload
}

// IsSequenceHeader reports whether m carries codec configuration data
// (AVCDecoderConfigurationRecord / AudioSpecificConfig) rather than a
// coded media frame.
func (m *Message) IsSequenceHeader() bool {
	if m == nil || m.Kind == KindScript {
		return false
	}
	body := m.Payload.Bytes()
	switch m.Kind {
	case KindVideo:
		return len(body) >= 2 && (body[0]&0x0F) == 7 && body[1] == 0
	case KindAudio:
		return len(body) >= 2 && (body[0]>>4) == 0x0A && body[1] == 0
	default:
		return false
	}
}

// IsKeyFrame reports whether m is a video keyframe.
func (m *Message) IsKeyFrame() bool {
	if m == nil || m.Kind != KindVideo {
		return false
	}
	body := m.Payload.Bytes()
	if len(body) == 0 {
		return false
	}
	return (body[0]>>4)&0x0F == 1
}

// Clone returns a shallow copy of m with the RefPayload retained, so
// the clone and the original can be released independently (each
// consumer's ring holds a clone, never the publisher's original
// pointer, so mutating VirtualDts/VirtualPts per-consumer is safe).
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = m.Payload.Retain()
	return &c
}

// Release releases the message's RefPayload.
func (m *Message) Release() {
	if m == nil {
		return
	}
	m.Payload.Release()
}
