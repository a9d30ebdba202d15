// Package edgectl holds the operator operations behind cmd/livehub-edgectl:
// listing currently-live sources and forcing an edge pull against a
// hub.Hub instance directly, in-process, rather than through a network
// API (spec.md §1 scopes an HTTP control API out; this is the operator
// escape hatch instead, and the surface integration tests drive to
// exercise edge-pull without spinning up a real RTMP origin).
package edgectl

import (
	"fmt"
	"sort"

	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/media"
)

// ListLive returns every currently-published stream key, sorted for
// stable CLI output.
func ListLive(h *hub.Hub) []media.StreamKey {
	keys := h.LiveKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// ForcePull clears key's edge-trigger latch and attaches a throwaway
// consumer to re-arm the missing-source hook, then releases it
// immediately; the hub never blocks Play on the pull itself, so the
// caller doesn't need to wait for the pull to land before returning.
func ForcePull(h *hub.Hub, key media.StreamKey) {
	h.ClearEdgeTrigger(key)
	ph := h.Play(key, hub.Want{Audio: true, Video: true, Script: true})
	ph.Close()
}

// ParseStreamKey splits "app/stream" (or "vhost/app/stream") CLI
// arguments into a media.StreamKey, defaulting Vhost the same way the
// RTMP front-end does for a bare tcUrl.
func ParseStreamKey(raw string) (media.StreamKey, error) {
	parts := splitN(raw, '/', 3)
	switch len(parts) {
	case 2:
		return media.StreamKey{Vhost: media.DefaultVhost, App: parts[0], Stream: parts[1]}, nil
	case 3:
		vhost := parts[0]
		if vhost == "" {
			vhost = media.DefaultVhost
		}
		return media.StreamKey{Vhost: vhost, App: parts[1], Stream: parts[2]}, nil
	default:
		return media.StreamKey{}, fmt.Errorf("invalid stream key %q, expected app/stream or vhost/app/stream", raw)
	}
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
