package edgectl

import (
	"testing"
	"time"

	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/media"
)

func newTestHub() *hub.Hub {
	cfg := hub.DefaultConfig()
	cfg.Source.IdleGracePeriod = 50 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	return hub.New(cfg)
}

func TestParseStreamKeyTwoPart(t *testing.T) {
	key, err := ParseStreamKey("live/test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := media.NewStreamKey("", "live", "test")
	if key != want {
		t.Fatalf("got %+v, want %+v", key, want)
	}
}

func TestParseStreamKeyThreePart(t *testing.T) {
	key, err := ParseStreamKey("edge1/live/test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Vhost != "edge1" || key.App != "live" || key.Stream != "test" {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestParseStreamKeyInvalid(t *testing.T) {
	if _, err := ParseStreamKey("justastream"); err == nil {
		t.Fatal("expected error for stream key with no separator")
	}
}

func TestListLiveReportsOnlyPublished(t *testing.T) {
	h := newTestHub()
	defer h.Close()

	key := media.NewStreamKey("", "live", "published")
	p, err := h.Publish(key)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	defer p.Close()

	// A viewer on a stream with no publisher should not show up as live.
	h.Play(media.NewStreamKey("", "live", "absent"), hub.Want{Video: true})

	live := ListLive(h)
	if len(live) != 1 || live[0] != key {
		t.Fatalf("expected only %v live, got %v", key, live)
	}
}

func TestForcePullRearmsMissingSourceHook(t *testing.T) {
	h := newTestHub()
	defer h.Close()

	key := media.NewStreamKey("", "live", "pulled")
	hookCalls := make(chan media.StreamKey, 4)
	h.SetMissingSourceHook(func(k media.StreamKey) { hookCalls <- k })

	// First Play arms the hook.
	first := h.Play(key, hub.Want{Video: true})
	defer first.Close()
	select {
	case got := <-hookCalls:
		if got != key {
			t.Fatalf("unexpected key: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected missing-source hook to fire on first Play")
	}

	// A second Play without ForcePull must not re-trigger it.
	second := h.Play(key, hub.Want{Video: true})
	defer second.Close()
	select {
	case got := <-hookCalls:
		t.Fatalf("unexpected second hook call for %v before ForcePull", got)
	case <-time.After(50 * time.Millisecond):
	}

	ForcePull(h, key)
	select {
	case got := <-hookCalls:
		if got != key {
			t.Fatalf("unexpected key: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ForcePull to re-trigger the missing-source hook")
	}
}
