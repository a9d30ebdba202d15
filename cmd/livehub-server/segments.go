package main

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/liveedge/hub/internal/dash"
	"github.com/liveedge/hub/internal/hls"
	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/logger"
	"github.com/liveedge/hub/internal/media"
)

// segmentManager starts one HLS and/or DASH segmenter per stream key on
// publish and stops it on unpublish, driven entirely by the hub's
// publish-start/stop hooks so neither segmenter needs its own
// publish-detection logic.
type segmentManager struct {
	h       *hub.Hub
	hlsDir  string
	dashDir string
	log     *logger.Logger

	mu      sync.Mutex
	running map[media.StreamKey]context.CancelFunc

	mu2  sync.Mutex
	hlsP map[media.StreamKey]*hls.Segmenter
	dshP map[media.StreamKey]*dash.Segmenter
}

func newSegmentManager(h *hub.Hub, hlsDir, dashDir string) *segmentManager {
	return &segmentManager{
		h:       h,
		hlsDir:  hlsDir,
		dashDir: dashDir,
		log:     logger.L().With("component", "segments"),
		running: make(map[media.StreamKey]context.CancelFunc),
		hlsP:    make(map[media.StreamKey]*hls.Segmenter),
		dshP:    make(map[media.StreamKey]*dash.Segmenter),
	}
}

func (m *segmentManager) onPublishStart(key media.StreamKey) {
	m.mu.Lock()
	if _, exists := m.running[key]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running[key] = cancel
	m.mu.Unlock()

	dir := filepath.Join(key.App, key.Stream)

	if m.hlsDir != "" {
		seg, err := hls.NewSegmenter(m.h, key, hls.Config{OutputDir: filepath.Join(m.hlsDir, dir)})
		if err != nil {
			m.log.Error("hls segmenter init failed", "stream_key", key.String(), "error", err)
		} else {
			m.mu2.Lock()
			m.hlsP[key] = seg
			m.mu2.Unlock()
			go func() {
				if err := seg.Run(ctx); err != nil {
					m.log.Debug("hls segmenter stopped", "stream_key", key.String(), "error", err)
				}
			}()
		}
	}

	if m.dashDir != "" {
		seg, err := dash.NewSegmenter(m.h, key, dash.Config{OutputDir: filepath.Join(m.dashDir, dir)})
		if err != nil {
			m.log.Error("dash segmenter init failed", "stream_key", key.String(), "error", err)
		} else {
			m.mu2.Lock()
			m.dshP[key] = seg
			m.mu2.Unlock()
			go func() {
				if err := seg.Run(ctx); err != nil {
					m.log.Debug("dash segmenter stopped", "stream_key", key.String(), "error", err)
				}
			}()
		}
	}
}

func (m *segmentManager) onPublishStop(key media.StreamKey) {
	m.mu.Lock()
	cancel, ok := m.running[key]
	delete(m.running, key)
	m.mu.Unlock()
	if ok {
		cancel()
	}
	m.mu2.Lock()
	delete(m.hlsP, key)
	delete(m.dshP, key)
	m.mu2.Unlock()
}
