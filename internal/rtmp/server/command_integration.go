package server

// Command Integration (Incremental Wiring)
// ---------------------------------------
// This file bridges the lower-level connection (handshake + control +
// chunking read/write loops) with the existing RPC command parsing and
// handlers so that real RTMP clients (OBS / ffmpeg) can complete the
// connect → createStream → publish sequence.
//
// Scope (minimal, pragmatic):
//   * Per-connection state: application name (from connect), stream id
//     allocator for createStream responses.
//   * Dispatch handling for: connect, createStream, publish, play.
//   * Unknown commands are ignored by the dispatcher.
//   * Errors are logged; fatal protocol errors currently just logged (a
//     future enhancement can close the connection or send _error responses).
//
// This unlocks basic interoperability with standard broadcasters which
// expect the canonical responses:
//   - _result for connect (NetConnection.Connect.Success)
//   - _result for createStream returning stream id (1)
//   - onStatus NetStream.Publish.Start after publish
//
// After publish, incoming audio/video messages are ingested into the hub
// (which fans them out to players), written to the recorder when recording
// is enabled, and relayed to any configured destinations.

import (
	"context"
	"fmt"
	slog "github.com/liveedge/hub/internal/logger"
	"os"
	"path/filepath"
	"strings"
	"time"

	hubpkg "github.com/liveedge/hub/internal/hub"
	liveedgemedia "github.com/liveedge/hub/internal/media"
	"github.com/liveedge/hub/internal/rtmp/chunk"
	iconn "github.com/liveedge/hub/internal/rtmp/conn"
	"github.com/liveedge/hub/internal/rtmp/control"
	"github.com/liveedge/hub/internal/rtmp/media"
	"github.com/liveedge/hub/internal/rtmp/relay"
	"github.com/liveedge/hub/internal/rtmp/rpc"
)

// commandState holds mutable per-connection fields needed by handlers.
// app/stream-key/lifecycle-state tracking is delegated to iconn.Session
// rather than hand-rolled here, so the connect→createStream→publish/play
// progression this file drives is the same state machine Session models.
type commandState struct {
	session       *iconn.Session
	allocator     *rpc.StreamIDAllocator
	mediaLogger   *MediaLogger
	codecDetector *media.CodecDetector

	pub  *hubpkg.PublishHandle // set once this connection is publishing
	play *hubpkg.PlayHandle    // set once this connection is playing
}

// attachCommandHandling installs a dispatcher-backed message handler on the
// provided connection. Safe to call immediately after Accept returns. h, when
// non-nil, is the hub every publish/play is routed through for GOP-cache
// cold-start and zero-copy fan-out (spec §4.D, §9); destMgr, when non-nil, is
// the legacy raw per-message relay to externally configured destinations.
func attachCommandHandling(c *iconn.Connection, reg *Registry, cfg *Config, log *slog.Logger, h *hubpkg.Hub, destMgr *relay.DestinationManager) {
	if c == nil || reg == nil || cfg == nil {
		return
	}
	st := &commandState{
		session:       iconn.NewSession(),
		allocator:     rpc.NewStreamIDAllocator(),
		mediaLogger:   NewMediaLogger(c.ID(), log, 30*time.Second),
		codecDetector: &media.CodecDetector{},
	}

	d := rpc.NewDispatcher(func() string { return st.session.App() })

	d.OnConnect = func(cc *rpc.ConnectCommand, msg *chunk.Message) error {
		log.Debug("OnConnect handler invoked", "app", cc.App, "tcUrl", cc.TcURL, "txn_id", cc.TransactionID)
		// Persist connect-negotiated fields for subsequent publish/play parsing.
		st.session.SetConnectInfo(cc.App, cc.TcURL, cc.FlashVer, uint8(cc.ObjectEncoding))
		log.Debug("building connect response", "txn_id", cc.TransactionID)
		resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
		if err != nil {
			log.Error("connect response build failed", "error", err)
			return nil // swallow errors to keep connection alive for now
		}
		// Debug: log first 64 bytes of response payload
		previewLen := 64
		if len(resp.Payload) < previewLen {
			previewLen = len(resp.Payload)
		}
		log.Debug("connect response payload preview", "bytes", resp.Payload[:previewLen])
		log.Debug("sending connect response", "txn_id", cc.TransactionID, "payload_len", len(resp.Payload))
		if err := c.SendMessage(resp); err != nil {
			log.Error("connect response send failed", "error", err)
		} else {
			log.Info("connect response sent successfully", "app", cc.App)
		}
		return nil // swallow errors to keep connection alive for now
	}

	d.OnCreateStream = func(cs *rpc.CreateStreamCommand, msg *chunk.Message) error {
		log.Debug("OnCreateStream handler invoked", "txn_id", cs.TransactionID)
		resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, st.allocator)
		if err != nil {
			log.Error("createStream response build failed", "error", err)
			return nil
		}
		log.Debug("createStream response built", "stream_id", streamID, "payload_len", len(resp.Payload))
		if err := c.SendMessage(resp); err != nil {
			log.Error("createStream response send failed", "error", err)
		} else {
			log.Info("createStream response sent successfully", "stream_id", streamID, "txn_id", cs.TransactionID)
		}

		// Send UserControl StreamBegin to signal stream is ready
		streamBegin := control.EncodeUserControlStreamBegin(streamID)
		if err := c.SendMessage(streamBegin); err != nil {
			log.Error("StreamBegin send failed", "error", err, "stream_id", streamID)
		} else {
			log.Info("StreamBegin sent", "stream_id", streamID)
		}
		return nil
	}

	d.OnPublish = func(pc *rpc.PublishCommand, msg *chunk.Message) error {
		// Delegate to existing publish handler (sends onStatus internally).
		// h claims the hub's at-most-one-publisher slot; the handle is used
		// below to ingest media as it arrives.
		_, handle, err := HandlePublish(reg, h, c, st.session.App(), msg)
		if err != nil {
			log.Error("publish handle", "error", err)
			return nil
		}
		st.pub = handle

		// Track stream key for this connection
		st.session.SetStreamKey("", pc.PublishingName)

		// Initialize recorder if recording is enabled
		if cfg.RecordAll {
			stream := reg.GetStream(pc.StreamKey)
			if stream != nil {
				if err := initRecorder(stream, cfg.RecordDir, log); err != nil {
					log.Error("failed to create recorder", "error", err, "stream_key", pc.StreamKey)
				} else {
					log.Info("recording started", "stream_key", pc.StreamKey, "record_dir", cfg.RecordDir)
				}
			}
		}

		return nil
	}

	d.OnPlay = func(pl *rpc.PlayCommand, msg *chunk.Message) error {
		// Delegate to existing play handler (sends onStatus internally).
		_, playHandle, err := HandlePlay(reg, h, c, st.session.App(), msg)
		if err != nil {
			log.Error("play handle", "error", err)
			return nil
		}

		// Track stream key for this connection
		st.session.SetStreamKey("", pl.StreamName)
		st.play = playHandle

		if playHandle != nil {
			go forwardHubToConnection(c, playHandle, log)
		}

		return nil
	}

	c.SetMessageHandler(func(m *chunk.Message) {
		if m == nil {
			return
		}

		log.Debug("message handler invoked", "type_id", m.TypeID, "msid", m.MessageStreamID, "len", len(m.Payload))

		// Process media packets (audio/video) through MediaLogger
		if m.TypeID == 8 || m.TypeID == 9 {
			st.mediaLogger.ProcessMessage(m)

			if st.session.StreamKey() != "" {
				stream := reg.GetStream(st.session.StreamKey())
				if stream != nil {
					if stream.Recorder != nil {
						stream.Recorder.WriteMessage(m)
					}
					// Codec bookkeeping only; actual fan-out to RTMP
					// play clients happens through the hub (st.pub below)
					// to preserve the zero-copy-on-fan-out invariant.
					if m.TypeID == 8 || m.TypeID == 9 {
						st.codecDetector.Process(m.TypeID, m.Payload, stream, log)
						stream.CacheSequenceHeader(m, log)
					}
				}
			}

			if st.pub != nil {
				ingestIntoHub(st.pub, m)
			}

			// Legacy raw relay to externally configured RTMP destinations
			// (spec §4.H forward-push via the original broadcaster stack).
			if destMgr != nil {
				destMgr.RelayMessage(m)
			}

			return // Media packets don't need command dispatch
		}

		if m.TypeID == 18 && st.pub != nil { // AMF0 data, e.g. onMetaData
			payload := make([]byte, len(m.Payload))
			copy(payload, m.Payload)
			st.pub.Metadata(m.Timestamp, liveedgemedia.NewRefPayload(payload, false))
			return
		}

		if m.TypeID != rpc.CommandMessageAMF0TypeIDForTest() {
			log.Debug("skipping non-command message", "type_id", m.TypeID)
			return
		}
		log.Debug("dispatching command message", "type_id", m.TypeID)
		if err := d.Dispatch(m); err != nil {
			log.Error("dispatch error", "error", err)
		}
	})

	go func() {
		<-c.Done()
		if st.pub != nil {
			st.pub.Close()
		}
		if st.play != nil {
			st.play.Close()
		}
		if key := st.session.StreamKey(); key != "" {
			PublisherDisconnected(reg, key, c)
			SubscriberDisconnected(reg, key, c)
			cleanupRecorder(reg, key, log)
		}
	}()
}

// ingestIntoHub routes one freshly-received audio/video chunk.Message into
// the publisher's hub.PublishHandle, copying the payload since chunk.Message
// reuses read-loop buffers that outlive this call.
func ingestIntoHub(pub *hubpkg.PublishHandle, m *chunk.Message) {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)
	ref := liveedgemedia.NewRefPayload(payload, false)
	switch m.TypeID {
	case 9:
		pub.Video(m.Timestamp, m.Timestamp, ref)
	case 8:
		pub.Audio(m.Timestamp, m.Timestamp, ref)
	}
}

// forwardHubToConnection drains a PlayHandle's cold-start replay and live
// tail, converting each media.Message back into a chunk.Message on conn,
// exactly mirroring the pattern httpflv.Handler and forward.Forwarder use
// for their own hub-backed outputs. It exits when conn closes or the
// source itself closes (publisher gone and reaped, or hub shutdown).
func forwardHubToConnection(c *iconn.Connection, play *hubpkg.PlayHandle, log *slog.Logger) {
	defer play.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		m, err := play.Dequeue(ctx)
		if err != nil {
			return
		}
		cm := hubMessageToChunk(m)
		m.Release()
		if cm == nil {
			continue
		}
		if err := c.SendMessage(cm); err != nil {
			log.Debug("play forward send failed", "error", err)
			return
		}
	}
}

// hubMessageToChunk maps a media.Message back onto the wire TypeIDs the
// RTMP play path expects (8 audio, 9 video, 18 AMF0 data).
func hubMessageToChunk(m *liveedgemedia.Message) *chunk.Message {
	var typeID uint8
	switch m.Kind {
	case liveedgemedia.KindVideo:
		typeID = 9
	case liveedgemedia.KindAudio:
		typeID = 8
	case liveedgemedia.KindScript:
		typeID = 18
	default:
		return nil
	}
	body := m.Payload.Bytes()
	out := make([]byte, len(body))
	copy(out, body)
	return &chunk.Message{
		CSID:          4,
		TypeID:        typeID,
		Timestamp:     uint32(m.VirtualDts),
		MessageLength: uint32(len(out)),
		Payload:       out,
	}
}

// initRecorder creates and initializes a recorder for the given stream.
// It generates a timestamped filename based on the stream key and stores
// the recorder in the stream's Recorder field.
func initRecorder(stream *Stream, recordDir string, log *slog.Logger) error {
	if stream == nil {
		return fmt.Errorf("nil stream")
	}

	// Ensure record directory exists
	if err := os.MkdirAll(recordDir, 0755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	// Generate filename: streamkey_timestamp.flv
	// Replace slashes in stream key with underscores for filesystem safety
	safeKey := strings.ReplaceAll(stream.Key, "/", "_")
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.flv", safeKey, timestamp)
	filepath := filepath.Join(recordDir, filename)

	// Create recorder
	recorder, err := media.NewRecorder(filepath, log)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}

	// Store recorder in stream
	stream.mu.Lock()
	stream.Recorder = recorder
	stream.mu.Unlock()

	log.Info("recorder initialized", "stream_key", stream.Key, "file", filepath)
	return nil
}

// cleanupRecorder closes and removes the recorder for the given stream key.
func cleanupRecorder(reg *Registry, streamKey string, log *slog.Logger) {
	if reg == nil || streamKey == "" {
		return
	}

	stream := reg.GetStream(streamKey)
	if stream == nil {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.Recorder != nil {
		if err := stream.Recorder.Close(); err != nil {
			log.Error("recorder close error", "error", err, "stream_key", streamKey)
		} else {
			log.Info("recorder closed", "stream_key", streamKey)
		}
		stream.Recorder = nil
	}
}
