package integration

// End-to-end scenario matching quickstart.md: a publisher handshakes,
// connects, creates a stream, publishes, and sends an AVC video
// sequence header and an AAC audio sequence header; the server must
// detect both codecs and make the stream available to a player.

import (
	"net"
	"testing"
	"time"

	"github.com/liveedge/hub/internal/rtmp/chunk"
	"github.com/liveedge/hub/internal/rtmp/media"
	"github.com/liveedge/hub/internal/rtmp/server"
)

func TestQuickstartScenario(t *testing.T) {
	srv := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Stop()
	addr := srv.Addr().String()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := performHandshake(conn); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if err := sendConnectCommand(conn, "live"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := readCommandResponse(conn, 5*time.Second); err != nil {
		t.Fatalf("connect result: %v", err)
	}
	if err := sendCreateStreamCommand(conn); err != nil {
		t.Fatalf("createStream: %v", err)
	}
	if _, err := readCommandResponse(conn, 5*time.Second); err != nil {
		t.Fatalf("createStream result: %v", err)
	}
	if err := sendPublishCommand(conn, "live", "quickstart"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := readCommandResponse(conn, 5*time.Second); err != nil {
		t.Fatalf("publish onStatus: %v", err)
	}

	// AVC sequence header: frame type 1 (key), codec 7 (AVC), AVC
	// packet type 0 (sequence header), 4-byte AVCDecoderConfigRecord.
	videoSeqHdr := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x1f}
	if err := sendMessage(conn, &chunk.Message{CSID: 6, TypeID: 9, MessageStreamID: 1, Timestamp: 0, Payload: videoSeqHdr}); err != nil {
		t.Fatalf("send video sequence header: %v", err)
	}

	// AAC sequence header: sound format 10 (AAC), packet type 0
	// (sequence header), 2-byte AudioSpecificConfig.
	audioSeqHdr := []byte{0xAF, 0x00, 0x12, 0x10}
	if err := sendMessage(conn, &chunk.Message{CSID: 4, TypeID: 8, MessageStreamID: 1, Timestamp: 0, Payload: audioSeqHdr}); err != nil {
		t.Fatalf("send audio sequence header: %v", err)
	}

	// Codec detection runs synchronously in the connection's message
	// handler; give the goroutine a moment to process both messages.
	deadline := time.Now().Add(2 * time.Second)
	var stream *server.Stream
	for time.Now().Before(deadline) {
		stream = srv.Registry().GetStream("live/quickstart")
		if stream != nil && stream.GetVideoCodec() != "" && stream.GetAudioCodec() != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if stream == nil {
		t.Fatalf("stream live/quickstart not registered")
	}
	if stream.GetVideoCodec() != media.VideoCodecAVC {
		t.Fatalf("expected video codec %q, got %q", media.VideoCodecAVC, stream.GetVideoCodec())
	}
	if stream.GetAudioCodec() != media.AudioCodecAAC {
		t.Fatalf("expected audio codec %q, got %q", media.AudioCodecAAC, stream.GetAudioCodec())
	}

	// A player arriving after the sequence headers were published must
	// still receive them on attach (GOP-cache / cached-header replay).
	subConn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial subscriber: %v", err)
	}
	defer subConn.Close()
	if err := performHandshake(subConn); err != nil {
		t.Fatalf("subscriber handshake: %v", err)
	}
	if err := sendConnectCommand(subConn, "live"); err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	if _, err := readCommandResponse(subConn, 5*time.Second); err != nil {
		t.Fatalf("subscriber connect result: %v", err)
	}
	if err := sendCreateStreamCommand(subConn); err != nil {
		t.Fatalf("subscriber createStream: %v", err)
	}
	if _, err := readCommandResponse(subConn, 5*time.Second); err != nil {
		t.Fatalf("subscriber createStream result: %v", err)
	}
	if err := sendPlayCommand(subConn, "live", "quickstart"); err != nil {
		t.Fatalf("subscriber play: %v", err)
	}
	if _, err := readCommandResponse(subConn, 5*time.Second); err != nil {
		t.Fatalf("subscriber play onStatus: %v", err)
	}

	sawVideo, sawAudio := false, false
	for i := 0; i < 10 && !(sawVideo && sawAudio); i++ {
		msg, err := readMessage(subConn, 2*time.Second)
		if err != nil {
			break
		}
		switch msg.TypeID {
		case 9:
			sawVideo = true
		case 8:
			sawAudio = true
		}
	}
	if !sawVideo {
		t.Error("late subscriber did not receive cached video sequence header")
	}
	if !sawAudio {
		t.Error("late subscriber did not receive cached audio sequence header")
	}
}
