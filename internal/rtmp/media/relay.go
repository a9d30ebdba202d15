package media

import (
	"io"

	slog "github.com/liveedge/hub/internal/logger"

	"github.com/liveedge/hub/internal/rtmp/chunk"
)

// Subscriber is the delivery contract a registered stream subscriber (an
// RTMP play connection, in practice) must satisfy. server.Stream tracks
// subscribers under this interface so it does not need to import the conn
// package back.
type Subscriber interface {
	SendMessage(*chunk.Message) error
}

// TrySendMessage is an optional interface for non-blocking enqueue semantics:
// a subscriber implementing it lets a caller drop a message under
// backpressure instead of blocking the ingest path on a slow client.
type TrySendMessage interface {
	TrySendMessage(*chunk.Message) bool
}

// NullLogger is a helper returning a no-op slog.Logger for tests when caller
// doesn't care about output.
func NullLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
