// Package transport establishes the media+event connection to the speech
// backend and exposes a reliable ordered message channel. Two
// implementations exist: a peer connection with a dedicated media track
// (webrtc.go) and an ordered websocket fallback (websocket.go).
package transport

import (
	"context"
	"time"
)

// Status describes the transport's network-path health.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conn is a negotiated connection to the speech backend. Exactly one Conn
// exists per session; the session layer owns its lifecycle.
type Conn interface {
	// Connect negotiates the connection. A second call while a negotiation
	// is in flight is a no-op; a call on an already-connected transport
	// returns ErrAlreadyConnected.
	Connect(ctx context.Context) error

	// Send delivers a protocol frame. Frames sent before the channel opens
	// are queued and flushed in FIFO order on open.
	Send(payload []byte) error

	// WriteAudio transmits one frame of captured PCM audio.
	WriteAudio(pcm []byte, duration time.Duration) error

	// Frames yields inbound protocol frames in receipt order.
	Frames() <-chan []byte

	// Status yields network-path transitions, one per change.
	StatusChanges() <-chan Status

	// Close tears the connection down. Idempotent; queued-but-unsent
	// frames are discarded, never replayed.
	Close() error
}
