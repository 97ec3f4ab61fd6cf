package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tablevox/vox-order/pkg/core"
	"github.com/tablevox/vox-order/pkg/voice/protocol"
)

// SocketConfig configures the websocket fallback transport, used where a
// peer media path cannot be established. Audio travels as base64 JSON
// frames on the same ordered channel as protocol messages.
type SocketConfig struct {
	// URL is the ws(s) endpoint of the speech backend.
	URL string

	// Secret is the short-lived bearer credential. Single-use.
	Secret string

	// NegotiationTimeout bounds the dial. Default 15s.
	NegotiationTimeout time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// SocketConn is the websocket implementation of Conn. Like PeerConn it is
// single-shot: one successful Connect per instance.
type SocketConn struct {
	cfg    SocketConfig
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	ws     *websocket.Conn

	writeMu   sync.Mutex
	queue     *sendQueue
	frames    chan []byte
	statuses  chan Status
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

// NewSocketConn creates an unconnected websocket transport.
func NewSocketConn(cfg SocketConfig) *SocketConn {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = defaultNegotiationTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &SocketConn{
		cfg:      cfg,
		logger:   logger,
		queue:    newSendQueue(),
		frames:   make(chan []byte, 256),
		statuses: make(chan Status, 16),
		done:     make(chan struct{}),
	}
}

// Connect dials the backend. A second call while dialing is a no-op; a call
// on an established connection returns ErrAlreadyConnected.
func (t *SocketConn) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.status {
	case StatusConnecting:
		t.mu.Unlock()
		return nil
	case StatusConnected:
		t.mu.Unlock()
		return ErrAlreadyConnected
	case StatusFailed:
		t.mu.Unlock()
		return core.NewConnectionError("transport is spent; dial a new connection", nil)
	}
	t.status = StatusConnecting
	t.mu.Unlock()
	t.emitStatus(StatusConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.NegotiationTimeout)
	defer cancel()

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+t.cfg.Secret)

	ws, resp, err := t.cfg.Dialer.DialContext(dialCtx, t.cfg.URL, headers)
	if err != nil {
		t.mu.Lock()
		t.status = StatusFailed
		t.mu.Unlock()
		t.emitStatus(StatusDisconnected)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &core.Error{Type: core.ErrCredential, Code: core.CodeCredentialExpired, Message: "credential rejected during dial"}
		}
		if dialCtx.Err() != nil {
			return &core.Error{Type: core.ErrConnection, Code: core.CodeNegotiationTimeout, Message: "websocket dial timed out"}
		}
		return core.NewConnectionError("websocket dial", err)
	}

	t.mu.Lock()
	t.ws = ws
	t.status = StatusConnected
	t.mu.Unlock()
	t.connected.Store(true)

	if err := t.queue.Open(t.writeFrame); err != nil {
		t.logger.Warn("flush queued frames after dial", "error", err)
	}
	t.emitStatus(StatusConnected)
	go t.readLoop(ws)
	return nil
}

func (t *SocketConn) writeFrame(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.mu.Lock()
	ws := t.ws
	t.mu.Unlock()
	if ws == nil {
		return core.NewConnectionError("websocket is not connected", nil)
	}
	return ws.WriteMessage(websocket.TextMessage, payload)
}

func (t *SocketConn) readLoop(ws *websocket.Conn) {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if t.connected.CompareAndSwap(true, false) {
				t.queue.Reset()
				t.mu.Lock()
				t.status = StatusFailed
				t.mu.Unlock()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.logger.Debug("websocket read failed", "error", err)
				}
				t.emitStatus(StatusDisconnected)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case t.frames <- data:
		case <-t.done:
			return
		}
	}
}

func (t *SocketConn) emitStatus(s Status) {
	select {
	case t.statuses <- s:
	default:
	}
}

// Send delivers a protocol frame, queueing it if the dial has not finished.
func (t *SocketConn) Send(payload []byte) error {
	return t.queue.Push(payload)
}

// WriteAudio transmits one PCM16 frame as a base64 JSON append command.
// Frames written while disconnected are dropped, never buffered.
func (t *SocketConn) WriteAudio(pcm []byte, _ time.Duration) error {
	if !t.connected.Load() {
		return nil
	}
	payload, err := protocol.Encode(protocol.NewInputAudioBufferAppend(pcm))
	if err != nil {
		return err
	}
	return t.writeFrame(payload)
}

// Frames yields inbound protocol frames in receipt order.
func (t *SocketConn) Frames() <-chan []byte { return t.frames }

// StatusChanges yields network-path transitions.
func (t *SocketConn) StatusChanges() <-chan Status { return t.statuses }

// Close tears down the connection. Idempotent.
func (t *SocketConn) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.connected.Store(false)
		t.queue.Close()
		t.mu.Lock()
		ws := t.ws
		t.status = StatusDisconnected
		t.mu.Unlock()
		if ws != nil {
			t.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
			t.writeMu.Unlock()
			err = ws.Close()
		}
		t.emitStatus(StatusDisconnected)
	})
	return err
}
