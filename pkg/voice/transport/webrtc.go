package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/tablevox/vox-order/pkg/core"
	"github.com/tablevox/vox-order/pkg/voice/audio"
)

const (
	defaultNegotiationTimeout = 15 * time.Second

	// The media track carries G.711 mu-law at 8kHz mono; WriteAudio
	// downsamples and encodes captured PCM16 to match.
	trackSampleRateHz = 8000

	dataChannelLabel = "events"
)

// ErrAlreadyConnected is returned by Connect on a transport that already
// holds an established connection. The caller must not tear down and
// rebuild; the existing connection stays authoritative.
var ErrAlreadyConnected = fmt.Errorf("transport: already connected")

// PeerConfig configures a peer media+event connection.
type PeerConfig struct {
	// NegotiateURL receives the local offer and returns the remote answer.
	NegotiateURL string

	// Secret is the short-lived credential used as bearer auth for the
	// offer/answer exchange. Single-use: one negotiation attempt only.
	Secret string

	// InputSampleRateHz is the PCM16 rate handed to WriteAudio. Default 16000.
	InputSampleRateHz int

	// NegotiationTimeout bounds the offer/answer exchange plus channel
	// establishment. Default 15s.
	NegotiationTimeout time.Duration

	ICEServers []webrtc.ICEServer
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// PeerConn is a single-shot negotiated peer connection: one successful
// Connect per instance. Reconnection dials a fresh instance with a fresh
// credential.
type PeerConn struct {
	cfg    PeerConfig
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample

	queue     *sendQueue
	frames    chan []byte
	statuses  chan Status
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

// NewPeerConn creates an unconnected peer transport.
func NewPeerConn(cfg PeerConfig) *PeerConn {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = defaultNegotiationTimeout
	}
	if cfg.InputSampleRateHz <= 0 {
		cfg.InputSampleRateHz = 16000
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &PeerConn{
		cfg:      cfg,
		logger:   logger,
		queue:    newSendQueue(),
		frames:   make(chan []byte, 256),
		statuses: make(chan Status, 16),
		done:     make(chan struct{}),
	}
}

// Connect negotiates the peer connection: local offer, credential-authorized
// offer/answer exchange, then waits for the network path and data channel to
// report ready. At most one negotiation is ever in flight.
func (t *PeerConn) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.status {
	case StatusConnecting:
		t.mu.Unlock()
		return nil // negotiation already in flight; not a second attempt
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

	err := t.negotiate(ctx)
	if err != nil {
		t.mu.Lock()
		t.status = StatusFailed
		if t.pc != nil {
			_ = t.pc.Close()
		}
		t.mu.Unlock()
		t.emitStatus(StatusDisconnected)
		return err
	}
	return nil
}

func (t *PeerConn) negotiate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.NegotiationTimeout)
	defer cancel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: t.cfg.ICEServers})
	if err != nil {
		return core.NewConnectionError("create peer connection", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: trackSampleRateHz, Channels: 1},
		"audio", "vox-order-mic",
	)
	if err != nil {
		_ = pc.Close()
		return core.NewConnectionError("create media track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return core.NewConnectionError("add media track", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return core.NewConnectionError("create data channel", err)
	}

	channelOpen := make(chan struct{})
	dc.OnOpen(func() {
		if err := t.queue.Open(func(payload []byte) error {
			return dc.Send(payload)
		}); err != nil {
			t.logger.Warn("flush queued frames on channel open", "error", err)
		}
		close(channelOpen)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.deliver(msg.Data)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if t.connected.CompareAndSwap(true, false) {
				t.queue.Reset()
				t.mu.Lock()
				t.status = StatusFailed
				t.mu.Unlock()
				t.emitStatus(StatusDisconnected)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return core.NewConnectionError("create offer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return core.NewConnectionError("set local description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return &core.Error{Type: core.ErrConnection, Code: core.CodeNegotiationTimeout, Message: "candidate gathering timed out"}
	}

	answerSDP, err := t.exchangeOffer(ctx, pc.LocalDescription().SDP)
	if err != nil {
		_ = pc.Close()
		return err
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		_ = pc.Close()
		return core.NewConnectionError("apply remote answer", err)
	}

	select {
	case <-channelOpen:
	case <-ctx.Done():
		_ = pc.Close()
		return &core.Error{Type: core.ErrConnection, Code: core.CodeNegotiationTimeout, Message: "data channel did not open before the negotiation deadline"}
	}

	t.mu.Lock()
	t.pc = pc
	t.dc = dc
	t.track = track
	t.status = StatusConnected
	t.mu.Unlock()
	t.connected.Store(true)
	t.emitStatus(StatusConnected)
	return nil
}

// exchangeOffer posts the local offer to the negotiation endpoint with the
// session credential as bearer auth and returns the answer SDP.
func (t *PeerConn) exchangeOffer(ctx context.Context, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.NegotiateURL, strings.NewReader(offerSDP))
	if err != nil {
		return "", core.NewConnectionError("build negotiation request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.Secret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &core.Error{Type: core.ErrConnection, Code: core.CodeNegotiationTimeout, Message: "offer/answer exchange timed out"}
		}
		return "", core.NewConnectionError("offer/answer exchange", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.NewConnectionError("read negotiation answer", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &core.Error{Type: core.ErrCredential, Code: core.CodeCredentialExpired, Message: "credential rejected during negotiation"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", core.NewConnectionError(fmt.Sprintf("negotiation endpoint returned status %d", resp.StatusCode), nil)
	}
	sdp := strings.TrimSpace(string(body))
	if sdp == "" {
		return "", core.NewConnectionError("negotiation endpoint returned an empty answer", nil)
	}
	return sdp, nil
}

func (t *PeerConn) deliver(data []byte) {
	payload := append([]byte(nil), data...)
	select {
	case t.frames <- payload:
	case <-t.done:
	}
}

func (t *PeerConn) emitStatus(s Status) {
	select {
	case t.statuses <- s:
	default:
		// Status channel is a change signal, not a log; dropping under a
		// slow consumer keeps the media callbacks from blocking.
	}
}

// Send delivers a protocol frame, queueing it if the channel is not open yet.
func (t *PeerConn) Send(payload []byte) error {
	return t.queue.Push(payload)
}

// WriteAudio downsamples and mu-law encodes one PCM16 frame onto the media
// track. Frames written while the path is down are dropped, not buffered:
// stale audio must not replay after a reconnect.
func (t *PeerConn) WriteAudio(pcm []byte, duration time.Duration) error {
	if !t.connected.Load() {
		return nil
	}
	t.mu.Lock()
	track := t.track
	t.mu.Unlock()
	if track == nil {
		return nil
	}
	resampled := audio.ResamplePCM16(pcm, t.cfg.InputSampleRateHz, trackSampleRateHz)
	encoded := audio.MuLawEncode(resampled)
	if err := track.WriteSample(media.Sample{Data: encoded, Duration: duration}); err != nil {
		return core.NewAudioError("write media sample", "", err)
	}
	return nil
}

// Frames yields inbound protocol frames in receipt order.
func (t *PeerConn) Frames() <-chan []byte { return t.frames }

// StatusChanges yields network-path transitions.
func (t *PeerConn) StatusChanges() <-chan Status { return t.statuses }

// Close tears down the connection. Idempotent and safe from any state,
// including mid-negotiation.
func (t *PeerConn) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.connected.Store(false)
		t.queue.Close()
		t.mu.Lock()
		pc := t.pc
		t.status = StatusDisconnected
		t.mu.Unlock()
		if pc != nil {
			err = pc.Close()
		}
		t.emitStatus(StatusDisconnected)
	})
	return err
}
