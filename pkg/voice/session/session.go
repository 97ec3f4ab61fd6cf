// Package session orchestrates one real-time voice ordering conversation:
// credential fetch, transport negotiation, the connection/turn state
// machine, push-to-talk recording, automatic reconnection, and the bridge
// to the external order system.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablevox/vox-order/pkg/core"
	"github.com/tablevox/vox-order/pkg/metrics"
	"github.com/tablevox/vox-order/pkg/order"
	"github.com/tablevox/vox-order/pkg/voice/audio"
	"github.com/tablevox/vox-order/pkg/voice/protocol"
	"github.com/tablevox/vox-order/pkg/voice/transport"
)

const defaultEventBuffer = 64

// Options configures a Session. Credentials and Dial are required; the
// rest have working defaults.
type Options struct {
	RestaurantID string
	Mode         Mode

	// Credentials fetches the single-use connection secret.
	Credentials CredentialProvider

	// Dial builds a transport for a freshly fetched secret. Called once per
	// connection attempt; reconnects dial a brand-new transport.
	Dial func(secret string) transport.Conn

	// Orders is the external cart/order collaborator. Optional; without it
	// confirmation intents fail as business errors.
	Orders order.Client

	// Settings supplies per-restaurant stored generation defaults. Optional.
	Settings RestaurantSettings

	// Request holds explicit per-session generation overrides. Optional.
	Request PartialParams

	// Capture is the microphone source. Optional; without it the session is
	// receive-only and the recording controls fail.
	Capture audio.CaptureSource

	Pipeline  audio.PipelineConfig
	Reconnect ReconnectPolicy

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// EventBuffer sizes the event channel. When the consumer falls behind,
	// new events are dropped rather than blocking the session.
	EventBuffer int
}

// Session is one voice ordering conversation. All protocol frames are
// handled on a single run loop in receipt order; public methods hand work
// to that loop rather than mutating shared state.
type Session struct {
	id      string
	opts    Options
	params  GenerationParams
	logger  *slog.Logger
	metrics *metrics.Metrics

	machine *stateMachine
	handler *Handler
	bridge  *order.Bridge
	recon   *reconnector

	events     chan Event
	emitMu     sync.Mutex
	emitClosed bool

	cmds   chan func()
	closed chan struct{}
	wg     sync.WaitGroup

	connectMu  sync.Mutex
	connecting bool
	connected  bool

	connMu sync.Mutex
	conn   transport.Conn

	// run-loop-only state
	frames     <-chan []byte
	statusCh   <-chan transport.Status
	recovering bool
	cart       []order.Item

	pipeline  *audio.Pipeline
	closeOnce sync.Once
}

// New creates a session. It performs no I/O; call Connect to negotiate.
func New(opts Options) (*Session, error) {
	if opts.Credentials == nil {
		return nil, core.NewCredentialError("session requires a credential provider", nil)
	}
	if opts.Dial == nil {
		return nil, core.NewConnectionError("session requires a transport dialer", nil)
	}
	if opts.Mode == "" {
		opts.Mode = ModeEmployee
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reconnect.MaxAttempts == 0 {
		opts.Reconnect = DefaultReconnectPolicy()
	}
	if opts.Pipeline.FrameMs == 0 {
		opts.Pipeline = audio.DefaultPipelineConfig()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	var stored PartialParams
	if opts.Settings != nil {
		stored = opts.Settings.GenerationDefaults(opts.RestaurantID)
	}
	params := ResolveGenerationParams(opts.Request, EnvDefaults(), stored, opts.Mode)

	s := &Session{
		id:      uuid.NewString(),
		opts:    opts,
		params:  params,
		metrics: opts.Metrics,
		events:  make(chan Event, opts.EventBuffer),
		cmds:    make(chan func(), 16),
		closed:  make(chan struct{}),
	}
	s.logger = opts.Logger.With("session_id", s.id, "restaurant_id", opts.RestaurantID)
	s.machine = newStateMachine(func(from, to ConnectionState) {
		s.emit(&StateChangedEvent{From: from, To: to})
	})
	s.handler = NewHandler(s.emit, opts.Metrics, s.logger)
	if opts.Orders != nil {
		s.bridge = order.NewBridge(opts.Orders, s.logger)
	}
	s.recon = newReconnector(opts.Reconnect)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() ConnectionState { return s.machine.Current() }

// Events yields the session's semantic event stream. The channel closes
// after the ClosedEvent.
func (s *Session) Events() <-chan Event { return s.events }

// Connect fetches a credential, dials the transport, and starts the run
// loop. Calling it while a connect is in flight is a no-op; calling it on
// a connected session is rejected without touching the live connection.
func (s *Session) Connect(ctx context.Context) error {
	select {
	case <-s.closed:
		return core.NewConnectionError("session is closed; create a new session", nil)
	default:
	}

	s.connectMu.Lock()
	if s.connecting {
		s.connectMu.Unlock()
		return nil
	}
	if s.connected {
		s.connectMu.Unlock()
		return core.NewConnectionError("session already connected", nil)
	}
	s.connecting = true
	s.connectMu.Unlock()

	err := s.connect(ctx)

	s.connectMu.Lock()
	s.connecting = false
	s.connected = err == nil
	s.connectMu.Unlock()
	return err
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.machine.TransitionTo(StateConnecting); err != nil {
		return err
	}

	cred, err := s.opts.Credentials.FetchCredential(ctx, s.opts.RestaurantID, s.opts.Mode)
	if err != nil {
		s.machine.TransitionTo(StateDisconnected)
		return err
	}

	conn := s.opts.Dial(cred.Secret)
	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		s.machine.TransitionTo(StateDisconnected)
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.frames = conn.Frames()
	s.statusCh = conn.StatusChanges()

	if err := s.machine.TransitionTo(StateConnected); err != nil {
		conn.Close()
		return err
	}
	if err := s.sendSessionUpdate(); err != nil {
		conn.Close()
		s.machine.TransitionTo(StateDisconnected)
		return err
	}
	s.machine.TransitionTo(StateSessionSetup)

	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}

	s.wg.Add(1)
	go s.run()

	if s.opts.Capture != nil {
		s.pipeline = audio.NewPipeline(s.opts.Pipeline, s.opts.Capture, s, audio.Hooks{
			Commit:          s.commitInput,
			RequestResponse: s.requestResponse,
			Level: func(level audio.Level) {
				if level.Changed {
					s.emit(&VADLevelEvent{Level: level})
				}
			},
		}, s.logger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.pipeline.Run(context.Background()); err != nil && err != context.Canceled {
				s.post(func() {
					s.emit(&ErrorEvent{Err: err, Terminal: !core.IsRetryable(err)})
				})
			}
		}()
	}

	s.logger.Info("session connected", "mode", s.opts.Mode)
	return nil
}

func (s *Session) sendSessionUpdate() error {
	cfg := sessionConfig(s.opts.RestaurantID, s.opts.Mode, s.params, s.opts.Pipeline.Format.SampleRate)
	return s.send(protocol.NewSessionUpdate(cfg))
}

func (s *Session) send(frame any) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return core.NewConnectionError("session has no transport", nil)
	}
	return conn.Send(data)
}

// WriteAudio forwards one captured frame to the live transport. Implements
// the pipeline sink; frames written while the transport is down are dropped.
func (s *Session) WriteAudio(pcm []byte, duration time.Duration) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.WriteAudio(pcm, duration); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.AudioBytesSentTotal.Add(float64(len(pcm)))
	}
	return nil
}

// StartRecording opens the push-to-talk gate. The input buffer is cleared
// first so a new utterance never inherits stale audio.
func (s *Session) StartRecording() error {
	if s.pipeline == nil {
		return core.NewAudioError("session has no capture source", "", nil)
	}
	if !s.machine.Is(StateReady, StateIdle, StateInterrupted) {
		return core.NewConnectionError("session is not ready for recording", nil)
	}
	if err := s.send(protocol.NewInputAudioBufferClear()); err != nil {
		return err
	}
	s.post(func() { s.transition(StateListening) })
	s.pipeline.StartRecording()
	return nil
}

// StopRecording closes the gate and, after the commit/response sequence,
// lets the backend take the turn. Rapid repeated calls collapse into one.
func (s *Session) StopRecording() error {
	if s.pipeline == nil {
		return core.NewAudioError("session has no capture source", "", nil)
	}
	s.pipeline.StopRecording()
	return nil
}

func (s *Session) commitInput() {
	s.post(func() {
		if err := s.send(protocol.NewInputAudioBufferCommit()); err != nil {
			s.logger.Warn("input commit failed", "error", err)
			return
		}
		s.transition(StateProcessing)
	})
}

func (s *Session) requestResponse() {
	s.post(func() {
		if !s.handler.BeginResponse() {
			return
		}
		if err := s.send(protocol.NewResponseCreate(nil)); err != nil {
			// Nothing went out, so no response.done will ever clear
			// the slot. Release it or every later turn is suppressed.
			s.handler.AbortResponse()
			s.logger.Warn("response request failed", "error", err)
		}
	})
}

// post hands fn to the run loop. Dropped when the session is closed.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.closed:
	}
}

func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.emitClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event dropped, consumer behind", "event", ev.EventType())
	}
}

// transition attempts a state change, logging undefined edges instead of
// failing the loop. Out-of-order backend frames are expected under load.
func (s *Session) transition(to ConnectionState) bool {
	if err := s.machine.TransitionTo(to); err != nil {
		s.logger.Debug("state transition skipped", "error", err)
		return false
	}
	return true
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			return
		case fn := <-s.cmds:
			fn()
		case data, ok := <-s.frames:
			if !ok {
				s.frames = nil
				continue
			}
			s.onFrameData(data)
		case status, ok := <-s.statusCh:
			if !ok {
				s.statusCh = nil
				continue
			}
			s.onStatus(status)
		}
	}
}

func (s *Session) onFrameData(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn("drop undecodable frame", "error", err)
		return
	}
	s.onFrame(frame)
}

func (s *Session) onFrame(frame protocol.ServerFrame) {
	// Connection/turn progression first, then entity state and events.
	switch f := frame.(type) {
	case protocol.SessionCreated:
		s.finishSetup()
	case protocol.SessionUpdated:
		// Some backends ack the client's session.update with
		// session.updated rather than a fresh session.created, notably
		// after a reconnect. Either one completes setup.
		s.finishSetup()
	case protocol.SpeechStarted:
		if s.machine.Is(StateAudioPlayback) {
			s.bargeIn()
		} else if s.machine.Is(StateIdle) {
			s.transition(StateListening)
		}
	case protocol.SpeechStopped:
		if s.machine.Is(StateListening) {
			s.transition(StateProcessing)
		}
	case protocol.TranscriptionDelta:
		if s.machine.Is(StateProcessing) {
			s.transition(StateTranscribing)
		}
	case protocol.TranscriptionCompleted:
		if s.machine.Is(StateProcessing) {
			s.transition(StateTranscribing)
		}
		if s.machine.Is(StateTranscribing) {
			s.transition(StateOrderProcessing)
		}
	case protocol.ResponseCreated:
		if s.machine.Is(StateOrderProcessing) {
			s.transition(StateResponseGeneration)
		}
	case protocol.ResponseAudioDelta:
		if s.machine.Is(StateResponseGeneration, StateClarification) {
			s.transition(StateAudioPlayback)
		}
	case protocol.ResponseDone:
		if s.machine.Is(StateResponseGeneration, StateClarification) {
			// text-only responses skip playback
			s.transition(StateAudioPlayback)
		}
		if s.machine.Is(StateAudioPlayback) {
			s.transition(StateReady)
			s.transition(StateIdle)
		}
	case protocol.OrderItemDetected:
		s.cart = append(s.cart, order.Item{
			Name:      f.Item.Name,
			Quantity:  f.Item.Quantity,
			Price:     f.Item.Price,
			Modifiers: f.Item.Modifiers,
		})
	case protocol.OrderConfirmation:
		s.startConfirmation(f)
	case protocol.ErrorFrame:
		s.onErrorFrame(f)
	}

	s.handler.HandleFrame(frame)
}

func (s *Session) finishSetup() {
	if s.machine.Is(StateSessionSetup) {
		s.transition(StateReady)
		s.transition(StateIdle)
	}
}

// bargeIn handles user speech during playback: cancel the in-flight
// response (guarded, so a no-op when none exists) and hand the turn back.
func (s *Session) bargeIn() {
	s.transition(StateInterrupted)
	s.emit(&InterruptedEvent{})
	if s.handler.CancelResponse() {
		if err := s.send(protocol.NewResponseCancel()); err != nil {
			s.logger.Warn("response cancel failed", "error", err)
		}
	}
	s.transition(StateListening)
}

func (s *Session) onErrorFrame(f protocol.ErrorFrame) {
	err := core.NewProtocolError(f.Message, f.Code)
	// Order-level failures are a conversational detour, not a fault.
	if s.machine.Is(StateOrderProcessing) && f.Code != "" {
		s.transition(StateClarification)
		s.emit(&ErrorEvent{Err: err, Terminal: false})
		return
	}
	// A rejected session.update gets no transport status change, so the
	// recovery loop has to be kicked off from here or the session would
	// sit in setup forever.
	if s.machine.Is(StateSessionSetup) {
		s.emit(&ErrorEvent{Err: err, Terminal: false})
		s.startRecovery("session configuration rejected")
		return
	}
	s.emit(&ErrorEvent{Err: err, Terminal: !core.IsRetryable(err)})
}

// startConfirmation runs the order bridge off-loop; the conversation keeps
// flowing while the external call is in flight.
func (s *Session) startConfirmation(f protocol.OrderConfirmation) {
	action := order.Action(f.Action)
	items := s.cart
	if len(f.Items) > 0 {
		items = make([]order.Item, 0, len(f.Items))
		for _, it := range f.Items {
			items = append(items, order.Item{
				Name:      it.Name,
				Quantity:  it.Quantity,
				Price:     it.Price,
				Modifiers: it.Modifiers,
			})
		}
	}

	if s.bridge == nil {
		s.emit(&OrderFailedEvent{
			Action:    action,
			Err:       core.NewBusinessError("no order system configured", "no_order_client"),
			Retryable: false,
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		outcome, err := s.bridge.Confirm(ctx, action, items)
		s.post(func() { s.finishConfirmation(action, outcome, err) })
	}()
}

func (s *Session) finishConfirmation(action order.Action, outcome order.Outcome, err error) {
	if err != nil {
		s.emit(&OrderFailedEvent{Action: action, Err: err, Retryable: core.IsRetryable(err)})
		return
	}
	switch action {
	case order.ActionCheckout:
		s.cart = nil
		s.emit(&OrderSubmittedEvent{OrderID: outcome.OrderID})
	case order.ActionReview:
		if outcome.Summary != nil {
			s.emit(&OrderSummaryEvent{Summary: *outcome.Summary})
		}
	case order.ActionCancel:
		s.cart = nil
		s.emit(&CartClearedEvent{})
	}
}

func (s *Session) onStatus(status transport.Status) {
	if status != transport.StatusFailed && status != transport.StatusDisconnected {
		return
	}
	s.startRecovery("transport dropped")
}

// startRecovery moves the session into error then recovering and spawns the
// redial loop. Run-loop only; a no-op when closed or already recovering.
func (s *Session) startRecovery(reason string) {
	select {
	case <-s.closed:
		return
	default:
	}
	if s.recovering {
		return
	}
	s.logger.Warn("session recovering", "reason", reason)
	s.recovering = true
	s.handler.Reset()
	s.transition(StateError)
	s.transition(StateRecovering)

	s.wg.Add(1)
	go s.recoverLoop()
}

// recoverLoop re-dials with fresh credentials under the backoff policy.
// Audio captured during the gap is dropped, never replayed.
func (s *Session) recoverLoop() {
	defer s.wg.Done()
	for {
		delay, ok := s.recon.next()
		if !ok {
			if s.metrics != nil {
				s.metrics.ReconnectExhaustionTotal.Inc()
			}
			s.terminalFailure(&core.Error{
				Type:    core.ErrConnection,
				Message: "reconnect attempts exhausted",
				Code:    core.CodeReconnectExhausted,
			}, "reconnect_exhausted")
			return
		}
		s.emit(&ReconnectingEvent{Attempt: s.recon.attempt(), Delay: delay})

		select {
		case <-s.closed:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.redial(ctx)
		cancel()
		if err == nil {
			attempts := s.recon.attempt()
			s.recon.reset()
			if s.metrics != nil {
				s.metrics.ReconnectsTotal.Inc()
			}
			s.post(func() {
				s.recovering = false
				s.emit(&ReconnectedEvent{Attempts: attempts})
			})
			s.logger.Info("session recovered", "attempts", attempts)
			return
		}

		if s.metrics != nil {
			s.metrics.ReconnectFailuresTotal.Inc()
		}
		s.logger.Warn("reconnect attempt failed", "attempt", s.recon.attempt(), "error", err)
		if !core.IsRetryable(err) {
			s.terminalFailure(err, "credential_failure")
			return
		}
	}
}

// redial builds a brand-new transport with a fresh credential and swaps it
// in on the run loop. The old transport's queued frames are already gone.
func (s *Session) redial(ctx context.Context) error {
	cred, err := s.opts.Credentials.FetchCredential(ctx, s.opts.RestaurantID, s.opts.Mode)
	if err != nil {
		return err
	}
	conn := s.opts.Dial(cred.Secret)
	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return err
	}

	swapped := make(chan error, 1)
	s.post(func() {
		s.connMu.Lock()
		old := s.conn
		s.conn = conn
		s.connMu.Unlock()
		if old != nil {
			old.Close()
		}
		s.frames = conn.Frames()
		s.statusCh = conn.StatusChanges()
		s.transition(StateSessionSetup)
		swapped <- s.sendSessionUpdate()
	})
	select {
	case err := <-swapped:
		return err
	case <-s.closed:
		conn.Close()
		return core.NewConnectionError("session closed during reconnect", nil)
	}
}

func (s *Session) terminalFailure(err error, outcome string) {
	select {
	case <-s.closed:
		return
	default:
	}
	s.emit(&ErrorEvent{Err: err, Terminal: true})
	if s.metrics != nil {
		s.metrics.SessionsTotal.WithLabelValues(outcome).Inc()
	}
	s.logger.Error("session failed", "outcome", outcome, "error", err)
	// Off-goroutine: the caller is tracked by the waitgroup Disconnect waits on.
	go s.Disconnect()
}

// Disconnect tears the session down: pipeline, transport, entity state,
// and finally the event stream. Safe to call any number of times, from any
// state, including mid-reconnect.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		close(s.closed)

		if s.pipeline != nil {
			s.pipeline.Close()
		}
		s.connMu.Lock()
		conn := s.conn
		s.conn = nil
		s.connMu.Unlock()
		if conn != nil {
			conn.Close()
		}

		s.wg.Wait()
		s.handler.Reset()
		s.machine.TransitionTo(StateDisconnected)

		s.connectMu.Lock()
		wasConnected := s.connected
		s.connected = false
		s.connectMu.Unlock()
		if wasConnected && s.metrics != nil {
			s.metrics.SessionsActive.Dec()
			s.metrics.SessionsTotal.WithLabelValues("closed").Inc()
		}

		s.emit(&ClosedEvent{})
		s.emitMu.Lock()
		s.emitClosed = true
		close(s.events)
		s.emitMu.Unlock()

		s.logger.Info("session closed")
	})
}
