package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tablevox/vox-order/pkg/core"
)

// CaptureSource supplies raw PCM from the microphone. Acquired once per
// session and held for the session's lifetime; recording control gates
// transmission, it never tears the source down.
type CaptureSource interface {
	// Read fills p with captured PCM16 and blocks until data is available.
	Read(p []byte) (int, error)
	Close() error
}

// Sink receives framed audio for transmission, normally the session's
// transport media track.
type Sink interface {
	WriteAudio(pcm []byte, duration time.Duration) error
}

// Hooks wires pipeline outcomes to the session layer. All hooks may be nil.
type Hooks struct {
	// Commit fires after recording stops, to finalize the input buffer.
	Commit func()

	// RequestResponse fires a short delay after Commit. The session routes
	// it through the active-response guard, so a duplicate never issues a
	// second response request.
	RequestResponse func()

	// Level fires once per captured frame with the VAD reading.
	Level func(Level)
}

// PipelineConfig configures capture framing and recording control.
type PipelineConfig struct {
	Format  Format
	FrameMs int // capture frame size, default 20ms

	VAD VADConfig

	// PrefixPaddingMs is how much pre-speech audio to retain while the
	// gate is closed. The retained audio is transmitted ahead of the live
	// frames when recording starts, so the onset of an utterance is not
	// clipped by reaction time. Default 300ms; negative disables.
	PrefixPaddingMs int

	// StopDebounce ignores a second StopRecording call arriving within the
	// window, so the commit/response pair is issued at most once. Default 500ms.
	StopDebounce time.Duration

	// ResponseDelay is the pause between the input commit and the response
	// request. Default 200ms.
	ResponseDelay time.Duration
}

// DefaultPipelineConfig returns a PipelineConfig with engine defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Format:          DefaultFormat(),
		FrameMs:         20,
		VAD:             DefaultVADConfig(),
		PrefixPaddingMs: 300,
		StopDebounce:    500 * time.Millisecond,
		ResponseDelay:   200 * time.Millisecond,
	}
}

// Pipeline reads capture frames, feeds the VAD, and forwards audio to the
// sink while recording is enabled.
type Pipeline struct {
	cfg    PipelineConfig
	source CaptureSource
	sink   Sink
	hooks  Hooks
	vad    *EnergyVAD
	prefix *Buffer
	logger *slog.Logger

	recording atomic.Bool

	mu        sync.Mutex
	lastStop  time.Time
	respTimer *time.Timer

	closeOnce sync.Once
	done      chan struct{}
}

// NewPipeline creates a pipeline over the given capture source and sink.
func NewPipeline(cfg PipelineConfig, source CaptureSource, sink Sink, hooks Hooks, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = 20
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = DefaultFormat()
	}
	if cfg.StopDebounce <= 0 {
		cfg.StopDebounce = 500 * time.Millisecond
	}
	if cfg.ResponseDelay <= 0 {
		cfg.ResponseDelay = 200 * time.Millisecond
	}
	if cfg.PrefixPaddingMs == 0 {
		cfg.PrefixPaddingMs = 300
	}
	p := &Pipeline{
		cfg:    cfg,
		source: source,
		sink:   sink,
		hooks:  hooks,
		vad:    NewEnergyVAD(cfg.VAD, cfg.Format),
		logger: logger,
		done:   make(chan struct{}),
	}
	if cfg.PrefixPaddingMs > 0 {
		p.prefix = NewBuffer(cfg.Format, cfg.PrefixPaddingMs)
	}
	return p
}

// Run captures frames until ctx is done or the source fails. The VAD runs
// on every frame for UI feedback; only gated frames reach the sink.
func (p *Pipeline) Run(ctx context.Context) error {
	frameBytes := p.cfg.Format.BytesForDurationMs(p.cfg.FrameMs)
	frameDur := time.Duration(p.cfg.FrameMs) * time.Millisecond
	frame := make([]byte, frameBytes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		default:
		}

		n, err := p.source.Read(frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return core.NewAudioError("microphone read failed", "", err)
		}
		if n == 0 {
			continue
		}
		pcm := frame[:n]

		level := p.vad.Process(pcm, time.Now())
		if p.hooks.Level != nil {
			p.hooks.Level(level)
		}

		if !p.recording.Load() {
			if p.prefix != nil {
				p.prefix.Append(pcm)
			}
			continue
		}
		if err := p.sink.WriteAudio(pcm, frameDur); err != nil {
			p.logger.Debug("drop audio frame", "error", err)
		}
	}
}

// StartRecording flushes the retained pre-speech padding to the sink and
// opens the transmission gate. The capture source keeps running either
// way; gating avoids the teardown/rebuild churn of recreating the track
// per turn.
func (p *Pipeline) StartRecording() {
	if p.prefix != nil {
		if pcm := p.prefix.Bytes(); len(pcm) > 0 {
			dur := time.Duration(p.cfg.Format.DurationMs(len(pcm))) * time.Millisecond
			if err := p.sink.WriteAudio(pcm, dur); err != nil {
				p.logger.Debug("drop prefix padding", "error", err)
			}
		}
		p.prefix.Reset()
	}
	p.recording.Store(true)
}

// StopRecording closes the gate, commits the input buffer, and requests a
// response after a short delay. A second call within the debounce window is
// ignored entirely, producing no extra commit/response pair.
func (p *Pipeline) StopRecording() {
	p.mu.Lock()
	now := time.Now()
	if !p.lastStop.IsZero() && now.Sub(p.lastStop) < p.cfg.StopDebounce {
		p.mu.Unlock()
		p.logger.Debug("stop recording ignored inside debounce window")
		return
	}
	p.lastStop = now
	p.mu.Unlock()

	p.recording.Store(false)
	if p.hooks.Commit != nil {
		p.hooks.Commit()
	}
	if p.hooks.RequestResponse != nil {
		p.mu.Lock()
		p.respTimer = time.AfterFunc(p.cfg.ResponseDelay, p.hooks.RequestResponse)
		p.mu.Unlock()
	}
}

// Recording reports whether the transmission gate is open.
func (p *Pipeline) Recording() bool {
	return p.recording.Load()
}

// Close stops capture and releases the source. Idempotent.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.recording.Store(false)
		p.mu.Lock()
		if p.respTimer != nil {
			p.respTimer.Stop()
		}
		p.mu.Unlock()
		err = p.source.Close()
	})
	return err
}
