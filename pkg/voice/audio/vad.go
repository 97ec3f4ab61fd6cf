package audio

import (
	"sync"
	"time"
)

// VADConfig configures energy-based voice-activity detection. Under manual
// (push-to-record) control the VAD drives UI feedback only; it never gates
// transmission.
type VADConfig struct {
	// EnergyThreshold is the smoothed RMS level above which audio counts
	// as speech. Range 0.0 to 1.0. Default: 0.02.
	EnergyThreshold float64 `json:"energy_threshold"`

	// WindowMs is the sliding window the energy is smoothed over.
	// Default: 200.
	WindowMs int `json:"window_ms"`

	// HangoverMs is how long the level must stay below the threshold
	// before speech is considered stopped. Default: 400.
	HangoverMs int `json:"hangover_ms"`
}

// DefaultVADConfig returns a VADConfig with sensible defaults.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.02,
		WindowMs:        200,
		HangoverMs:      400,
	}
}

// Level is the VAD's per-frame output.
type Level struct {
	// Energy is the smoothed RMS level over the sliding window.
	Energy float64
	// Speaking reports whether speech is currently detected.
	Speaking bool
	// Changed is true on the frame where Speaking flipped.
	Changed bool
}

type vadSample struct {
	energy float64
	durMs  int
}

// EnergyVAD smooths per-frame RMS energy over a sliding window and applies
// a hangover so brief pauses do not flicker the speaking indicator.
type EnergyVAD struct {
	cfg    VADConfig
	format Format

	mu        sync.Mutex
	window    []vadSample
	windowMs  int
	speaking  bool
	belowEdge time.Time
}

// NewEnergyVAD creates a VAD for the given capture format.
func NewEnergyVAD(cfg VADConfig, format Format) *EnergyVAD {
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = DefaultVADConfig().EnergyThreshold
	}
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = DefaultVADConfig().WindowMs
	}
	if cfg.HangoverMs <= 0 {
		cfg.HangoverMs = DefaultVADConfig().HangoverMs
	}
	return &EnergyVAD{cfg: cfg, format: format}
}

// Process folds one PCM frame into the sliding window and returns the
// resulting level.
func (v *EnergyVAD) Process(pcm []byte, now time.Time) Level {
	energy := RMSEnergy(pcm)
	durMs := v.format.DurationMs(len(pcm))
	if durMs <= 0 {
		durMs = 1
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.window = append(v.window, vadSample{energy: energy, durMs: durMs})
	v.windowMs += durMs
	for len(v.window) > 1 && v.windowMs-v.window[0].durMs >= v.cfg.WindowMs {
		v.windowMs -= v.window[0].durMs
		v.window = v.window[1:]
	}

	var weighted float64
	for _, s := range v.window {
		weighted += s.energy * float64(s.durMs)
	}
	smoothed := weighted / float64(v.windowMs)

	changed := false
	if smoothed >= v.cfg.EnergyThreshold {
		v.belowEdge = time.Time{}
		if !v.speaking {
			v.speaking = true
			changed = true
		}
	} else if v.speaking {
		if v.belowEdge.IsZero() {
			v.belowEdge = now
		}
		if now.Sub(v.belowEdge) >= time.Duration(v.cfg.HangoverMs)*time.Millisecond {
			v.speaking = false
			v.belowEdge = time.Time{}
			changed = true
		}
	}

	return Level{Energy: smoothed, Speaking: v.speaking, Changed: changed}
}

// Reset clears the window and speaking state.
func (v *EnergyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.window = nil
	v.windowMs = 0
	v.speaking = false
	v.belowEdge = time.Time{}
}
