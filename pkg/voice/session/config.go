package session

import (
	"os"
	"strconv"

	"github.com/tablevox/vox-order/pkg/voice/protocol"
)

// Mode selects the session's operating profile.
type Mode string

const (
	ModeEmployee Mode = "employee"
	ModeCustomer Mode = "customer"
)

// Protocol-imposed legal ranges. Resolved values are clamped to these
// regardless of where they came from.
const (
	minTemperature = 0.6
	maxTemperature = 1.2

	minResponseTokens = 1
	maxResponseTokens = 4096

	minPenalty = -2.0
	maxPenalty = 2.0
)

// GenerationParams are the numeric generation settings sent in session
// configuration.
type GenerationParams struct {
	MaxResponseTokens int
	Temperature       float64
	FrequencyPenalty  float64
	PresencePenalty   float64
}

// PartialParams is one layer of the fallback precedence: nil fields defer
// to the next layer.
type PartialParams struct {
	MaxResponseTokens *int
	Temperature       *float64
	FrequencyPenalty  *float64
	PresencePenalty   *float64
}

// RestaurantSettings supplies per-restaurant stored generation defaults.
type RestaurantSettings interface {
	GenerationDefaults(restaurantID string) PartialParams
}

// modeDefaults are the hard-coded last-resort values. Customer sessions run
// cooler and shorter than employee ones.
func modeDefaults(mode Mode) GenerationParams {
	switch mode {
	case ModeCustomer:
		return GenerationParams{
			MaxResponseTokens: 512,
			Temperature:       0.7,
			FrequencyPenalty:  0.3,
			PresencePenalty:   0.0,
		}
	default:
		return GenerationParams{
			MaxResponseTokens: 1024,
			Temperature:       0.8,
			FrequencyPenalty:  0.0,
			PresencePenalty:   0.0,
		}
	}
}

// EnvDefaults reads the environment layer of the precedence chain.
func EnvDefaults() PartialParams {
	var p PartialParams
	if v, ok := envInt("VOXORDER_MAX_RESPONSE_TOKENS"); ok {
		p.MaxResponseTokens = &v
	}
	if v, ok := envFloat("VOXORDER_TEMPERATURE"); ok {
		p.Temperature = &v
	}
	if v, ok := envFloat("VOXORDER_FREQUENCY_PENALTY"); ok {
		p.FrequencyPenalty = &v
	}
	if v, ok := envFloat("VOXORDER_PRESENCE_PENALTY"); ok {
		p.PresencePenalty = &v
	}
	return p
}

func envInt(key string) (int, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ResolveGenerationParams applies the fallback precedence (explicit
// request value, then environment default, then restaurant stored value,
// then the mode default) and clamps the result to the legal ranges.
func ResolveGenerationParams(request, env, stored PartialParams, mode Mode) GenerationParams {
	out := modeDefaults(mode)

	layers := []PartialParams{stored, env, request} // later layers win
	for _, layer := range layers {
		if layer.MaxResponseTokens != nil {
			out.MaxResponseTokens = *layer.MaxResponseTokens
		}
		if layer.Temperature != nil {
			out.Temperature = *layer.Temperature
		}
		if layer.FrequencyPenalty != nil {
			out.FrequencyPenalty = *layer.FrequencyPenalty
		}
		if layer.PresencePenalty != nil {
			out.PresencePenalty = *layer.PresencePenalty
		}
	}

	out.MaxResponseTokens = clampInt(out.MaxResponseTokens, minResponseTokens, maxResponseTokens)
	out.Temperature = clampFloat(out.Temperature, minTemperature, maxTemperature)
	out.FrequencyPenalty = clampFloat(out.FrequencyPenalty, minPenalty, maxPenalty)
	out.PresencePenalty = clampFloat(out.PresencePenalty, minPenalty, maxPenalty)
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sessionConfig builds the protocol session configuration for the given
// resolved parameters.
func sessionConfig(restaurantID string, mode Mode, params GenerationParams, inputRateHz int) protocol.SessionConfig {
	temp := params.Temperature
	freq := params.FrequencyPenalty
	pres := params.PresencePenalty
	return protocol.SessionConfig{
		RestaurantID:        restaurantID,
		Mode:                string(mode),
		MaxResponseTokens:   params.MaxResponseTokens,
		Temperature:         &temp,
		FrequencyPenalty:    &freq,
		PresencePenalty:     &pres,
		InputSampleRateHz:   inputRateHz,
		TranscriptionEnable: true,
	}
}
