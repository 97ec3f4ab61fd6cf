package session

import "testing"

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestResolveGenerationParamsModeDefaults(t *testing.T) {
	customer := ResolveGenerationParams(PartialParams{}, PartialParams{}, PartialParams{}, ModeCustomer)
	if customer.MaxResponseTokens != 512 || customer.Temperature != 0.7 {
		t.Fatalf("customer defaults = %+v", customer)
	}

	employee := ResolveGenerationParams(PartialParams{}, PartialParams{}, PartialParams{}, ModeEmployee)
	if employee.MaxResponseTokens != 1024 || employee.Temperature != 0.8 {
		t.Fatalf("employee defaults = %+v", employee)
	}
}

func TestResolveGenerationParamsPrecedence(t *testing.T) {
	request := PartialParams{Temperature: floatPtr(1.1)}
	env := PartialParams{Temperature: floatPtr(0.9), MaxResponseTokens: intPtr(2000)}
	stored := PartialParams{Temperature: floatPtr(0.65), FrequencyPenalty: floatPtr(1.0)}

	got := ResolveGenerationParams(request, env, stored, ModeEmployee)

	// Request beats env beats stored beats mode default.
	if got.Temperature != 1.1 {
		t.Fatalf("Temperature = %v, want request value 1.1", got.Temperature)
	}
	if got.MaxResponseTokens != 2000 {
		t.Fatalf("MaxResponseTokens = %d, want env value 2000", got.MaxResponseTokens)
	}
	if got.FrequencyPenalty != 1.0 {
		t.Fatalf("FrequencyPenalty = %v, want stored value 1.0", got.FrequencyPenalty)
	}
	if got.PresencePenalty != 0.0 {
		t.Fatalf("PresencePenalty = %v, want mode default 0.0", got.PresencePenalty)
	}
}

func TestResolveGenerationParamsClamping(t *testing.T) {
	request := PartialParams{
		Temperature:       floatPtr(5.0),
		MaxResponseTokens: intPtr(100000),
		FrequencyPenalty:  floatPtr(-9.0),
		PresencePenalty:   floatPtr(3.5),
	}
	got := ResolveGenerationParams(request, PartialParams{}, PartialParams{}, ModeEmployee)

	if got.Temperature != maxTemperature {
		t.Fatalf("Temperature = %v, want clamp to %v", got.Temperature, maxTemperature)
	}
	if got.MaxResponseTokens != maxResponseTokens {
		t.Fatalf("MaxResponseTokens = %d, want clamp to %d", got.MaxResponseTokens, maxResponseTokens)
	}
	if got.FrequencyPenalty != minPenalty {
		t.Fatalf("FrequencyPenalty = %v, want clamp to %v", got.FrequencyPenalty, minPenalty)
	}
	if got.PresencePenalty != maxPenalty {
		t.Fatalf("PresencePenalty = %v, want clamp to %v", got.PresencePenalty, maxPenalty)
	}

	low := ResolveGenerationParams(PartialParams{Temperature: floatPtr(0.1)},
		PartialParams{}, PartialParams{}, ModeEmployee)
	if low.Temperature != minTemperature {
		t.Fatalf("Temperature = %v, want clamp to %v", low.Temperature, minTemperature)
	}
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("VOXORDER_MAX_RESPONSE_TOKENS", "777")
	t.Setenv("VOXORDER_TEMPERATURE", "0.95")
	t.Setenv("VOXORDER_FREQUENCY_PENALTY", "not-a-number")

	env := EnvDefaults()
	if env.MaxResponseTokens == nil || *env.MaxResponseTokens != 777 {
		t.Fatalf("MaxResponseTokens = %v", env.MaxResponseTokens)
	}
	if env.Temperature == nil || *env.Temperature != 0.95 {
		t.Fatalf("Temperature = %v", env.Temperature)
	}
	if env.FrequencyPenalty != nil {
		t.Fatal("unparseable env value must be skipped")
	}
	if env.PresencePenalty != nil {
		t.Fatal("unset env value must be nil")
	}
}

func TestSessionConfigCarriesResolvedParams(t *testing.T) {
	params := GenerationParams{
		MaxResponseTokens: 512,
		Temperature:       0.7,
		FrequencyPenalty:  0.3,
	}
	cfg := sessionConfig("rest_1", ModeCustomer, params, 16000)
	if cfg.RestaurantID != "rest_1" || cfg.Mode != "customer" {
		t.Fatalf("identity = %+v", cfg)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("Temperature = %v", cfg.Temperature)
	}
	if cfg.InputSampleRateHz != 16000 || !cfg.TranscriptionEnable {
		t.Fatalf("audio config = %+v", cfg)
	}
}
