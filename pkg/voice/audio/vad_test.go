package audio

import (
	"testing"
	"time"
)

// squareWave builds n samples of a full-on square wave at the given
// amplitude, as little-endian PCM16.
func squareWave(amplitude int16, samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		pcm[i*2] = byte(amplitude)
		pcm[i*2+1] = byte(amplitude >> 8)
	}
	return pcm
}

func TestEnergyVADDetectsSpeechOnset(t *testing.T) {
	vad := NewEnergyVAD(DefaultVADConfig(), DefaultFormat())
	now := time.Now()

	loud := squareWave(8000, 320) // one 20ms frame at 16kHz
	level := vad.Process(loud, now)
	if !level.Speaking {
		t.Fatalf("expected speaking after loud frame, energy=%f", level.Energy)
	}
	if !level.Changed {
		t.Fatal("expected Changed on the onset frame")
	}

	level = vad.Process(loud, now.Add(20*time.Millisecond))
	if level.Changed {
		t.Fatal("Changed must only fire on transitions")
	}
}

func TestEnergyVADHangover(t *testing.T) {
	cfg := DefaultVADConfig()
	vad := NewEnergyVAD(cfg, DefaultFormat())
	now := time.Now()

	if level := vad.Process(squareWave(8000, 320), now); !level.Speaking {
		t.Fatal("expected speaking after loud frame")
	}

	// Feed silence; speaking must survive the hangover window and then
	// flip exactly once.
	silence := make([]byte, 640)
	transitions := 0
	speaking := true
	for i := 1; i <= 40; i++ {
		level := vad.Process(silence, now.Add(time.Duration(i)*20*time.Millisecond))
		if level.Changed {
			transitions++
			speaking = level.Speaking
		}
	}
	if speaking {
		t.Fatal("expected speech to end after sustained silence")
	}
	if transitions != 1 {
		t.Fatalf("expected exactly one transition during silence, got %d", transitions)
	}
}

func TestEnergyVADShortPauseDoesNotFlicker(t *testing.T) {
	vad := NewEnergyVAD(DefaultVADConfig(), DefaultFormat())
	now := time.Now()
	loud := squareWave(8000, 320)
	silence := make([]byte, 640)

	vad.Process(loud, now)
	// A 100ms pause is well inside the 400ms hangover.
	for i := 1; i <= 5; i++ {
		if level := vad.Process(silence, now.Add(time.Duration(i)*20*time.Millisecond)); level.Changed {
			t.Fatalf("speaking flipped during a %dms pause", i*20)
		}
	}
	if level := vad.Process(loud, now.Add(120*time.Millisecond)); !level.Speaking {
		t.Fatal("expected speaking to continue after a short pause")
	}
}

func TestEnergyVADReset(t *testing.T) {
	vad := NewEnergyVAD(DefaultVADConfig(), DefaultFormat())
	vad.Process(squareWave(8000, 320), time.Now())
	vad.Reset()

	level := vad.Process(make([]byte, 640), time.Now())
	if level.Speaking {
		t.Fatal("expected silence after reset")
	}
	if level.Energy != 0 {
		t.Fatalf("expected zero energy after reset, got %f", level.Energy)
	}
}
