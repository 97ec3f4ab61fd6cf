package audio

import (
	"bytes"
	"testing"
)

func TestBufferTrimsOldestPastCapacity(t *testing.T) {
	buf := NewBuffer(DefaultFormat(), 20) // 640 bytes

	first := squareWave(1, 320)
	second := squareWave(2, 320)
	third := squareWave(3, 320)
	buf.Append(first)
	buf.Append(second)
	buf.Append(third)

	if got := buf.Len(); got != 640 {
		t.Fatalf("Len = %d, want capacity 640", got)
	}
	if got := buf.DurationMs(); got != 20 {
		t.Fatalf("DurationMs = %d, want 20", got)
	}

	want := append(append([]byte(nil), second...), third...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatal("expected the oldest chunk to be trimmed")
	}
}

func TestBufferReset(t *testing.T) {
	buf := NewBuffer(DefaultFormat(), 100)
	buf.Append(squareWave(5, 320))
	buf.Reset()
	if buf.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", buf.Len())
	}
}
