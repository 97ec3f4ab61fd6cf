package audio

import "sync"

// Buffer accumulates PCM chunks up to a maximum duration, discarding the
// oldest audio when full. The pipeline uses it to retain pre-speech prefix
// padding that is transmitted ahead of live frames when recording starts.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	format   Format
}

// NewBuffer creates a buffer holding up to maxDurationMs of audio.
func NewBuffer(format Format, maxDurationMs int) *Buffer {
	return &Buffer{
		format:   format,
		maxBytes: format.BytesForDurationMs(maxDurationMs),
	}
}

// Append adds a PCM chunk, trimming the oldest audio past capacity.
func (b *Buffer) Append(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, pcm...)
	if b.maxBytes > 0 && len(b.data) > b.maxBytes {
		// Keep sample alignment when trimming.
		excess := len(b.data) - b.maxBytes
		if excess%2 != 0 {
			excess++
		}
		b.data = b.data[excess:]
	}
}

// Bytes returns a copy of the buffered audio.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Len returns the buffered byte count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMs returns the buffered audio duration.
func (b *Buffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format.DurationMs(len(b.data))
}

// Reset discards all buffered audio.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
