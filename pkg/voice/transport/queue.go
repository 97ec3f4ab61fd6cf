package transport

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after the queue is closed.
var ErrQueueClosed = errors.New("transport: send queue closed")

// sendQueue preserves message ordering across the connect race: frames
// pushed before the channel opens are buffered, then flushed strictly in
// arrival order before any direct send goes through.
type sendQueue struct {
	mu      sync.Mutex
	open    bool
	closed  bool
	pending [][]byte
	write   func([]byte) error
}

func newSendQueue() *sendQueue {
	return &sendQueue{}
}

// Push enqueues or sends a frame. Before Open, frames are buffered.
// After Open, frames go straight to the write function.
func (q *sendQueue) Push(payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if !q.open {
		q.pending = append(q.pending, payload)
		q.mu.Unlock()
		return nil
	}
	write := q.write
	q.mu.Unlock()
	return write(payload)
}

// Open flushes the buffered frames in FIFO order through write, then routes
// subsequent pushes directly to it. Holding the lock across the flush keeps
// a concurrent Push from jumping ahead of queued frames.
func (q *sendQueue) Open(write func([]byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	for _, payload := range q.pending {
		if err := write(payload); err != nil {
			return err
		}
	}
	q.pending = nil
	q.open = true
	q.write = write
	return nil
}

// Reset discards pending frames and returns the queue to its buffering
// state. Called on disconnect: server-side session state is not assumed to
// survive the gap, so unsent frames are dropped rather than replayed.
func (q *sendQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.open = false
	q.write = nil
}

// Close drops pending frames and rejects further pushes.
func (q *sendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
	q.write = nil
}

// PendingLen reports the number of buffered frames.
func (q *sendQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
