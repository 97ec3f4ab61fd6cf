package transport

import (
	"errors"
	"testing"
)

func TestSendQueueFlushesInOrder(t *testing.T) {
	q := newSendQueue()

	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, f := range frames {
		if err := q.Push(f); err != nil {
			t.Fatalf("Push before open: %v", err)
		}
	}
	if got := q.PendingLen(); got != 3 {
		t.Fatalf("PendingLen = %d, want 3", got)
	}

	var sent []string
	write := func(p []byte) error {
		sent = append(sent, string(p))
		return nil
	}
	if err := q.Open(write); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A later push must go straight through, after the flushed frames.
	if err := q.Push([]byte("four")); err != nil {
		t.Fatalf("Push after open: %v", err)
	}

	want := []string{"one", "two", "three", "four"}
	if len(sent) != len(want) {
		t.Fatalf("sent %d frames, want %d", len(sent), len(want))
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, sent[i], want[i])
		}
	}
	if got := q.PendingLen(); got != 0 {
		t.Fatalf("PendingLen after flush = %d, want 0", got)
	}
}

func TestSendQueueOpenFailurePreservesClosedState(t *testing.T) {
	q := newSendQueue()
	q.Push([]byte("frame"))

	boom := errors.New("write failed")
	if err := q.Open(func([]byte) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Open error = %v, want %v", err, boom)
	}
}

func TestSendQueueResetDiscardsPending(t *testing.T) {
	q := newSendQueue()
	q.Push([]byte("stale"))
	q.Reset()

	if got := q.PendingLen(); got != 0 {
		t.Fatalf("PendingLen after Reset = %d, want 0", got)
	}

	// After a reset the queue buffers again; the discarded frame must not
	// reappear on the next open.
	q.Push([]byte("fresh"))
	var sent []string
	q.Open(func(p []byte) error {
		sent = append(sent, string(p))
		return nil
	})
	if len(sent) != 1 || sent[0] != "fresh" {
		t.Fatalf("sent = %v, want only the post-reset frame", sent)
	}
}

func TestSendQueueClose(t *testing.T) {
	q := newSendQueue()
	q.Close()
	if err := q.Push([]byte("late")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Push after Close = %v, want ErrQueueClosed", err)
	}
	if err := q.Open(func([]byte) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Open after Close = %v, want ErrQueueClosed", err)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusDisconnected: "disconnected",
		StatusConnecting:   "connecting",
		StatusConnected:    "connected",
		StatusFailed:       "failed",
		Status(99):         "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
