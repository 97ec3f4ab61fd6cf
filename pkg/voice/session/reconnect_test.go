package session

import (
	"testing"
	"time"
)

func TestReconnectorRespectsAttemptCap(t *testing.T) {
	r := newReconnector(DefaultReconnectPolicy())

	for i := 1; i <= 5; i++ {
		delay, ok := r.next()
		if !ok {
			t.Fatalf("attempt %d refused before the cap", i)
		}
		if delay <= 0 || delay > 15*time.Second {
			t.Fatalf("attempt %d delay = %v", i, delay)
		}
		if r.attempt() != i {
			t.Fatalf("attempt() = %d, want %d", r.attempt(), i)
		}
	}

	if _, ok := r.next(); ok {
		t.Fatal("sixth attempt must be refused")
	}
}

func TestReconnectorDelaysGrow(t *testing.T) {
	policy := DefaultReconnectPolicy()
	policy.Jitter = 0 // deterministic
	r := newReconnector(policy)

	prev := time.Duration(0)
	for i := 0; i < 5; i++ {
		delay, ok := r.next()
		if !ok {
			t.Fatalf("attempt %d refused", i+1)
		}
		if delay < prev {
			t.Fatalf("delay shrank: %v after %v", delay, prev)
		}
		if delay > policy.MaxDelay {
			t.Fatalf("delay %v exceeds cap %v", delay, policy.MaxDelay)
		}
		prev = delay
	}
}

func TestReconnectorResetRestoresBudget(t *testing.T) {
	policy := DefaultReconnectPolicy()
	policy.MaxAttempts = 2
	r := newReconnector(policy)

	r.next()
	r.next()
	if _, ok := r.next(); ok {
		t.Fatal("budget should be spent")
	}

	r.reset()
	delay, ok := r.next()
	if !ok {
		t.Fatal("reset must restore the attempt budget")
	}
	// Backoff restarts from the base, modulo jitter.
	if delay > 2*policy.BaseDelay {
		t.Fatalf("post-reset delay = %v, want near base %v", delay, policy.BaseDelay)
	}
}
