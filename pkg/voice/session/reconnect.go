package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy bounds automatic recovery after an unexpected transport
// drop. Delays grow exponentially with jitter; past MaxAttempts the session
// gives up and surfaces a terminal error.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64
}

// DefaultReconnectPolicy returns the stock policy: 500ms base, 10s cap,
// five attempts, 50% jitter.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
		Jitter:      0.5,
	}
}

type reconnector struct {
	policy   ReconnectPolicy
	backoff  *backoff.ExponentialBackOff
	attempts int
}

func newReconnector(policy ReconnectPolicy) *reconnector {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = policy.Jitter
	b.MaxElapsedTime = 0 // attempts, not elapsed time, bound the retry loop
	b.Reset()
	return &reconnector{policy: policy, backoff: b}
}

// next returns the delay before the upcoming attempt, or false when the
// attempt budget is exhausted.
func (r *reconnector) next() (time.Duration, bool) {
	if r.attempts >= r.policy.MaxAttempts {
		return 0, false
	}
	r.attempts++
	return r.backoff.NextBackOff(), true
}

// attempt reports the number of the attempt most recently handed out.
func (r *reconnector) attempt() int {
	return r.attempts
}

// reset restores the full attempt budget after a successful recovery.
func (r *reconnector) reset() {
	r.attempts = 0
	r.backoff.Reset()
}
