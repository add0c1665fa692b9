package mwah

import "time"

// Reconnect defaults.
const (
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
)

// ReconnectPolicy schedules exponential backoff between reconnect attempts.
// The n-th call to NextDelay returns min(base*2^n, max), so with the defaults
// the delays run 2s, 4s, 8s, ... 60s.
type ReconnectPolicy struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

// NewReconnectPolicy creates a policy. Zero values select the defaults.
func NewReconnectPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ReconnectPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultReconnectBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultReconnectMaxDelay
	}
	return &ReconnectPolicy{baseDelay: baseDelay, maxDelay: maxDelay, maxAttempts: maxAttempts}
}

// ShouldReconnect reports whether another attempt is allowed.
func (r *ReconnectPolicy) ShouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

// NextDelay counts an attempt and returns how long to wait before making it.
func (r *ReconnectPolicy) NextDelay() time.Duration {
	r.attempt++
	delay := r.baseDelay
	for i := 0; i < r.attempt; i++ {
		delay *= 2
		if delay >= r.maxDelay {
			return r.maxDelay
		}
	}
	return delay
}

// Reset clears the attempt counter after a successful connect or a wake.
func (r *ReconnectPolicy) Reset() {
	r.attempt = 0
}

// Attempt returns the number of attempts counted since the last reset.
func (r *ReconnectPolicy) Attempt() int {
	return r.attempt
}

// MaxAttempts returns the attempt limit.
func (r *ReconnectPolicy) MaxAttempts() int {
	return r.maxAttempts
}
