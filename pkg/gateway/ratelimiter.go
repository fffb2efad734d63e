package gateway

import (
	"sync"
	"time"
)

// clientRateLimiter bounds tool dispatch per client with a sliding window
// plus a concurrency cap. Catalog reads are not limited.
type clientRateLimiter struct {
	mu            sync.Mutex
	callsPerMin   int
	maxConcurrent int
	calls         []time.Time
	inFlight      int
}

func newClientRateLimiter(callsPerMin, maxConcurrent int) *clientRateLimiter {
	if callsPerMin <= 0 {
		callsPerMin = 60
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &clientRateLimiter{
		callsPerMin:   callsPerMin,
		maxConcurrent: maxConcurrent,
	}
}

// allow checks if a tool call is permitted under the limits.
func (r *clientRateLimiter) allow() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return false, "too many concurrent requests"
	}

	cutoff := time.Now().Add(-time.Minute)
	valid := r.calls[:0]
	for _, t := range r.calls {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.calls = valid

	if len(r.calls) >= r.callsPerMin {
		return false, "rate limit exceeded"
	}

	return true, ""
}

func (r *clientRateLimiter) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, time.Now())
	r.inFlight++
}

func (r *clientRateLimiter) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}
