package channels

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
// memory exhaustion from attackers rotating source IPs/keys.
const maxTrackedKeys = 4096

// WebhookRateLimiter applies a per-key token bucket with a bounded key map.
// Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*rate.Limiter
}

// NewWebhookRateLimiter creates a limiter admitting rpm requests per minute
// per key. rpm <= 0 disables limiting.
func NewWebhookRateLimiter(rpm int) *WebhookRateLimiter {
	r := &WebhookRateLimiter{entries: make(map[string]*rate.Limiter)}
	if rpm > 0 {
		r.limit = rate.Limit(float64(rpm) / 60.0)
		r.burst = rpm
	}
	return r
}

// Allow reports whether a request for the key is within limits.
// Enforces a hard cap on tracked keys with map-iteration eviction.
func (r *WebhookRateLimiter) Allow(key string) bool {
	if r.burst == 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.entries[key]
	if !ok {
		if len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
		lim = rate.NewLimiter(r.limit, r.burst)
		r.entries[key] = lim
	}
	return lim.Allow()
}
