package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements per-client token bucket rate limiting
type RateLimiter struct {
	mutex   sync.Mutex
	clients map[string]*clientBucket

	requestsPerMinute int
	burstSize         int
}

type clientBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter with the default limits
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients:           make(map[string]*clientBucket),
		requestsPerMinute: 100,
		burstSize:         20,
	}
}

// Allow checks whether a request from the client should proceed
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket, exists := rl.clients[clientID]
	if !exists {
		bucket = &clientBucket{tokens: rl.burstSize, lastRefill: time.Now()}
		rl.clients[clientID] = bucket
	}

	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill)
	refill := int(elapsed.Seconds() * float64(rl.requestsPerMinute) / 60.0)
	if refill > 0 {
		bucket.tokens += refill
		if bucket.tokens > rl.burstSize {
			bucket.tokens = rl.burstSize
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// RateLimitMiddleware rejects clients exceeding their bucket
func (rl *RateLimiter) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !rl.Allow(host) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CleanupExpiredClients drops buckets idle for over an hour
func (rl *RateLimiter) CleanupExpiredClients() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	for id, bucket := range rl.clients {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.clients, id)
		}
	}
}
