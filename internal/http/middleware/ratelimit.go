package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// TurnLimiter throttles message turns with a token bucket per key. Turns
// are keyed by conversation rather than client address, so one chatty
// conversation cannot starve other users behind the same NAT.
type TurnLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64 // tokens per second
	burst   int     // max tokens
	now     func() time.Time
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewTurnLimiter creates a limiter allowing rate turns/sec with the given
// burst size per key.
func NewTurnLimiter(rate float64, burst int) *TurnLimiter {
	tl := &TurnLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
	// Periodically evict stale buckets to prevent memory growth.
	go tl.evictStale()
	return tl
}

// Allow spends one token from the bucket for key.
func (tl *TurnLimiter) Allow(key string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := tl.now()
	b, ok := tl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(tl.burst), lastSeen: now}
		tl.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * tl.rate
	if b.tokens > float64(tl.burst) {
		b.tokens = float64(tl.burst)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (tl *TurnLimiter) evictStale() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		tl.mu.Lock()
		cutoff := tl.now().Add(-10 * time.Minute)
		for key, b := range tl.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(tl.buckets, key)
			}
		}
		tl.mu.Unlock()
	}
}

// RateLimit returns an HTTP middleware that rejects turns exceeding the
// configured rate with 429 Too Many Requests. Buckets are keyed by the
// conversation id path parameter when present, otherwise by client address.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewTurnLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := chi.URLParam(r, "id")
			if key == "" {
				key = r.RemoteAddr
				// Prefer X-Real-Ip set by chi's RealIP middleware.
				if xri := r.Header.Get("X-Real-Ip"); xri != "" {
					key = xri
				}
			}
			if !limiter.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"Too many messages, slow down"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
