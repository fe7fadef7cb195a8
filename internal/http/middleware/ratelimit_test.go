package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestTurnLimiter_BurstThenRefill(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := &TurnLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    1,
		burst:   2,
		now:     func() time.Time { return clock },
	}

	assert.True(t, tl.Allow("conv-1"))
	assert.True(t, tl.Allow("conv-1"))
	assert.False(t, tl.Allow("conv-1"))

	// One token accrues per second.
	clock = clock.Add(time.Second)
	assert.True(t, tl.Allow("conv-1"))
	assert.False(t, tl.Allow("conv-1"))
}

func TestRateLimit_KeysByConversation(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/conversations/{id}", func(c chi.Router) {
		c.Use(RateLimit(0, 1))
		c.Post("/messages", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	send := func(convID, ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/conversations/"+convID+"/messages", nil)
		req.Header.Set("X-Real-Ip", ip)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	// Same conversation exhausts its bucket regardless of client address.
	assert.Equal(t, http.StatusOK, send("conv-a", "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("conv-a", "10.0.0.2"))

	// A different conversation behind the same address is unaffected.
	assert.Equal(t, http.StatusOK, send("conv-b", "10.0.0.1"))
}

func TestRateLimit_FallsBackToClientAddress(t *testing.T) {
	handler := RateLimit(0, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/conversations", nil)
		req.Header.Set("X-Real-Ip", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.9"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.9"))
	assert.Equal(t, http.StatusOK, send("10.0.0.10"))
}
