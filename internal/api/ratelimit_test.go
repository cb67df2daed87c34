package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimitMiddleware(RateLimit{PerSecond: 0.001, Burst: 2}, zap.NewNop())(ok)

	call := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/bookings/", nil)
		req.Header.Set(requesterHeader, user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("alice"))
	assert.Equal(t, http.StatusNoContent, call("alice"))
	assert.Equal(t, http.StatusTooManyRequests, call("alice"))

	// budgets are per requester
	assert.Equal(t, http.StatusNoContent, call("bob"))
}

func TestRateLimitDisabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimitMiddleware(RateLimit{}, zap.NewNop())(ok)

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookings/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestLimiterStoreSweepsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newLimiterStore(RateLimit{PerSecond: 1, Burst: 1})
	s.now = func() time.Time { return now }

	s.get("ip:10.0.0.1")
	now = now.Add(limiterIdle + time.Minute)
	s.get("ip:10.0.0.2")

	assert.NotContains(t, s.visitors, "ip:10.0.0.1")
	assert.Contains(t, s.visitors, "ip:10.0.0.2")
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5123"
	assert.Equal(t, "ip:192.0.2.7", clientKey(req))

	req.Header.Set(requesterHeader, "u1")
	assert.Equal(t, "user:u1", clientKey(req))
}
