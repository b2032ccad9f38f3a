package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, period time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(limit, period)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("1.2.3.4")
		require.True(t, ok, "request %d should pass", i+1)
	}
	ok, retry := rl.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, retry, "one token refills every period/limit")

	// other clients have their own bucket
	ok, _ = rl.Allow("5.6.7.8")
	assert.True(t, ok)

	clock.advance(20 * time.Second)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok, "one token should have refilled")
	ok, _ = rl.Allow("1.2.3.4")
	assert.False(t, ok)

	clock.advance(time.Minute)
	for i := 0; i < 3; i++ {
		ok, _ = rl.Allow("1.2.3.4")
		require.True(t, ok, "full burst after a period, request %d", i+1)
	}
}

func TestRateLimiter_RejectionDoesNotConsume(t *testing.T) {
	rl, clock := newTestLimiter(1, 10*time.Second)

	ok, _ := rl.Allow("1.2.3.4")
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, _ = rl.Allow("1.2.3.4")
		require.False(t, ok)
	}

	clock.advance(10 * time.Second)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok, "rejected hits must not push the refill back")
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 60, rl.limit)
	assert.Equal(t, time.Minute, rl.period)
	assert.Equal(t, rate.Every(time.Second), rl.every)
}

func TestRateLimiter_SweepDropsExpired(t *testing.T) {
	rl, clock := newTestLimiter(10, time.Second)

	for i := 0; i < 50; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	require.Equal(t, 50, rl.Tracked())

	clock.advance(2 * time.Second)
	rl.Allow("10.0.1.1")
	rl.Sweep()
	assert.Equal(t, 1, rl.Tracked())
}

func TestRateLimiter_SweepsWhenLarge(t *testing.T) {
	rl, clock := newTestLimiter(10, time.Second)

	for i := 0; i < rl.maxSize; i++ {
		rl.Allow(fmt.Sprintf("10.0.%d.%d", i/250, i%250))
	}
	clock.advance(2 * time.Second)
	rl.Allow("192.168.0.1")
	rl.Allow("192.168.0.2")

	assert.LessOrEqual(t, rl.Tracked(), 2)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(1, 30*time.Second)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/payments", http.NoBody)
	req.RemoteAddr = "203.0.113.9:5555"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"remote addr with port", "", "198.51.100.7:1234", "198.51.100.7"},
		{"remote addr without port", "", "198.51.100.7", "198.51.100.7"},
		{"forwarded chain", "203.0.113.1, 10.0.0.1", "10.0.0.2:80", "203.0.113.1"},
		{"blank forwarded", " ", "10.0.0.2:80", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
