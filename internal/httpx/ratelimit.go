package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-client token bucket for the payment endpoints.
// Each client may burst limit requests and regains one every period/limit.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	limit   int
	period  time.Duration
	every   rate.Limit
	now     func() time.Time
	hits    int
	sweepAt int // sweep every N hits
	maxSize int // sweep when this many clients are tracked
	keyFunc func(*http.Request) string
}

// limiterEntry is one client's bucket
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows limit requests per client in each period.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		clients: make(map[string]*limiterEntry),
		limit:   limit,
		period:  period,
		every:   rate.Every(period / time.Duration(limit)),
		now:     time.Now,
		sweepAt: 100,
		maxSize: 200,
		keyFunc: ClientIP,
	}
}

// Allow records a hit for key and reports whether it is within the limit.
// The second value is how long the client must wait when rejected.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	now := rl.now()
	rl.hits++
	if rl.hits%rl.sweepAt == 0 || len(rl.clients) > rl.maxSize {
		rl.sweep(now)
		rl.hits = 0
	}

	entry := rl.clients[key]
	if entry == nil {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.every, rl.limit)}
		rl.clients[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, rl.period
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops clients idle for a full period; their bucket has refilled
func (rl *RateLimiter) sweep(now time.Time) {
	for key, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > rl.period {
			delete(rl.clients, key)
		}
	}
}

// Sweep drops every idle client.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(rl.now())
}

// Tracked returns the number of clients currently held.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects over-limit clients with 429 and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := rl.Allow(rl.keyFunc(r))
		if !ok {
			secs := int((retry + time.Second - 1) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, or the host of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
