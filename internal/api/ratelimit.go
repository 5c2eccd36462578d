package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geonexus/entitlements/internal/metrics"
)

// Rate-limited route groups. Each group keeps its own counters, so heavy
// polling of the entitlement check cannot starve profile writes.
const (
	RouteCheck    = "check"
	RouteProfile  = "profile"
	RouteCheckout = "checkout"
)

const (
	defaultRateLimit  = 120
	defaultRateWindow = time.Minute
)

type bucketKey struct {
	route  string
	client string
}

// bucket counts requests in the window that began at start.
type bucket struct {
	start time.Time
	count int
}

// RateLimiter counts requests per client in fixed windows, separately for
// each route group.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limits  map[string]int
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

// NewRateLimiter creates a limiter. Routes missing from limits get the
// default of 120 per window.
func NewRateLimiter(window time.Duration, limits map[string]int) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	l := make(map[string]int, len(limits))
	for route, n := range limits {
		if n > 0 {
			l[route] = n
		}
	}
	return &RateLimiter{
		window:  window,
		limits:  l,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) limit(route string) int {
	if n, ok := rl.limits[route]; ok {
		return n
	}
	return defaultRateLimit
}

// Allow records one request from client on route. When the client is over
// its limit it returns false and the time until the window resets.
func (rl *RateLimiter) Allow(route, client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := bucketKey{route: route, client: client}
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.start) >= rl.window {
		rl.buckets[key] = &bucket{start: now, count: 1}
		return true, 0
	}
	if b.count >= rl.limit(route) {
		return false, b.start.Add(rl.window).Sub(now)
	}
	b.count++
	return true, 0
}

// Sweep drops buckets whose window has ended.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.start) >= rl.window {
			delete(rl.buckets, key)
		}
	}
}

// Limit returns middleware that applies the route group's limit.
func (rl *RateLimiter) Limit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := rl.Allow(route, clientIP(r))
			if !ok {
				metrics.RateLimited.WithLabelValues(route).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
