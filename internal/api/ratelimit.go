package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/calgenie/internal/identity"
)

// RateLimiter implements a per-user token bucket. The key is the anonymous
// user ID only, so rotating session IDs does not reset the budget.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   time.Duration
	burst   int
	window  time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window for each user, with bursts of up
// to requests.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		every:   window / time.Duration(requests),
		burst:   requests,
		window:  window,
	}
}

// Allow reports whether a request for key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	return r.reserve(key, time.Now())
}

func (r *RateLimiter) reserve(key string, now time.Time) bool {
	r.mu.Lock()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(r.every), r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now
	r.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// RetryAfter is the number of whole seconds until one more token is available.
func (r *RateLimiter) RetryAfter() int {
	return int(math.Ceil(r.every.Seconds()))
}

// StartEviction drops buckets idle for longer than one window until ctx is
// done.
func (r *RateLimiter) StartEviction(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evict(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *RateLimiter) evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	for key, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, key)
		}
	}
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(identity.UserIDFromContext(r.Context())) {
			w.Header().Set("Retry-After", strconv.Itoa(h.limiter.RetryAfter()))
			Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
