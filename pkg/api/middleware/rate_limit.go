package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/IRCAD/sight-sub083/pkg/api/response"
)

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with the given
// burst per client. Buckets unused for ten minutes are forgotten.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) getLimiter(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.idle {
			delete(rl.limiters, id)
		}
	}

	cl, ok := rl.limiters[clientID]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[clientID] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// SetLimit changes the rate and burst of every bucket, current and future.
func (rl *RateLimiter) SetLimit(requestsPerSecond float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rate = rate.Limit(requestsPerSecond)
	rl.burst = burst
	now := rl.now()
	for _, cl := range rl.limiters {
		cl.limiter.SetLimitAt(now, rl.rate)
		cl.limiter.SetBurstAt(now, burst)
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Allow reports whether clientID may proceed now and, if not, how long it
// should wait.
func (rl *RateLimiter) Allow(clientID string) (bool, time.Duration) {
	limiter := rl.getLimiter(clientID)
	if limiter.Allow() {
		return true, 0
	}
	reservation := limiter.Reserve()
	retryAfter := reservation.Delay()
	reservation.Cancel()
	return false, retryAfter
}

// RateLimit rejects requests over the per-client budget with 429 and a
// Retry-After header. Clients are keyed by remote IP.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := rl.Allow(clientID(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))

			requestID := GetRequestID(r.Context())
			if requestID == "" {
				requestID = "unknown"
			}
			response.Error(w,
				http.StatusTooManyRequests,
				response.ErrCodeTooManyRequests,
				"rate limit exceeded",
				requestID,
			)
		})
	}
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
