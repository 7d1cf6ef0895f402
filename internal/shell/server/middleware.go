package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Per-IP Rate Limiting
// =============================================================================

// ipLimiter hands out one token bucket per client IP. Buckets are never
// evicted; a single-app deploy server sees a handful of callers, not the
// open internet.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(limit int, per time.Duration) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(limit) / per.Seconds()),
		burst:    limit,
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// rateLimitByIP rejects callers that exceed limit requests per the given
// window with 429. Must sit behind middleware.RealIP so RemoteAddr carries
// the client address rather than a proxy's.
func rateLimitByIP(limit int, per time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := newIPLimiter(limit, per)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !limiter.get(ip).Allow() {
				logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
