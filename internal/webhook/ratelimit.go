package webhook

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// rateLimiter tracks a token bucket per client IP. The expirable LRU caps
// memory for one-off senders; steady senders keep their bucket alive.
type rateLimiter struct {
	perMinute int
	limiters  *expirable.LRU[string, *rate.Limiter]
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		perMinute: perMinute,
		limiters:  expirable.NewLRU[string, *rate.Limiter](1024, nil, 10*time.Minute),
	}
}

func (rl *rateLimiter) allow(remoteAddr string) bool {
	if rl.perMinute <= 0 {
		return true
	}

	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}

	limiter, ok := rl.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute)
		rl.limiters.Add(ip, limiter)
	}
	return limiter.Allow()
}

// middleware rejects over-limit senders with 429 before any body is read.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
