package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// keyedLimiter держит token bucket на ключ (IP или user_id) и выкидывает простаивающие.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	lastGC   time.Time
}

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	return &keyedLimiter{limiters: make(map[string]*limiterEntry), rps: rate.Limit(rps), burst: burst, lastGC: time.Now()}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	if now.Sub(k.lastGC) > limiterIdleTTL {
		for key, e := range k.limiters {
			if now.Sub(e.seen) > limiterIdleTTL {
				delete(k.limiters, key)
			}
		}
		k.lastGC = now
	}
	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(k.rps, k.burst)}
		k.limiters[key] = e
	}
	e.seen = now
	return e.lim.Allow()
}

// RateLimit ограничивает запросы по user_id (если есть в контексте), иначе по IP. 429 при превышении.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	kl := newKeyedLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if userID := GetUserID(r.Context()); userID != "" {
				key = "u:" + userID
			}
			if !kl.allow(key) {
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
