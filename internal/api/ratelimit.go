package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// How long an idle client's bucket survives, and how often idle buckets
// are pruned. Pruning piggybacks on allow, so a quiet server holds its
// last map indefinitely; that is fine, the map only ever shrinks.
const (
	bucketIdleAfter = 10 * time.Minute
	pruneEvery      = 5 * time.Minute
)

// rateLimiter hands each client IP its own token bucket.
type rateLimiter struct {
	refill rate.Limit
	burst  int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second with
// the given burst capacity per client.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		refill:    rate.Limit(r),
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastPrune: time.Now(),
	}
}

// allow consumes one token from the client's bucket, creating the
// bucket on first sight.
func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.maybePrune(now)

	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(rl.refill, rl.burst)}
		rl.buckets[client] = b
	}
	b.seen = now
	return b.tokens.Allow()
}

// maybePrune drops buckets idle past the threshold. Caller holds mu.
func (rl *rateLimiter) maybePrune(now time.Time) {
	if now.Sub(rl.lastPrune) <= pruneEvery {
		return
	}
	for client, b := range rl.buckets {
		if now.Sub(b.seen) > bucketIdleAfter {
			delete(rl.buckets, client)
		}
	}
	rl.lastPrune = now
}

// rateLimitMiddleware rejects requests from clients that exhausted
// their token bucket.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if rl.allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests", logger)
		})
	}
}

// clientIP resolves the address used as the rate-limit key. Proxy
// headers count only when trustProxy is set, and only when they parse
// as an IP, so clients cannot smuggle arbitrary strings into the bucket
// map. X-Real-IP wins over X-Forwarded-For; in the latter the first
// entry is the client.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, candidate := range proxyAddrs(r) {
			if ip := net.ParseIP(strings.TrimSpace(candidate)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func proxyAddrs(r *http.Request) []string {
	var addrs []string
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		addrs = append(addrs, xri)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		addrs = append(addrs, first)
	}
	return addrs
}
