package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// adminAuth protects admin endpoints with a shared token, sent either as
// X-Admin-Token or as a bearer Authorization header. An empty token rejects
// every request.
func adminAuth(next http.Handler, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Token")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token != "" && got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="guildbot admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr), slog.String("component", "http"))
	})
}

type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int // burst, refilled evenly over window
	window        time.Duration
}

// loadRateLimiterConfig reads RATE_LIMIT_* from the environment. Limiting is on
// unless RATE_LIMIT_ENABLED=0.
func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0",
		requestsPerIP: 30,
		window:        time.Minute,
	}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_REQUESTS_PER_IP")); err == nil && n > 0 {
		cfg.requestsPerIP = n
	}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); err == nil && n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

// ipRateLimiter keeps one token bucket per client address.
type ipRateLimiter struct {
	cfg   *rateLimiterConfig
	every rate.Limit

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newIPRateLimiter creates a limiter whose idle-bucket sweep stops with ctx.
func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	rl := &ipRateLimiter{
		cfg:     cfg,
		every:   rate.Every(cfg.window / time.Duration(max(cfg.requestsPerIP, 1))),
		buckets: make(map[string]*bucket),
	}
	if cfg.enabled {
		go rl.sweep(ctx)
	}
	return rl
}

func (rl *ipRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				if now.Sub(b.lastSeen) > 2*rl.cfg.window {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.every, rl.cfg.requestsPerIP)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()
	return b.lim.Allow()
}

// retryAfter is the wait in whole seconds until ip may send again.
func (rl *ipRateLimiter) retryAfter(ip string) int {
	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	rl.mu.Unlock()
	if !ok {
		return 1
	}
	r := b.lim.Reserve()
	d := r.Delay()
	r.Cancel()
	return max(int(d.Round(time.Second)/time.Second), 1)
}

// clientIP extracts the caller address, preferring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip, _, _ = strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

// rateLimitMiddleware rejects callers over their allowance with 429 and Retry-After.
func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(limiter.retryAfter(ip)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path), slog.String("component", "http"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
