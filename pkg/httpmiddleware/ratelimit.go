package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig allows Max requests per Window for each key, with bursts
// up to Max.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc defaults to the client IP.
	KeyFunc func(*http.Request) string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	cfg   RateLimitConfig
	every rate.Limit
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &limiterSet{
		cfg:      cfg,
		every:    rate.Limit(float64(cfg.Max) / cfg.Window.Seconds()),
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// reserve takes one token for key. It returns the tokens left and, when the
// request is rejected, how long until a token is available.
func (s *limiterSet) reserve(key string) (remaining int, wait time.Duration, ok bool) {
	now := s.now()

	s.mu.Lock()
	v, found := s.visitors[key]
	if !found {
		v = &visitor{limiter: rate.NewLimiter(s.every, s.cfg.Max)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	s.mu.Unlock()

	if !v.limiter.AllowN(now, 1) {
		missing := 1 - v.limiter.TokensAt(now)
		return 0, time.Duration(missing / float64(s.every) * float64(time.Second)), false
	}
	return int(math.Max(0, math.Floor(v.limiter.TokensAt(now)))), 0, true
}

// evict drops visitors idle for longer than two windows.
func (s *limiterSet) evict() {
	cutoff := s.now().Add(-2 * s.cfg.Window)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, v := range s.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(s.visitors, key)
		}
	}
}

// RateLimit limits requests per key with a token bucket. Idle keys are never
// evicted; use RateLimitWithCleanup for long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiterSet(cfg).middleware
}

// RateLimitWithCleanup is RateLimit with a background eviction loop that
// stops with ctx.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	s := newLimiterSet(cfg)
	go func() {
		ticker := time.NewTicker(2 * s.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evict()
			}
		}
	}()
	return s.middleware
}

func (s *limiterSet) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := s.reserve(s.cfg.KeyFunc(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.cfg.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
