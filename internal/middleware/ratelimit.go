package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livestock-track/pkg/apierror"
)

// Rule caps requests per client to Limit within Window. Message is the
// 429 error message.
type Rule struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

type bucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. A bucket
// holds Limit tokens and refills completely over Window.
type MemoryLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	now        func() time.Time
	sweepEvery time.Duration
	lastSweep  time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets:    map[string]*bucket{},
		now:        time.Now,
		sweepEvery: time.Minute,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, rule Rule) (Decision, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit),
			window:  rule.Window,
		}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.gcLocked(now)

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, RetryAfter: rule.Window}, nil
	}

	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}

	return Decision{Allowed: true, Remaining: int(b.limiter.TokensAt(now))}, nil
}

// gcLocked drops buckets idle for a full window; they would be full again.
// It scans at most once per sweepEvery.
func (l *MemoryLimiter) gcLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.sweepEvery {
		return
	}
	l.lastSweep = now

	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > b.window {
			delete(l.buckets, key)
		}
	}
}

type RateLimitMiddleware struct {
	limiter Limiter
}

func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// Limit applies rule per client IP. A non-positive limit disables the rule.
// Limiter errors let the request through.
func (m *RateLimitMiddleware) Limit(rule Rule) func(http.Handler) http.Handler {
	if rule.Message == "" {
		rule.Message = "Too many requests"
	}

	return func(next http.Handler) http.Handler {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rule.Name + ":" + extractClientIP(r)

			decision, err := m.limiter.Allow(r.Context(), key, rule)
			if err != nil {
				slog.Warn("rate limiter unavailable, allowing request", "rule", rule.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(decision.Remaining, 0)))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
				writeJSONError(w, http.StatusTooManyRequests, apierror.CodeRateLimited, rule.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// extractClientIP keys on the connection peer. Forwarding headers are
// applied earlier by RealIP, and only for trusted proxies.
func extractClientIP(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return host
	}

	if remote == "" {
		return "unknown"
	}

	return remote
}
