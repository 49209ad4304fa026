package middleware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/observability"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	// HitID identifies the recorded hit so a later Forgive can retract it.
	HitID string
}

// Limiter counts requests per key inside a trailing window. Forgive retracts
// a previously recorded hit; the auth tier uses it so successful requests do
// not erode the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Forgive(ctx context.Context, key, hitID string) error
	Limit() int
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter        Limiter
	scope          string
	mode           FailureMode
	skipSuccessful bool
	keyFunc        func(r *http.Request) string
}

func NewRateLimiter(limiter Limiter, scope string, mode FailureMode) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		scope:   scope,
		mode:    mode,
		keyFunc: clientIP,
	}
}

// WithSkipSuccessful makes the tier retract hits for requests that complete
// below 400, so only failed attempts count against the budget.
func (rl *RateLimiter) WithSkipSuccessful() *RateLimiter {
	rl.skipSuccessful = true
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			decision, err := rl.limiter.Allow(r.Context(), key)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					slog.Warn("rate limiter backend unavailable, allowing request",
						"scope", rl.scope, "error", err.Error())
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", "1")
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.limiter.Limit(), decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			if !rl.skipSuccessful {
				next.ServeHTTP(w, r)
				return
			}
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if recorder.status < http.StatusBadRequest {
				if err := rl.limiter.Forgive(r.Context(), key, decision.HitID); err != nil {
					slog.Warn("rate limiter forgive failed", "scope", rl.scope, "error", err.Error())
				}
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}

type slidingWindowHit struct {
	id string
	at time.Time
}

type localSlidingWindowLimiter struct {
	mu      sync.Mutex
	store   map[string][]slidingWindowHit
	limit   int
	window  time.Duration
	cleanup time.Time
}

// NewLocalSlidingWindowLimiter keeps per-key hit timestamps in memory. Keys
// with no hits inside two windows are dropped on a periodic sweep so an
// attacker rotating IPs cannot grow the map without bound.
func NewLocalSlidingWindowLimiter(limit int, window time.Duration) Limiter {
	return &localSlidingWindowLimiter{
		store:   make(map[string][]slidingWindowHit),
		limit:   limit,
		window:  window,
		cleanup: time.Now().Add(window),
	}
}

func (l *localSlidingWindowLimiter) Limit() int { return l.limit }

func (l *localSlidingWindowLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		cutoff := now.Add(-2 * l.window)
		for k, hits := range l.store {
			if len(hits) == 0 || hits[len(hits)-1].at.Before(cutoff) {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(l.window)
	}

	cutoff := now.Add(-l.window)
	hits := l.store[key]
	pruned := hits[:0]
	for _, hit := range hits {
		if hit.at.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}

	if len(pruned) >= l.limit {
		l.store[key] = pruned
		retryAfter := pruned[0].at.Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = time.Second
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    now.Add(retryAfter),
		}, nil
	}

	hit := slidingWindowHit{id: uuid.NewString(), at: now}
	pruned = append(pruned, hit)
	l.store[key] = pruned
	resetAt := pruned[0].at.Add(l.window)
	return Decision{
		Allowed:   true,
		Remaining: l.limit - len(pruned),
		ResetAt:   resetAt,
		HitID:     hit.id,
	}, nil
}

func (l *localSlidingWindowLimiter) Forgive(_ context.Context, key, hitID string) error {
	if hitID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	hits := l.store[key]
	for i, hit := range hits {
		if hit.id == hitID {
			l.store[key] = append(hits[:i], hits[i+1:]...)
			return nil
		}
	}
	return nil
}

func retryAfterHeader(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}
