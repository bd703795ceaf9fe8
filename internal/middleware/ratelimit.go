package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/academyhub/backend/internal/metrics"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// counter is the subset of redis.Cmdable the fixed-window limiter uses.
type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLimiter is a fixed one-minute window shared by every API replica.
type RedisLimiter struct {
	rdb       counter
	perMinute int
	now       func() time.Time
}

func NewRedisLimiter(rdb redis.Cmdable, perMinute int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, perMinute: perMinute, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now().UTC()
	window := now.Truncate(time.Minute)
	k := fmt.Sprintf("rl:%s:%s", key, window.Format("200601021504"))

	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		// Two windows so a late first hit still expires after its minute ends.
		if err := l.rdb.Expire(ctx, k, 2*time.Minute).Err(); err != nil {
			return false, 0, err
		}
	}
	if n <= int64(l.perMinute) {
		return true, 0, nil
	}
	return false, window.Add(time.Minute).Sub(now), nil
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func NewLocalLimiter(perMinute int) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	r := b.Reserve()
	if !r.OK() {
		return false, time.Minute, nil
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d, nil
	}
	return true, 0, nil
}

// RateLimit throttles agents per AgentID. It must run after APIKeyAuth.
// Limiter errors let the request through.
func RateLimit(l Limiter, m *metrics.Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromCtx(r.Context())
			if !ok {
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			allowed, retry, err := l.Allow(r.Context(), p.OrganizationID+":"+p.AgentID)
			if err != nil {
				log.Warn("rate limiter unavailable", "agent_id", p.AgentID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				m.RateLimitHit()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
