package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyhub/backend/internal/metrics"
)

// fakeRedis counts INCRs per key and records EXPIREs.
type fakeRedis struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = d
	return redis.NewBoolResult(true, nil)
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	fr := newFakeRedis()
	l := &RedisLimiter{rdb: fr, perMinute: 2, now: func() time.Time {
		return time.Date(2026, 3, 1, 10, 15, 45, 0, time.UTC)
	}}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "org-a:bot")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := l.Allow(ctx, "org-a:bot")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 15*time.Second, retry)

	assert.Equal(t, 2*time.Minute, fr.expires["rl:org-a:bot:202603011015"])

	ok, _, err = l.Allow(ctx, "org-a:other")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLimiter_Burst(t *testing.T) {
	l := NewLocalLimiter(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	ok, _, _ = l.Allow(ctx, "other")
	assert.True(t, ok)
}

func TestRateLimit_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	h := RateLimit(NewLocalLimiter(1), m, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/tasks", nil)
		req = req.WithContext(WithPrincipal(req.Context(), AgentPrincipal{AgentID: "bot", OrganizationID: "org-a"}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimited))
}

func TestRateLimit_RequiresPrincipal(t *testing.T) {
	h := RateLimit(NewLocalLimiter(10), nil, nil)(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	fr := newFakeRedis()
	fr.err = errors.New("connection refused")
	l := &RedisLimiter{rdb: fr, perMinute: 1, now: time.Now}
	h := RateLimit(l, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), AgentPrincipal{AgentID: "bot", OrganizationID: "org-a"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
