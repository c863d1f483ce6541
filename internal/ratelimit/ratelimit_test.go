package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter() (*Limiter, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	return New(nil, c.now), c
}

func TestParseRateLimitHeader(t *testing.T) {
	l, c := newLimiter()
	start := c.t

	require.True(t, l.Update("60:transaction:key,2700:error;default:organization", "", http.StatusOK))

	assert.Equal(t, start.Add(60*time.Second), l.DisabledUntil(protocol.CategoryTransaction))
	assert.Equal(t, start.Add(2700*time.Second), l.DisabledUntil(protocol.CategoryError))
	assert.Equal(t, start.Add(2700*time.Second), l.DisabledUntil(protocol.CategoryDefault))

	assert.True(t, l.IsRateLimited(protocol.CategoryTransaction))
	assert.True(t, l.IsRateLimited(protocol.CategoryError))
	assert.False(t, l.IsRateLimited(protocol.CategoryAttachment))

	c.advance(61 * time.Second)
	assert.False(t, l.IsRateLimited(protocol.CategoryTransaction))
	assert.True(t, l.IsRateLimited(protocol.CategoryError))

	c.advance(2700 * time.Second)
	assert.False(t, l.IsRateLimited(protocol.CategoryError))
	assert.Empty(t, l.Status())
}

func TestEmptyCategoriesMeansAll(t *testing.T) {
	l, _ := newLimiter()
	l.Update("30::organization", "", http.StatusTooManyRequests)

	for _, c := range []protocol.Category{protocol.CategoryError, protocol.CategoryLogItem, "unknown"} {
		assert.True(t, l.IsRateLimited(c), c)
	}
}

func TestDefaultAppliesOnlyToUnknownCategories(t *testing.T) {
	l, _ := newLimiter()
	l.Update("30:default:organization", "", http.StatusOK)

	assert.True(t, l.IsRateLimited("feedback"))
	assert.False(t, l.IsRateLimited(protocol.CategoryError))
}

func TestItemTypeNamesAreNormalized(t *testing.T) {
	l, _ := newLimiter()
	l.Update("30:log;statsd:key", "", http.StatusOK)

	assert.True(t, l.IsRateLimited(protocol.CategoryLogItem))
	assert.True(t, l.IsRateLimited(protocol.CategoryMetricBucket))
}

func TestMetricBucketNamespaces(t *testing.T) {
	l, _ := newLimiter()
	l.Update("30:metric_bucket:organization:quota_exceeded:transactions", "", http.StatusOK)
	assert.False(t, l.IsRateLimited(protocol.CategoryMetricBucket))

	l.Update("30:metric_bucket:organization:quota_exceeded:transactions;custom", "", http.StatusOK)
	assert.True(t, l.IsRateLimited(protocol.CategoryMetricBucket))
}

func TestGarbledGroupsAreSkipped(t *testing.T) {
	l, _ := newLimiter()
	applied := l.Update("garbage, abc:error:key, -5:error:key, 10", "", http.StatusOK)
	assert.False(t, applied)
	assert.Empty(t, l.Status())

	assert.True(t, l.Update("nope,15:attachment:key", "", http.StatusOK))
	assert.True(t, l.IsRateLimited(protocol.CategoryAttachment))
}

func TestLongerWindowIsKept(t *testing.T) {
	l, c := newLimiter()
	l.Update("100:error:key", "", http.StatusOK)
	l.Update("10:error:key", "", http.StatusOK)
	assert.Equal(t, c.t.Add(100*time.Second), l.DisabledUntil(protocol.CategoryError))
}

func TestRetryAfterFallback(t *testing.T) {
	t.Run("seconds", func(t *testing.T) {
		l, c := newLimiter()
		assert.True(t, l.Update("", "120", http.StatusTooManyRequests))
		assert.Equal(t, c.t.Add(120*time.Second), l.DisabledUntil(protocol.CategoryError))
	})
	t.Run("http date", func(t *testing.T) {
		l, c := newLimiter()
		date := c.t.Add(30 * time.Second).UTC().Format(http.TimeFormat)
		l.Update("", date, http.StatusTooManyRequests)
		assert.True(t, c.t.Add(30*time.Second).Equal(l.DisabledUntil(protocol.CategoryTransaction)))
	})
	t.Run("missing", func(t *testing.T) {
		l, c := newLimiter()
		l.Update("", "", http.StatusTooManyRequests)
		assert.Equal(t, c.t.Add(DefaultRetryAfter), l.DisabledUntil(protocol.CategoryError))
	})
	t.Run("ignored without 429", func(t *testing.T) {
		l, _ := newLimiter()
		assert.False(t, l.Update("", "120", http.StatusServiceUnavailable))
		assert.False(t, l.IsRateLimited(protocol.CategoryError))
	})
	t.Run("rate limit header wins", func(t *testing.T) {
		l, c := newLimiter()
		l.Update("5:error:key", "120", http.StatusTooManyRequests)
		assert.Equal(t, c.t.Add(5*time.Second), l.DisabledUntil(protocol.CategoryError))
		assert.False(t, l.IsRateLimited(protocol.CategoryTransaction))
	})
}

func TestHandleResponse(t *testing.T) {
	l, _ := newLimiter()
	h := http.Header{}
	h.Set(HeaderRateLimits, "60:transaction:key")
	assert.True(t, l.HandleResponse(http.StatusOK, h))
	assert.True(t, l.IsRateLimited(protocol.CategoryTransaction))
}

func TestCleanupExpired(t *testing.T) {
	l, c := newLimiter()
	l.Update("10:error:key,100:transaction:key", "", http.StatusOK)

	c.advance(20 * time.Second)
	l.CleanupExpired()

	l.mu.RLock()
	defer l.mu.RUnlock()
	assert.Len(t, l.limits, 1)
	assert.Contains(t, l.limits, protocol.CategoryTransaction)
}

func TestAppliedLimitsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := New(zap.New(core), nil)
	l.Update("60:error:key", "", http.StatusOK)

	entries := logs.FilterMessage("rate limit applied").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].ContextMap()["category"])
}
