// Package ratelimit tracks per category suppression windows announced by the
// server through X-Sentry-Rate-Limits and Retry-After.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// Response headers read by the limiter.
const (
	HeaderRateLimits = "X-Sentry-Rate-Limits"
	HeaderRetryAfter = "Retry-After"
)

// DefaultRetryAfter applies when a 429 carries no usable Retry-After.
const DefaultRetryAfter = 60 * time.Second

// namespace that metric_bucket limits must name to affect custom metrics.
const customNamespace = "custom"

// Limiter maps a data category to the instant until which it is disabled.
type Limiter struct {
	mu     sync.RWMutex
	limits map[protocol.Category]time.Time
	now    func() time.Time
	logger *zap.Logger
}

// New returns an empty Limiter. A nil clock selects time.Now.
func New(logger *zap.Logger, now func() time.Time) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		limits: make(map[protocol.Category]time.Time),
		now:    now,
		logger: logger,
	}
}

// IsRateLimited reports whether items of category must not be sent now.
func (l *Limiter) IsRateLimited(category protocol.Category) bool {
	return l.DisabledUntil(category).After(l.now())
}

// DisabledUntil returns the latest instant category is disabled until,
// considering the category itself, "all", and "default" for categories the
// client does not know. The zero time means not limited.
func (l *Limiter) DisabledUntil(category protocol.Category) time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	var until time.Time
	check := func(c protocol.Category) {
		if t, ok := l.limits[c]; ok && t.After(now) && t.After(until) {
			until = t
		}
	}

	check(category)
	check(protocol.CategoryAll)
	if !category.Known() {
		check(protocol.CategoryDefault)
	}
	return until
}

// HandleResponse updates the limits from an HTTP response.
func (l *Limiter) HandleResponse(statusCode int, header http.Header) bool {
	return l.Update(header.Get(HeaderRateLimits), header.Get(HeaderRetryAfter), statusCode)
}

// Update applies the rate limit header. When it is absent and the status is
// 429, Retry-After disables every category. It reports whether any limit
// was applied.
func (l *Limiter) Update(rateLimits, retryAfter string, statusCode int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if strings.TrimSpace(rateLimits) != "" {
		return l.parseRateLimits(rateLimits, now)
	}
	if statusCode == http.StatusTooManyRequests {
		l.parseRetryAfter(retryAfter, now)
		return true
	}
	return false
}

// parseRateLimits applies each group of
// "retry_after:categories:scope:reason_code:namespaces". Groups that cannot
// be parsed are skipped.
func (l *Limiter) parseRateLimits(header string, now time.Time) bool {
	applied := false
	for _, group := range strings.Split(header, ",") {
		parts := strings.Split(strings.TrimSpace(group), ":")
		if len(parts) < 2 {
			l.logger.Debug("skipping malformed rate limit group", zap.String("group", group))
			continue
		}

		seconds, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil || seconds < 0 {
			l.logger.Debug("skipping rate limit group with invalid retry_after", zap.String("group", group))
			continue
		}
		until := now.Add(time.Duration(seconds * float64(time.Second)))

		var namespaces []string
		if len(parts) > 4 && strings.TrimSpace(parts[4]) != "" {
			namespaces = strings.Split(parts[4], ";")
		}

		categories := strings.Split(strings.TrimSpace(parts[1]), ";")
		for _, name := range categories {
			category := protocol.CategoryFromItemType(strings.TrimSpace(name))
			if category == protocol.CategoryMetricBucket && !appliesToCustom(namespaces) {
				continue
			}
			l.apply(category, until)
			applied = true
			l.logger.Warn("rate limit applied",
				zap.String("category", string(category)),
				zap.Time("disabled_until", until),
				zap.Float64("retry_after_seconds", seconds))
		}
	}
	return applied
}

func appliesToCustom(namespaces []string) bool {
	if len(namespaces) == 0 {
		return true
	}
	for _, ns := range namespaces {
		if strings.TrimSpace(ns) == customNamespace {
			return true
		}
	}
	return false
}

// parseRetryAfter disables every category for the seconds or HTTP date in
// header, falling back to DefaultRetryAfter.
func (l *Limiter) parseRetryAfter(header string, now time.Time) {
	header = strings.TrimSpace(header)

	until := now.Add(DefaultRetryAfter)
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		until = now.Add(time.Duration(seconds) * time.Second)
	} else if date, err := http.ParseTime(header); err == nil && date.After(now) {
		until = date
	} else if header != "" {
		l.logger.Warn("failed to parse Retry-After header, using default", zap.String("header", header))
	}

	l.apply(protocol.CategoryAll, until)
	l.logger.Warn("global rate limit applied via Retry-After header", zap.Time("disabled_until", until))
}

// apply never shortens an existing window.
func (l *Limiter) apply(category protocol.Category, until time.Time) {
	if current, ok := l.limits[category]; ok && current.After(until) {
		return
	}
	l.limits[category] = until
}

// CleanupExpired removes windows that have passed.
func (l *Limiter) CleanupExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for category, until := range l.limits {
		if !until.After(now) {
			delete(l.limits, category)
		}
	}
}

// Status returns a copy of the active windows.
func (l *Limiter) Status() map[protocol.Category]time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	status := make(map[protocol.Category]time.Time, len(l.limits))
	for category, until := range l.limits {
		if until.After(now) {
			status[category] = until
		}
	}
	return status
}
