// Package transport delivers events to the envelope endpoint. It honors
// server announced rate limits, compresses bodies, retries network failures
// and accounts for every dropped item.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/your-org/roadrunner-sentry/internal/dsn"
	"github.com/your-org/roadrunner-sentry/internal/envelope"
	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/ratelimit"
)

// Result describes the outcome of Send. Failures are never returned as
// errors.
type Result struct {
	EventID     protocol.EventID `json:"event_id"`
	Success     bool             `json:"success"`
	StatusCode  int              `json:"status_code,omitempty"`
	RateLimited bool             `json:"rate_limited,omitempty"`
	Attempts    int              `json:"attempts,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Options configures a Transport.
type Options struct {
	DSN         *dsn.Dsn
	SDK         protocol.SDKInfo
	Executor    HTTPExecutor
	Limiter     *ratelimit.Limiter
	Drops       protocol.DropRecorder
	Compression bool
	Retry       RetryPolicy
	Logger      *zap.Logger
	Now         func() time.Time
}

// Transport sends one event per envelope.
type Transport struct {
	dsn         *dsn.Dsn
	sdk         protocol.SDKInfo
	exec        HTTPExecutor
	limiter     *ratelimit.Limiter
	drops       protocol.DropRecorder
	compression bool
	retry       RetryPolicy
	log         *zap.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	compress    func(body []byte) ([]byte, error)

	// throttles the warning logged for every rate limited drop
	limitedLog rate.Sometimes
}

// New returns a Transport. DSN and Executor are required.
func New(opts Options) (*Transport, error) {
	if opts.DSN == nil {
		return nil, fmt.Errorf("%w: transport requires a DSN", protocol.ErrInvalidConfiguration)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("%w: transport requires an HTTP executor", protocol.ErrInvalidConfiguration)
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(opts.Logger, opts.Now)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Transport{
		dsn:         opts.DSN,
		sdk:         opts.SDK,
		exec:        opts.Executor,
		limiter:     opts.Limiter,
		drops:       opts.Drops,
		compression: opts.Compression,
		retry:       opts.Retry,
		log:         opts.Logger,
		now:         opts.Now,
		sleep:       sleep,
		compress:    compress,
		limitedLog:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// RateLimiter returns the limiter consulted before every send.
func (t *Transport) RateLimiter() *ratelimit.Limiter { return t.limiter }

// Send delivers ev. It never panics on bad input and never returns an
// error: the Result tells whether the server accepted the envelope.
func (t *Transport) Send(ctx context.Context, ev *protocol.Event) Result {
	res := Result{EventID: ev.ID}

	category := ev.Kind.Category()
	if t.limiter.IsRateLimited(category) {
		t.record(category, protocol.ReasonRateLimitBackoff, int64(ev.ItemCount()))
		for range ev.Attachments {
			t.record(protocol.CategoryAttachment, protocol.ReasonRateLimitBackoff, 1)
		}
		t.limitedLog.Do(func() {
			t.log.Warn("event dropped, category is rate limited",
				zap.String("event_id", string(ev.ID)),
				zap.String("category", string(category)),
				zap.Time("disabled_until", t.limiter.DisabledUntil(category)))
		})
		res.RateLimited = true
		res.Error = "rate limited"
		return res
	}

	env, err := envelope.FromEvent(ev, t.dsn, t.sdk, t.now())
	if err != nil {
		return t.encodingFailed(res, ev, category, err)
	}
	env.Items = t.dropLimitedAttachments(env.Items)

	body, err := env.Encode()
	if err != nil {
		return t.encodingFailed(res, ev, category, err)
	}

	header := http.Header{}
	header.Set("Content-Type", envelope.ContentType)
	header.Set("User-Agent", t.sdk.Name+"/"+t.sdk.Version)
	header.Set("X-Sentry-Auth", AuthHeader(t.dsn, t.sdk, t.now()))

	if t.compression {
		if gz, err := t.compress(body); err == nil {
			body = gz
			header.Set("Content-Encoding", "gzip")
		} else {
			t.log.Debug("compression failed, sending uncompressed",
				zap.String("event_id", string(ev.ID)), zap.Error(err))
		}
	}

	resp, attempts, err := t.execute(ctx, header, body, ev.ID)
	res.Attempts = attempts
	if err != nil {
		reason := protocol.ReasonNetworkError
		if ctx.Err() != nil {
			reason = protocol.ReasonBackpressure
		}
		t.recordItems(env.Items, reason)
		t.log.Error("event send failed",
			zap.String("event_id", string(ev.ID)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		res.Error = err.Error()
		return res
	}

	res.StatusCode = resp.StatusCode
	t.limiter.HandleResponse(resp.StatusCode, resp.Header)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.Success = true
		t.log.Debug("event sent",
			zap.String("event_id", string(ev.ID)),
			zap.Int("status_code", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		res.RateLimited = true
		res.Error = "rate limited by server"
		t.log.Warn("event rejected, rate limited by server", zap.String("event_id", string(ev.ID)))
	default:
		t.recordItems(env.Items, protocol.ReasonSendError)
		res.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(resp.Body, 256))
		t.log.Error("event rejected",
			zap.String("event_id", string(ev.ID)),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response", truncate(resp.Body, 256)))
	}
	return res
}

// execute runs the exchange, retrying network failures with backoff. No
// wait follows the final attempt.
func (t *Transport) execute(ctx context.Context, header http.Header, body []byte, id protocol.EventID) (*Response, int, error) {
	maxAttempts := t.retry.attempts()
	url := t.dsn.EnvelopeURL()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := t.exec.Execute(ctx, http.MethodPost, url, header, body)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == maxAttempts {
			return nil, attempt, lastErr
		}

		backoff := t.retry.Backoff(attempt)
		t.log.Debug("scheduling event retry",
			zap.String("event_id", string(id)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := t.sleep(ctx, backoff); err != nil {
			return nil, attempt, errors.Join(lastErr, err)
		}
	}
	return nil, maxAttempts, lastErr
}

func (t *Transport) dropLimitedAttachments(items []envelope.Item) []envelope.Item {
	kept := items[:0]
	for _, item := range items {
		if item.Header.Type == envelope.TypeAttachment && t.limiter.IsRateLimited(protocol.CategoryAttachment) {
			t.record(protocol.CategoryAttachment, protocol.ReasonRateLimitBackoff, 1)
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func (t *Transport) encodingFailed(res Result, ev *protocol.Event, category protocol.Category, err error) Result {
	t.record(category, protocol.ReasonNetworkError, int64(ev.ItemCount()))
	t.log.Error("envelope encoding failed",
		zap.String("event_id", string(ev.ID)),
		zap.String("kind", string(ev.Kind)),
		zap.Error(err))
	res.Error = err.Error()
	return res
}

func (t *Transport) recordItems(items []envelope.Item, reason protocol.DiscardReason) {
	for _, item := range items {
		t.record(item.Category(), reason, item.Quantity())
	}
}

// record skips client reports themselves so a failing report does not
// produce another one.
func (t *Transport) record(category protocol.Category, reason protocol.DiscardReason, quantity int64) {
	if t.drops == nil || category == protocol.CategoryInternal {
		return
	}
	t.drops.Add(category, reason, quantity)
}

// Close releases the executor's resources when it holds any.
func (t *Transport) Close() error {
	if c, ok := t.exec.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
