package sentry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/your-org/roadrunner-sentry/internal/aggregator"
	"github.com/your-org/roadrunner-sentry/internal/clientreport"
	"github.com/your-org/roadrunner-sentry/internal/dsn"
	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/ratelimit"
	"github.com/your-org/roadrunner-sentry/internal/serializer"
	"github.com/your-org/roadrunner-sentry/internal/stacktrace"
	"github.com/your-org/roadrunner-sentry/internal/tracing"
	"github.com/your-org/roadrunner-sentry/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Client turns captured signals into events and hands them to the send
// queue. It never blocks on the network and never returns delivery errors
// into host code: every discarded item is accounted for in client reports.
//
// A Client is safe for concurrent use.
type Client struct {
	opts ClientOptions
	log  *zap.Logger
	dsn  *dsn.Dsn
	sdk  protocol.SDKInfo

	scope      *Scope
	serializer *serializer.Serializer
	stack      *stacktrace.Builder
	engine     *tracing.Engine
	tracer     *tracing.Tracer

	reports   *clientreport.Aggregator
	drops     dropTracker
	collector *metricsCollector

	logs    *aggregator.Logs
	metrics *aggregator.Metrics
	spans   *aggregator.Spans

	limiter   *ratelimit.Limiter
	transport *transport.Transport
	// queue is nil when no DSN is configured.
	queue *EventQueue

	closed atomic.Bool
}

// NewClient builds a client and starts its send workers. It fails with an
// error wrapping ErrInvalidConfiguration for a malformed DSN, a sample rate
// outside [0, 1] or a buffer capacity below 1.
func NewClient(opts ClientOptions) (*Client, error) {
	opts.setDefaults()
	if err := validateRate("sample_rate", opts.SampleRate); err != nil {
		return nil, err
	}

	c := &Client{
		opts: opts,
		log:  opts.Logger,
		sdk:  protocol.SDKInfo{Name: sdkName, Version: sdkVersion},
	}

	var err error
	if opts.DSN != "" {
		if c.dsn, err = dsn.Parse(opts.DSN); err != nil {
			return nil, err
		}
	}

	if c.scope, err = newScope(opts.MaxBreadcrumbs); err != nil {
		return nil, err
	}
	c.serializer = serializer.New(opts.MaxSerializeDepth, opts.MaxValueLength)
	c.stack = stacktrace.NewBuilder(stacktrace.Options{
		PrefixesToStrip: opts.PrefixesToStrip,
		InAppInclude:    opts.InAppInclude,
		InAppExclude:    opts.InAppExclude,
		ContextLines:    opts.ContextLines,
	}, c.serializer)

	if c.engine, err = tracing.NewEngine(opts.TracesSampleRate, opts.TracesSampler, opts.RandSource, c.log); err != nil {
		return nil, err
	}

	c.reports = clientreport.New(c.log, opts.Now)
	c.collector = newMetricsCollector(c.queueLength)
	c.drops = dropTracker{reports: c.reports, metrics: c.collector}

	publicKey := ""
	if c.dsn != nil {
		publicKey = c.dsn.PublicKey()
	}
	c.tracer = tracing.NewTracer(tracing.TracerOptions{
		Engine:      c.engine,
		Capturer:    c,
		Drops:       c.drops,
		MaxSpans:    opts.MaxSpans,
		PublicKey:   publicKey,
		Release:     opts.Release,
		Environment: opts.Environment,
		Now:         opts.Now,
	})

	// disabled aggregators still accept calls but flush into nothing
	var logSink, metricSink protocol.Capturer = c, c
	var logDrops protocol.DropRecorder = c.drops
	if !opts.EnableLogs {
		logSink, logDrops = nopCapturer{}, nil
	}
	if !opts.EnableMetrics {
		metricSink = nopCapturer{}
	}

	c.logs, err = aggregator.NewLogs(aggregator.LogOptions{
		BufferSize:  opts.LogsBufferSize,
		Environment: opts.Environment,
		Release:     opts.Release,
		ServerName:  opts.ServerName,
		SDK:         c.sdk,
		TraceID:     func() string { return c.scope.TraceID().String() },
		Serializer:  c.serializer,
		Drops:       logDrops,
		Now:         opts.Now,
		Logger:      c.log,
	}, logSink)
	if err != nil {
		return nil, err
	}
	c.metrics = aggregator.NewMetrics(aggregator.MetricOptions{
		Environment: opts.Environment,
		Release:     opts.Release,
		Now:         opts.Now,
	}, metricSink)
	if c.spans, err = aggregator.NewSpans(opts.SpansBufferSize, c.drops, c); err != nil {
		return nil, err
	}

	c.limiter = ratelimit.New(c.log, opts.Now)

	if c.dsn == nil {
		c.log.Warn("no DSN configured, events will be dropped")
		return c, nil
	}

	exec := opts.HTTPExecutor
	if exec == nil {
		httpExec, err := transport.NewHTTPExecutor(transport.ExecutorOptions{
			Timeout:        opts.Timeout,
			ConnectTimeout: opts.ConnectTimeout,
			SSLVerify:      !opts.InsecureSkipVerify,
			Proxy:          opts.Proxy,
		})
		if err != nil {
			return nil, err
		}
		exec = httpExec
	}

	c.transport, err = transport.New(transport.Options{
		DSN:         c.dsn,
		SDK:         c.sdk,
		Executor:    exec,
		Limiter:     c.limiter,
		Drops:       c.drops,
		Compression: !opts.DisableCompression,
		Retry:       opts.Retry,
		Logger:      c.log,
		Now:         opts.Now,
	})
	if err != nil {
		return nil, err
	}

	c.queue = NewEventQueue(opts.QueueSize, opts.Workers, c.transport, c.drops, c.collector, c.log)
	c.queue.Start()

	c.log.Debug("sentry client initialized",
		zap.String("host", c.dsn.Host()),
		zap.String("project_id", c.dsn.ProjectID()),
		zap.Int("queue_size", opts.QueueSize),
		zap.Int("workers", opts.Workers))

	return c, nil
}

// CaptureEvent runs ev through the capture pipeline and enqueues it. It
// returns the event id, or nil when the event was dropped.
func (c *Client) CaptureEvent(ev *Event) *EventID {
	if ev == nil || c.queue == nil {
		return nil
	}

	c.prepare(ev)

	switch ev.Kind {
	case KindError:
		c.applyScope(ev)
		c.errorDSC(ev)
		if c.opts.SampleRate != nil && !c.engine.Sample(*c.opts.SampleRate) {
			c.discard(ev, protocol.ReasonSampleRate)
			c.log.Debug("event dropped by sample rate", zap.String("event_id", string(ev.ID)))
			return nil
		}
	case KindTransaction:
		c.applyScope(ev)
	}

	c.serialize(ev)

	if ev = c.beforeSend(ev); ev == nil {
		return nil
	}

	if err := c.queue.Enqueue(ev); err != nil {
		return nil
	}
	id := ev.ID
	return &id
}

// CaptureMessage captures a message event. An empty level means info.
func (c *Client) CaptureMessage(message string, level Level) *EventID {
	if level == "" {
		level = LevelInfo
	}
	ev := c.newEvent(KindError)
	ev.Message = message
	ev.Level = level
	return c.CaptureEvent(ev)
}

// CaptureError captures err and its wrapped causes, with the stack of the
// caller attached to the outermost error.
func (c *Client) CaptureError(err error) *EventID {
	if err == nil {
		return nil
	}
	return c.CaptureEvent(c.errorEvent(err, 1))
}

// errorEvent builds the event for err with the stack skip frames above its
// caller.
func (c *Client) errorEvent(err error, skip int) *Event {
	ev := c.newEvent(KindError)
	ev.Level = LevelError
	ev.Exception = exceptions(err, c.stack.Capture(c.opts.StackProvider, skip+1))
	return ev
}

// CaptureCheckIn reports a cron monitor check-in, upserting the monitor when
// monitor is given. It returns the check-in id, which a later check-in
// closing the same run must reuse.
func (c *Client) CaptureCheckIn(checkIn *CheckIn, monitor *MonitorConfig) *EventID {
	if checkIn == nil || checkIn.MonitorSlug == "" {
		return nil
	}
	ci := *checkIn
	if ci.ID == "" {
		ci.ID = string(protocol.NewEventID())
	}
	if ci.Release == "" {
		ci.Release = c.opts.Release
	}
	if ci.Environment == "" {
		ci.Environment = c.opts.Environment
	}
	if monitor != nil {
		ci.MonitorConfig = monitor
	}

	ev := c.newEvent(KindCheckIn)
	ev.CheckIn = &ci
	if c.CaptureEvent(ev) == nil {
		return nil
	}
	id := EventID(ci.ID)
	return &id
}

// AddBreadcrumb records b on the scope trail. Its data is serialized
// immediately so later mutation by the caller has no effect.
func (c *Client) AddBreadcrumb(b *Breadcrumb) {
	if b == nil {
		return
	}
	crumb := *b
	if crumb.Timestamp.IsZero() {
		crumb.Timestamp = c.opts.Now()
	}
	if len(crumb.Data) > 0 {
		data := make(map[string]any, len(crumb.Data))
		for k, v := range crumb.Data {
			data[k] = c.serializer.Serialize(v)
		}
		crumb.Data = data
	}

	if hook := c.opts.BeforeBreadcrumb; hook != nil {
		out, ok := c.runBreadcrumbHook(hook, &crumb)
		if !ok || out == nil {
			return
		}
		crumb = *out
	}
	c.scope.addBreadcrumb(crumb)
}

func (c *Client) runBreadcrumbHook(hook func(*Breadcrumb) *Breadcrumb, b *Breadcrumb) (out *Breadcrumb, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("before_breadcrumb callback panicked", zap.Any("panic", r))
			out, ok = nil, false
		}
	}()
	return hook(b), true
}

// Scope returns the scope applied to every error and transaction.
func (c *Client) Scope() *Scope { return c.scope }

// ConfigureScope calls f with the client scope.
func (c *Client) ConfigureScope(f func(*Scope)) { f(c.scope) }

// StartTransaction starts a transaction with sampling decided. It is
// captured when finished.
func (c *Client) StartTransaction(ctx TransactionContext) *Transaction {
	return c.tracer.StartTransaction(ctx)
}

// ContinueTrace builds a context continuing an upstream trace. Without a
// valid sentry-trace value the returned context starts a new trace. The
// shared scope is left alone; pass the context to WithTrace to link a
// request's errors and logs to it.
func (c *Client) ContinueTrace(sentryTrace, baggage string) TransactionContext {
	return tracing.ContinueFromHeaders(sentryTrace, "", baggage)
}

// ContinueTraceFromHeaders is ContinueTrace reading sentry-trace, W3C
// traceparent and baggage from h.
func (c *Client) ContinueTraceFromHeaders(h http.Header) TransactionContext {
	return tracing.ContinueFromHeaders(
		h.Get(tracing.SentryTraceHeader),
		h.Get(tracing.TraceparentHeader),
		h.Get(tracing.BaggageHeader),
	)
}

// StartSpan starts a standalone span. Finished sampled spans are buffered
// and sent on the next flush.
func (c *Client) StartSpan(op string, opts ...tracing.SpanOption) *Span {
	return c.tracer.StartSpan(op, c.spans.Add, opts...)
}

// Logs returns the structured log aggregator.
func (c *Client) Logs() *aggregator.Logs { return c.logs }

// Metrics returns the metric aggregator.
func (c *Client) Metrics() *aggregator.Metrics { return c.metrics }

// Spans returns the standalone span buffer.
func (c *Client) Spans() *aggregator.Spans { return c.spans }

// RecordDrop accounts for items the host discarded itself.
func (c *Client) RecordDrop(category Category, reason DiscardReason, quantity int64) {
	c.drops.Add(category, reason, quantity)
}

// RateLimiter returns the limiter fed by server responses.
func (c *Client) RateLimiter() *ratelimit.Limiter { return c.limiter }

// FlushAll flushes the aggregators, then pending client reports, then waits
// for the send queue to drain. When timeout elapses first the queued events
// are dropped as backpressure and FlushAll returns false.
func (c *Client) FlushAll(timeout time.Duration) bool {
	if c.queue == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.FlushBuffers()
	return c.queue.Drain(ctx)
}

// FlushBuffers hands the buffered logs, metrics, spans and client reports to
// the send queue without waiting for delivery. Queued events are never
// discarded by it.
func (c *Client) FlushBuffers() {
	if c.queue == nil {
		return
	}

	var g errgroup.Group
	g.Go(func() error {
		c.logs.Flush()
		return nil
	})
	g.Go(func() error {
		c.metrics.Flush()
		return nil
	})
	g.Go(func() error {
		c.spans.Flush()
		return nil
	})
	_ = g.Wait()

	c.reports.Flush(c)
}

// Stats returns delivery counters.
func (c *Client) Stats() Stats {
	s := c.collector.stats()
	if c.queue != nil {
		s.QueueLength = c.queue.Len()
		s.Pending = c.queue.Pending()
	}
	return s
}

// Status returns the delivery counters together with the active rate limits.
func (c *Client) Status() Status {
	st := Status{
		Stats:          c.Stats(),
		PendingReports: c.reports.Total(),
		DSNConfigured:  c.dsn != nil,
	}
	if limits := c.limiter.Status(); len(limits) > 0 {
		st.RateLimits = make(map[string]time.Time, len(limits))
		for category, until := range limits {
			st.RateLimits[string(category)] = until
		}
	}
	return st
}

// Close stops the send queue, waiting for queued events until ctx is done,
// and releases the transport. Buffered aggregator data is not flushed; call
// FlushAll first.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) || c.queue == nil {
		return nil
	}
	var err error
	err = multierr.Append(err, c.queue.Stop(ctx))
	err = multierr.Append(err, c.transport.Close())
	return err
}

func (c *Client) queueLength() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Len()
}

func (c *Client) newEvent(kind Kind) *Event {
	ev := protocol.NewEvent(kind)
	ev.Timestamp = c.opts.Now()
	return ev
}

// prepare fills the fields every event of its kind must carry.
func (c *Client) prepare(ev *Event) {
	if ev.Kind == "" {
		ev.Kind = KindError
	}
	if ev.ID == "" {
		ev.ID = protocol.NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.opts.Now()
	}

	if ev.Kind != KindError && ev.Kind != KindTransaction {
		return
	}

	if ev.Platform == "" {
		ev.Platform = "go"
	}
	if ev.Kind == KindError && ev.Level == "" {
		ev.Level = LevelError
	}
	if ev.Environment == "" {
		ev.Environment = c.opts.Environment
	}
	if ev.Release == "" {
		ev.Release = c.opts.Release
	}
	if ev.Dist == "" {
		ev.Dist = c.opts.Dist
	}
	if ev.ServerName == "" {
		ev.ServerName = c.opts.ServerName
	}
	if ev.SDK == nil {
		sdk := c.sdk
		ev.SDK = &sdk
	}
}

// errorDSC builds the envelope trace header of an error event from the trace
// the event is linked to.
func (c *Client) errorDSC(ev *Event) {
	if ev.DynamicSamplingContext != nil || c.dsn == nil {
		return
	}
	dsc := tracing.NewDSC(c.dsn.PublicKey(), c.opts.Release, c.opts.Environment).Map()
	if dsc == nil {
		dsc = make(map[string]string, 1)
	}
	if id, ok := ev.Contexts["trace"]["trace_id"].(string); ok && id != "" {
		dsc["trace_id"] = id
	}
	ev.DynamicSamplingContext = dsc
}

// applyScope copies the scope, then the client default tags, onto error
// and transaction events.
func (c *Client) applyScope(ev *Event) {
	c.scope.apply(ev, ev.Kind == KindError)

	if len(c.opts.Tags) > 0 {
		tags := make(map[string]string, len(c.opts.Tags)+len(ev.Tags))
		for k, v := range c.opts.Tags {
			tags[k] = v
		}
		for k, v := range ev.Tags {
			tags[k] = v
		}
		ev.Tags = tags
	}

	if !c.opts.SendDefaultPII && ev.User != nil && ev.User.IPAddress == "{{auto}}" {
		u := *ev.User
		u.IPAddress = ""
		ev.User = &u
	}
}

// serialize bounds the free-form event data.
func (c *Client) serialize(ev *Event) {
	if len(ev.Extra) > 0 {
		extra := make(map[string]any, len(ev.Extra))
		for k, v := range ev.Extra {
			extra[k] = c.serializer.Serialize(v)
		}
		ev.Extra = extra
	}
	if len(ev.Contexts) > 0 {
		contexts := make(map[string]map[string]any, len(ev.Contexts))
		for name, ctx := range ev.Contexts {
			out := make(map[string]any, len(ctx))
			for k, v := range ctx {
				out[k] = c.serializer.Serialize(v)
			}
			contexts[name] = out
		}
		ev.Contexts = contexts
	}
}

// beforeSend runs the user hook for the event kind. A nil result drops the
// event as before_send, a panic as internal_sdk_error.
func (c *Client) beforeSend(ev *Event) (out *Event) {
	var hook func(*Event) *Event
	switch ev.Kind {
	case KindError:
		hook = c.opts.BeforeSend
	case KindTransaction:
		hook = c.opts.BeforeSendTransaction
	}
	if hook == nil {
		return ev
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("before_send callback panicked",
				zap.String("event_id", string(ev.ID)),
				zap.Any("panic", r))
			c.discard(ev, protocol.ReasonInternalError)
			out = nil
		}
	}()

	out = hook(ev)
	if out == nil {
		c.log.Debug("event dropped by before_send", zap.String("event_id", string(ev.ID)))
		c.discard(ev, protocol.ReasonBeforeSend)
		return nil
	}
	if out.Kind == "" {
		out.Kind = ev.Kind
	}
	if out.ID == "" {
		out.ID = ev.ID
	}
	return out
}

func (c *Client) discard(ev *Event, reason protocol.DiscardReason) {
	c.drops.Add(ev.Kind.Category(), reason, int64(ev.ItemCount()))
	for range ev.Attachments {
		c.drops.Add(protocol.CategoryAttachment, reason, 1)
	}
}

// dropTracker records drops in client reports and in the Prometheus
// collector. Drops of client reports themselves are never recorded.
type dropTracker struct {
	reports *clientreport.Aggregator
	metrics *metricsCollector
}

func (d dropTracker) Add(category protocol.Category, reason protocol.DiscardReason, quantity int64) {
	if category == protocol.CategoryInternal {
		return
	}
	d.reports.Add(category, reason, quantity)
	d.metrics.dropped(category, reason, quantity)
}

// nopCapturer is the capturer of disabled aggregators.
type nopCapturer struct{}

func (nopCapturer) CaptureEvent(*protocol.Event) *protocol.EventID { return nil }
