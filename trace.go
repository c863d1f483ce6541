package sentry

import (
	"github.com/your-org/roadrunner-sentry/internal/aggregator"
	"github.com/your-org/roadrunner-sentry/internal/tracing"
)

// TraceScope links the errors, logs and transactions of one unit of work to
// the trace it continues. Each request gets its own TraceScope, so
// concurrent requests never see each other's trace.
type TraceScope struct {
	client *Client
	ctx    TransactionContext
	spanID tracing.SpanID
}

// WithTrace returns a TraceScope for tc, usually the result of ContinueTrace.
// A context without a trace id starts a new trace.
func (c *Client) WithTrace(tc TransactionContext) *TraceScope {
	if tc.TraceID.IsZero() {
		tc.TraceID = tracing.NewTraceID()
	}
	return &TraceScope{client: c, ctx: tc, spanID: tracing.NewSpanID()}
}

// TraceID is the trace everything captured through ts belongs to.
func (ts *TraceScope) TraceID() tracing.TraceID { return ts.ctx.TraceID }

// TransactionContext returns the context the scope was created from, with
// its trace id filled in.
func (ts *TraceScope) TransactionContext() TransactionContext { return ts.ctx }

// StartTransaction starts a transaction continuing the scope's trace.
func (ts *TraceScope) StartTransaction(name, op string) *Transaction {
	tc := ts.ctx
	tc.Name, tc.Op = name, op
	return ts.client.StartTransaction(tc)
}

// CaptureEvent links ev to the scope's trace unless it already carries a
// trace context, then captures it.
func (ts *TraceScope) CaptureEvent(ev *Event) *EventID {
	if ev == nil {
		return nil
	}
	if _, ok := ev.Contexts["trace"]; !ok {
		trace := map[string]any{
			"trace_id": ts.ctx.TraceID.String(),
			"span_id":  ts.spanID.String(),
		}
		if !ts.ctx.ParentSpanID.IsZero() {
			trace["parent_span_id"] = ts.ctx.ParentSpanID.String()
		}
		contexts := make(map[string]map[string]any, len(ev.Contexts)+1)
		for k, v := range ev.Contexts {
			contexts[k] = v
		}
		contexts["trace"] = trace
		ev.Contexts = contexts

		if ev.DynamicSamplingContext == nil && ts.ctx.DSC.Frozen() {
			ev.DynamicSamplingContext = ts.ctx.DSC.Map()
		}
	}
	return ts.client.CaptureEvent(ev)
}

// CaptureMessage captures a message event on the scope's trace.
func (ts *TraceScope) CaptureMessage(message string, level Level) *EventID {
	if level == "" {
		level = LevelInfo
	}
	ev := ts.client.newEvent(KindError)
	ev.Message = message
	ev.Level = level
	return ts.CaptureEvent(ev)
}

// CaptureError captures err on the scope's trace.
func (ts *TraceScope) CaptureError(err error) *EventID {
	if err == nil {
		return nil
	}
	return ts.CaptureEvent(ts.client.errorEvent(err, 1))
}

// Log buffers a log record on the scope's trace.
func (ts *TraceScope) Log(level, body string, attrs map[string]any) {
	ts.client.logs.AddRecord(aggregator.LogRecord{
		Level:      level,
		Body:       body,
		Attributes: attrs,
		TraceID:    ts.ctx.TraceID.String(),
	})
}
