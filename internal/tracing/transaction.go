package tracing

import (
	"time"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// Transaction sources that affect whether the name is propagated.
const (
	SourceCustom    = "custom"
	SourceURL       = "url"
	SourceRoute     = "route"
	SourceComponent = "component"
	SourceTask      = "task"
)

// TransactionContext describes a transaction before it starts.
type TransactionContext struct {
	Name        string
	Op          string
	Description string
	Source      string

	// TraceID and ParentSpanID continue an upstream trace when set.
	TraceID      TraceID
	ParentSpanID SpanID

	// Sampled forces the decision. ParentSampled is the upstream one.
	Sampled       Sampled
	ParentSampled Sampled

	DSC       DynamicSamplingContext
	Tags      map[string]string
	Data      map[string]any
	StartTime time.Time
}

// ContinueFromHeaders builds a context continuing the trace described by
// incoming headers. sentry-trace wins over traceparent. Baggage is only
// honored together with a valid trace header.
func ContinueFromHeaders(sentryTrace, traceparent, baggage string) TransactionContext {
	pc, ok := ParseSentryTrace(sentryTrace)
	if !ok {
		pc, ok = ParseTraceparent(traceparent)
	}
	if !ok {
		return TransactionContext{}
	}
	return TransactionContext{
		TraceID:       pc.TraceID,
		ParentSpanID:  pc.ParentSpanID,
		ParentSampled: pc.ParentSampled,
		DSC:           DSCFromBaggage(ParseBaggage(baggage)),
	}
}

// Transaction is the root span of a trace segment. It owns the recorder
// every descendant registers with.
type Transaction struct {
	*Span

	Name   string
	Source string

	decision Decision
	dsc      DynamicSamplingContext
	recorder *Recorder
	capturer protocol.Capturer
	drops    protocol.DropRecorder
}

// SetName renames the transaction.
func (t *Transaction) SetName(name, source string) {
	t.mu.Lock()
	t.Name, t.Source = name, source
	t.mu.Unlock()
}

// Decision returns the sampling decision the transaction started with.
func (t *Transaction) Decision() Decision { return t.decision }

// SpanRecorder returns the recorder shared by the whole span tree.
func (t *Transaction) SpanRecorder() *Recorder { return t.recorder }

// DynamicSamplingContext returns the context propagated downstream and sent
// with the transaction.
func (t *Transaction) DynamicSamplingContext() DynamicSamplingContext {
	t.mu.Lock()
	name, source := t.Name, t.Source
	t.mu.Unlock()
	if source == SourceURL {
		name = ""
	}
	return t.dsc.withTrace(t.TraceID, name, t.decision)
}

// Finish ends the transaction. A sampled transaction is turned into one
// event carrying every finished descendant and handed to the capturer. The
// event id is returned, nil in every other case.
func (t *Transaction) Finish() *protocol.EventID {
	if !t.Span.finish(time.Time{}) {
		return nil
	}
	if !t.Sampled.Bool() || t.capturer == nil {
		return nil
	}
	if n := t.recorder.Dropped(); n > 0 && t.drops != nil {
		t.drops.Add(protocol.CategorySpan, protocol.ReasonBufferOverflow, int64(n))
	}
	return t.capturer.CaptureEvent(t.toEvent())
}

func (t *Transaction) toEvent() *protocol.Event {
	root := t.ToProtocol()
	dsc := t.DynamicSamplingContext()

	ev := protocol.NewEvent(protocol.KindTransaction)
	ev.Type = string(protocol.KindTransaction)
	t.mu.Lock()
	ev.Transaction = t.Name
	ev.StartTimestamp = t.startTime
	ev.Timestamp = t.endTime
	t.mu.Unlock()
	ev.Tags = root.Tags

	trace := map[string]any{
		"trace_id": root.TraceID,
		"span_id":  root.SpanID,
	}
	if root.ParentSpanID != "" {
		trace["parent_span_id"] = root.ParentSpanID
	}
	if root.Op != "" {
		trace["op"] = root.Op
	}
	if root.Description != "" {
		trace["description"] = root.Description
	}
	if root.Status != "" {
		trace["status"] = root.Status
	}
	if root.Origin != "" {
		trace["origin"] = root.Origin
	}
	if len(root.Data) > 0 {
		trace["data"] = root.Data
	}
	ev.Contexts = map[string]map[string]any{"trace": trace}

	for _, s := range t.recorder.Spans() {
		if s == t.Span || !s.IsFinished() {
			continue
		}
		ev.Spans = append(ev.Spans, s.ToProtocol())
	}
	ev.DynamicSamplingContext = dsc.Map()
	return ev
}
