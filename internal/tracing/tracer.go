package tracing

import (
	"time"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// TracerOptions configures a Tracer.
type TracerOptions struct {
	Engine   *Engine
	Capturer protocol.Capturer
	Drops    protocol.DropRecorder
	MaxSpans int

	PublicKey   string
	Release     string
	Environment string

	Now func() time.Time
}

// Tracer starts transactions and standalone spans with sampling decided.
type Tracer struct {
	opts TracerOptions
}

// NewTracer returns a Tracer. A nil Engine samples nothing unless the
// context carries a decision.
func NewTracer(opts TracerOptions) *Tracer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxSpans < 1 {
		opts.MaxSpans = DefaultMaxSpans
	}
	return &Tracer{opts: opts}
}

// StartTransaction decides sampling for ctx and starts the root span.
func (tr *Tracer) StartTransaction(ctx TransactionContext) *Transaction {
	decision := tr.opts.Engine.Decide(ctx)

	span := newSpan(ctx.Op, tr.opts.Now, nil)
	span.TraceID = ctx.TraceID
	if span.TraceID.IsZero() {
		span.TraceID = NewTraceID()
	}
	span.ParentSpanID = ctx.ParentSpanID
	span.Sampled = decision.Sampled
	span.Description = ctx.Description
	span.startTime = ctx.StartTime
	for k, v := range ctx.Tags {
		span.SetTag(k, v)
	}
	for k, v := range ctx.Data {
		span.SetData(k, v)
	}

	dsc := ctx.DSC
	if !dsc.Frozen() {
		dsc = NewDSC(tr.opts.PublicKey, tr.opts.Release, tr.opts.Environment)
	}
	source := ctx.Source
	if source == "" {
		source = SourceCustom
	}

	t := &Transaction{
		Span:     span,
		Name:     ctx.Name,
		Source:   source,
		decision: decision,
		dsc:      dsc,
		recorder: newRecorder(tr.opts.MaxSpans),
		capturer: tr.opts.Capturer,
		drops:    tr.opts.Drops,
	}
	span.root = t
	t.recorder.record(span)
	span.start()

	if !decision.Sampled.Bool() && tr.opts.Drops != nil {
		tr.opts.Drops.Add(protocol.CategoryTransaction, protocol.ReasonSampleRate, 1)
	}
	return t
}

// StartSpan starts a span outside any transaction. onFinish is called once
// for it and for each of its descendants when they finish, provided they
// are sampled.
func (tr *Tracer) StartSpan(op string, onFinish func(*Span), opts ...SpanOption) *Span {
	decision := tr.opts.Engine.Decide(TransactionContext{Op: op})
	s := newSpan(op, tr.opts.Now, opts)
	s.TraceID = NewTraceID()
	s.Sampled = decision.Sampled
	if decision.Sampled.Bool() {
		s.onFinish = onFinish
	} else if tr.opts.Drops != nil {
		tr.opts.Drops.Add(protocol.CategorySpan, protocol.ReasonSampleRate, 1)
	}
	s.start()
	return s
}
