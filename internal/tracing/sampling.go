package tracing

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// TracesSampler returns the sample rate for a transaction. The result is
// clamped to [0,1] and drawn against.
type TracesSampler func(ctx SamplingContext) float64

// SamplingContext is handed to a TracesSampler.
type SamplingContext struct {
	Transaction   TransactionContext
	ParentSampled Sampled
}

// Decision is the outcome of Engine.Decide.
type Decision struct {
	Sampled Sampled
	// SampleRate is the rate the decision was drawn with, when it was
	// drawn.
	SampleRate float64
	HasRate    bool
}

// Engine decides whether a trace is sampled. The precedence, highest first:
// an explicit flag on the transaction context, the parent's decision
// propagated through a header, the TracesSampler, the numeric rate, and
// finally "not sampled" when nothing is configured.
type Engine struct {
	rate    float64
	hasRate bool
	sampler TracesSampler
	log     *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine returns an Engine. rate may be nil when only a sampler, or
// nothing, is configured. A nil source selects a time seeded one.
func NewEngine(rate *float64, sampler TracesSampler, source rand.Source, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{sampler: sampler, log: log}
	if rate != nil {
		if *rate < 0 || *rate > 1 {
			return nil, fmt.Errorf("%w: sample rate %v out of range [0,1]", protocol.ErrInvalidConfiguration, *rate)
		}
		e.rate, e.hasRate = *rate, true
	}
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}
	e.rng = rand.New(source)
	return e, nil
}

// Decide computes the sampling decision for a new transaction.
func (e *Engine) Decide(ctx TransactionContext) Decision {
	if ctx.Sampled.Defined() {
		return Decision{Sampled: ctx.Sampled, SampleRate: rateOf(ctx.Sampled), HasRate: true}
	}
	if ctx.ParentSampled.Defined() {
		return Decision{Sampled: ctx.ParentSampled, SampleRate: rateOf(ctx.ParentSampled), HasRate: true}
	}
	if e == nil {
		return Decision{Sampled: SampledFalse}
	}
	if e.sampler != nil {
		if rate, ok := e.callSampler(SamplingContext{Transaction: ctx, ParentSampled: ctx.ParentSampled}); ok {
			return e.draw(rate)
		}
	}
	if e.hasRate {
		return e.draw(e.rate)
	}
	return Decision{Sampled: SampledFalse}
}

// Sample draws once against rate. It is used for error events.
func (e *Engine) Sample(rate float64) bool {
	return e.draw(rate).Sampled.Bool()
}

func (e *Engine) draw(rate float64) Decision {
	rate = clamp(rate)
	e.mu.Lock()
	v := e.rng.Float64()
	e.mu.Unlock()
	return Decision{Sampled: SampledFromBool(v < rate), SampleRate: rate, HasRate: true}
}

func (e *Engine) callSampler(ctx SamplingContext) (rate float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("traces sampler panicked, falling back to the sample rate",
				zap.String("transaction", ctx.Transaction.Name),
				zap.Any("panic", r))
			rate, ok = 0, false
		}
	}()
	return e.sampler(ctx), true
}

func clamp(rate float64) float64 {
	switch {
	case rate != rate, rate < 0:
		return 0
	case rate > 1:
		return 1
	}
	return rate
}

func rateOf(s Sampled) float64 {
	if s.Bool() {
		return 1
	}
	return 0
}
