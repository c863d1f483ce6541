package tracing

import (
	"strconv"
)

// DSC keys, without the baggage prefix.
const (
	dscTraceID     = "trace_id"
	dscPublicKey   = "public_key"
	dscSampleRate  = "sample_rate"
	dscRelease     = "release"
	dscEnvironment = "environment"
	dscTransaction = "transaction"
	dscSampled     = "sampled"
)

// DynamicSamplingContext is the set of trace-wide values propagated in
// baggage and sent as the envelope "trace" header. Once it came from an
// incoming sentry baggage it is frozen and passed on unchanged.
type DynamicSamplingContext struct {
	entries map[string]string
	frozen  bool
}

// DSCFromBaggage returns the context carried by an incoming baggage. It is
// frozen when the baggage holds at least one sentry- member.
func DSCFromBaggage(b Baggage) DynamicSamplingContext {
	values := b.SentryValues()
	return DynamicSamplingContext{entries: values, frozen: len(values) > 0}
}

// NewDSC returns a mutable context seeded with the client-wide values.
func NewDSC(publicKey, release, environment string) DynamicSamplingContext {
	d := DynamicSamplingContext{entries: make(map[string]string, 7)}
	d.set(dscPublicKey, publicKey)
	d.set(dscRelease, release)
	d.set(dscEnvironment, environment)
	return d
}

// Frozen reports whether the context was inherited from upstream.
func (d DynamicSamplingContext) Frozen() bool { return d.frozen }

// IsZero reports whether the context holds no values.
func (d DynamicSamplingContext) IsZero() bool { return len(d.entries) == 0 }

// Get returns a single value.
func (d DynamicSamplingContext) Get(key string) string { return d.entries[key] }

// Map returns a copy of the values, used as the envelope trace header.
func (d DynamicSamplingContext) Map() map[string]string {
	if len(d.entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(d.entries))
	for k, v := range d.entries {
		out[k] = v
	}
	return out
}

// Baggage renders the outbound baggage header value.
func (d DynamicSamplingContext) Baggage() string {
	return EncodeBaggage(d.entries)
}

// withTrace returns a copy filled with the per-trace values. A frozen
// context is returned as is.
func (d DynamicSamplingContext) withTrace(traceID TraceID, transaction string, decision Decision) DynamicSamplingContext {
	if d.frozen {
		return d
	}
	out := DynamicSamplingContext{entries: d.Map()}
	if out.entries == nil {
		out.entries = make(map[string]string, 4)
	}
	out.set(dscTraceID, traceID.String())
	out.set(dscTransaction, transaction)
	if decision.HasRate {
		out.set(dscSampleRate, strconv.FormatFloat(decision.SampleRate, 'f', -1, 64))
	}
	if decision.Sampled.Defined() {
		out.set(dscSampled, strconv.FormatBool(decision.Sampled.Bool()))
	}
	return out
}

func (d *DynamicSamplingContext) set(key, value string) {
	if value == "" {
		delete(d.entries, key)
		return
	}
	d.entries[key] = value
}
