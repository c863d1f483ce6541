package tracing

import (
	"net/url"
	"sort"
	"strings"
)

// Header names used for trace propagation.
const (
	SentryTraceHeader = "sentry-trace"
	TraceparentHeader = "traceparent"
	BaggageHeader     = "baggage"
)

// SentryBaggagePrefix marks baggage members owned by this client.
const SentryBaggagePrefix = "sentry-"

// PropagationContext is the state decoded from incoming trace headers.
type PropagationContext struct {
	TraceID       TraceID
	ParentSpanID  SpanID
	ParentSampled Sampled
}

// FormatSentryTrace encodes the sentry-trace header. The sampled segment is
// omitted while the decision is deferred.
func FormatSentryTrace(traceID TraceID, spanID SpanID, sampled Sampled) string {
	var b strings.Builder
	b.Grow(51)
	b.WriteString(traceID.String())
	b.WriteByte('-')
	b.WriteString(spanID.String())
	switch sampled {
	case SampledTrue:
		b.WriteString("-1")
	case SampledFalse:
		b.WriteString("-0")
	}
	return b.String()
}

// ParseSentryTrace decodes a sentry-trace header. Malformed input yields
// ok == false.
func ParseSentryTrace(h string) (PropagationContext, bool) {
	parts := strings.Split(strings.TrimSpace(h), "-")
	if len(parts) < 2 || len(parts) > 3 {
		return PropagationContext{}, false
	}
	traceID, ok := ParseTraceID(strings.ToLower(parts[0]))
	if !ok {
		return PropagationContext{}, false
	}
	spanID, ok := ParseSpanID(strings.ToLower(parts[1]))
	if !ok {
		return PropagationContext{}, false
	}
	pc := PropagationContext{TraceID: traceID, ParentSpanID: spanID}
	if len(parts) == 3 {
		switch parts[2] {
		case "1":
			pc.ParentSampled = SampledTrue
		case "0":
			pc.ParentSampled = SampledFalse
		default:
			return PropagationContext{}, false
		}
	}
	return pc, true
}

// FormatTraceparent encodes a W3C traceparent header. An undecided trace is
// sent with the sampled flag cleared.
func FormatTraceparent(traceID TraceID, spanID SpanID, sampled Sampled) string {
	flags := "00"
	if sampled.Bool() {
		flags = "01"
	}
	return "00-" + traceID.String() + "-" + spanID.String() + "-" + flags
}

// ParseTraceparent decodes a W3C traceparent header of version 00. Future
// versions are accepted as long as the leading fields are well formed.
func ParseTraceparent(h string) (PropagationContext, bool) {
	parts := strings.Split(strings.TrimSpace(h), "-")
	if len(parts) < 4 {
		return PropagationContext{}, false
	}
	version := parts[0]
	if len(version) != 2 || version == "ff" || !isHex(version) {
		return PropagationContext{}, false
	}
	if version == "00" && len(parts) != 4 {
		return PropagationContext{}, false
	}
	traceID, ok := ParseTraceID(parts[1])
	if !ok {
		return PropagationContext{}, false
	}
	spanID, ok := ParseSpanID(parts[2])
	if !ok {
		return PropagationContext{}, false
	}
	flags := parts[3]
	if len(flags) != 2 || !isHex(flags) {
		return PropagationContext{}, false
	}
	sampled := SampledFalse
	if hexNibble(flags[1])&1 == 1 {
		sampled = SampledTrue
	}
	return PropagationContext{TraceID: traceID, ParentSpanID: spanID, ParentSampled: sampled}, true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if hexNibble(s[i]) > 15 {
			return false
		}
	}
	return true
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0xff
}

// Member is a single baggage list member.
type Member struct {
	Key   string
	Value string
	// Raw is the member as it appeared on the wire, properties included.
	Raw string
}

// Baggage is a decoded baggage header. Member order is preserved.
type Baggage struct {
	members []Member
}

// ParseBaggage decodes a baggage header. Members that do not have the
// key=value shape are skipped.
func ParseBaggage(h string) Baggage {
	var b Baggage
	for _, raw := range strings.Split(h, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		kv, _, _ := strings.Cut(raw, ";")
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSpace(k))
		if err != nil || key == "" {
			continue
		}
		value, err := url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		b.members = append(b.members, Member{Key: key, Value: value, Raw: raw})
	}
	return b
}

// Members returns a copy of every member, third-party ones included.
func (b Baggage) Members() []Member {
	out := make([]Member, len(b.members))
	copy(out, b.members)
	return out
}

// Get returns the value of the first member named key.
func (b Baggage) Get(key string) (string, bool) {
	for _, m := range b.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return "", false
}

// SentryValues returns the sentry- members keyed without the prefix.
func (b Baggage) SentryValues() map[string]string {
	var out map[string]string
	for _, m := range b.members {
		if !strings.HasPrefix(m.Key, SentryBaggagePrefix) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[strings.TrimPrefix(m.Key, SentryBaggagePrefix)] = m.Value
	}
	return out
}

// ThirdParty returns the members not owned by this client, verbatim.
func (b Baggage) ThirdParty() string {
	var raw []string
	for _, m := range b.members {
		if !strings.HasPrefix(m.Key, SentryBaggagePrefix) {
			raw = append(raw, m.Raw)
		}
	}
	return strings.Join(raw, ",")
}

// EncodeBaggage renders sentry- members from values keyed without the
// prefix, sorted by key. Empty values are skipped.
func EncodeBaggage(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(SentryBaggagePrefix)
		b.WriteString(escapeBaggage(k))
		b.WriteByte('=')
		b.WriteString(escapeBaggage(values[k]))
	}
	return b.String()
}

func escapeBaggage(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
