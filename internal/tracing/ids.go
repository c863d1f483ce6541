package tracing

import (
	"crypto/rand"
	"encoding/hex"
)

// TraceID identifies a trace.
type TraceID [16]byte

// SpanID identifies a span within a trace.
type SpanID [8]byte

// NewTraceID returns a random trace id.
func NewTraceID() TraceID {
	var id TraceID
	_, _ = rand.Read(id[:])
	return id
}

// NewSpanID returns a random span id.
func NewSpanID() SpanID {
	var id SpanID
	_, _ = rand.Read(id[:])
	return id
}

// IsZero reports whether id is the invalid all-zero id.
func (id TraceID) IsZero() bool { return id == TraceID{} }

// IsZero reports whether id is the invalid all-zero id.
func (id SpanID) IsZero() bool { return id == SpanID{} }

// String returns id encoded as lowercase hex.
func (id TraceID) String() string { return hex.EncodeToString(id[:]) }

// String returns id encoded as lowercase hex.
func (id SpanID) String() string { return hex.EncodeToString(id[:]) }

// MarshalText satisfies encoding.TextMarshaler.
func (id TraceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// MarshalText satisfies encoding.TextMarshaler.
func (id SpanID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// ParseTraceID decodes 32 hex characters. Anything else, including the zero
// id, is rejected.
func ParseTraceID(s string) (TraceID, bool) {
	var id TraceID
	if !decodeHex(id[:], s) || id.IsZero() {
		return TraceID{}, false
	}
	return id, true
}

// ParseSpanID decodes 16 hex characters. Anything else, including the zero
// id, is rejected.
func ParseSpanID(s string) (SpanID, bool) {
	var id SpanID
	if !decodeHex(id[:], s) || id.IsZero() {
		return SpanID{}, false
	}
	return id, true
}

func decodeHex(dst []byte, s string) bool {
	if len(s) != hex.EncodedLen(len(dst)) {
		return false
	}
	_, err := hex.Decode(dst, []byte(s))
	return err == nil
}

// Sampled is a tri-state sampling flag.
type Sampled int8

const (
	SampledUndefined Sampled = 0
	SampledFalse     Sampled = -1
	SampledTrue      Sampled = 1
)

// SampledFromBool converts a decided flag.
func SampledFromBool(b bool) Sampled {
	if b {
		return SampledTrue
	}
	return SampledFalse
}

// Bool reports whether the flag is SampledTrue.
func (s Sampled) Bool() bool { return s == SampledTrue }

// Defined reports whether a decision has been made.
func (s Sampled) Defined() bool { return s != SampledUndefined }
