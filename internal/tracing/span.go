package tracing

import (
	"sync"
	"time"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// DefaultMaxSpans is the recorder capacity of a transaction.
const DefaultMaxSpans = 1000

type spanState uint8

const (
	stateCreated spanState = iota
	stateStarted
	stateFinished
)

// SpanOption configures a span before it starts.
type SpanOption func(*Span)

// WithDescription sets the span description.
func WithDescription(description string) SpanOption {
	return func(s *Span) { s.Description = description }
}

// WithStartTime overrides the start timestamp.
func WithStartTime(t time.Time) SpanOption {
	return func(s *Span) { s.startTime = t }
}

// WithOrigin sets the instrumentation origin.
func WithOrigin(origin string) SpanOption {
	return func(s *Span) { s.Origin = origin }
}

// WithSpanData sets a data entry.
func WithSpanData(key string, value any) SpanOption {
	return func(s *Span) {
		if s.Data == nil {
			s.Data = make(map[string]any)
		}
		s.Data[key] = value
	}
}

// Span is a timed unit of work. The identifying fields are set at creation
// and must not be modified afterwards; mutable state goes through methods.
type Span struct {
	TraceID      TraceID
	SpanID       SpanID
	ParentSpanID SpanID
	Op           string
	Sampled      Sampled

	mu          sync.Mutex
	Description string
	Status      SpanStatus
	Origin      string
	Tags        map[string]string
	Data        map[string]any
	startTime   time.Time
	endTime     time.Time
	state       spanState

	// root is the transaction owning the recorder for this subtree; nil for
	// standalone spans.
	root     *Transaction
	now      func() time.Time
	onFinish func(*Span)
}

func newSpan(op string, now func() time.Time, opts []SpanOption) *Span {
	if now == nil {
		now = time.Now
	}
	s := &Span{Op: op, SpanID: NewSpanID(), now: now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// start moves a created span to started. A start time given through
// WithStartTime is kept.
func (s *Span) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateCreated {
		return
	}
	if s.startTime.IsZero() {
		s.startTime = s.now()
	}
	s.state = stateStarted
}

// StartChild starts a span below s. The child shares the trace id and the
// sampling decision of s and is registered with the recorder of the owning
// transaction, unless s already finished or the recorder is full.
func (s *Span) StartChild(op string, opts ...SpanOption) *Span {
	child := newSpan(op, s.now, opts)
	child.TraceID = s.TraceID
	child.ParentSpanID = s.SpanID
	child.Sampled = s.Sampled

	s.mu.Lock()
	finished := s.state == stateFinished
	child.root = s.root
	child.onFinish = s.onFinish
	s.mu.Unlock()

	if !finished && child.root != nil {
		child.root.recorder.record(child)
	}
	child.start()
	return child
}

// Finish records the end timestamp. Only the first call has an effect.
func (s *Span) Finish() {
	s.finish(time.Time{})
}

// FinishAt is Finish with an explicit end timestamp.
func (s *Span) FinishAt(end time.Time) {
	s.finish(end)
}

func (s *Span) finish(end time.Time) bool {
	s.mu.Lock()
	if s.state == stateFinished {
		s.mu.Unlock()
		return false
	}
	if s.startTime.IsZero() {
		s.startTime = s.now()
	}
	if end.IsZero() {
		end = s.now()
	}
	s.endTime = end
	s.state = stateFinished
	hook := s.onFinish
	s.mu.Unlock()

	if hook != nil && s.root == nil {
		hook(s)
	}
	return true
}

// IsFinished reports whether Finish was called.
func (s *Span) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateFinished
}

// StartTime returns the start timestamp.
func (s *Span) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// EndTime returns the end timestamp, zero while the span is open.
func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// SetTag sets a tag.
func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// SetData sets a data entry.
func (s *Span) SetData(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
}

// SetStatus sets the span status.
func (s *Span) SetStatus(status SpanStatus) {
	s.mu.Lock()
	s.Status = status
	s.mu.Unlock()
}

// SetHTTPStatus records the response code and derives the status from it.
func (s *Span) SetHTTPStatus(code int) {
	s.SetData("http.response.status_code", code)
	s.SetStatus(StatusFromHTTP(code))
}

// Transaction returns the transaction owning s, nil for standalone spans.
func (s *Span) Transaction() *Transaction { return s.root }

// ToSentryTrace renders the outbound sentry-trace header.
func (s *Span) ToSentryTrace() string {
	return FormatSentryTrace(s.TraceID, s.SpanID, s.Sampled)
}

// ToTraceparent renders the outbound W3C traceparent header.
func (s *Span) ToTraceparent() string {
	return FormatTraceparent(s.TraceID, s.SpanID, s.Sampled)
}

// ToBaggage renders the outbound baggage header of the owning transaction.
func (s *Span) ToBaggage() string {
	if s.root == nil {
		return ""
	}
	return s.root.DynamicSamplingContext().Baggage()
}

// ToProtocol returns the wire form of the span.
func (s *Span) ToProtocol() *protocol.Span {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &protocol.Span{
		TraceID:        s.TraceID.String(),
		SpanID:         s.SpanID.String(),
		Op:             s.Op,
		Description:    s.Description,
		Status:         string(s.Status),
		Origin:         s.Origin,
		StartTimestamp: protocol.UnixSeconds(s.startTime),
		Timestamp:      protocol.UnixSeconds(s.endTime),
	}
	if !s.ParentSpanID.IsZero() {
		out.ParentSpanID = s.ParentSpanID.String()
	}
	if len(s.Tags) > 0 {
		out.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			out.Tags[k] = v
		}
	}
	if len(s.Data) > 0 {
		out.Data = make(map[string]any, len(s.Data))
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Recorder is the arena of spans belonging to one transaction. Spans are
// kept in registration order and looked up by id.
type Recorder struct {
	mu      sync.Mutex
	max     int
	order   []SpanID
	spans   map[SpanID]*Span
	dropped int
}

func newRecorder(max int) *Recorder {
	if max < 1 {
		max = DefaultMaxSpans
	}
	return &Recorder{max: max, spans: make(map[SpanID]*Span)}
}

func (r *Recorder) record(s *Span) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) >= r.max {
		r.dropped++
		return false
	}
	if _, ok := r.spans[s.SpanID]; ok {
		return false
	}
	r.order = append(r.order, s.SpanID)
	r.spans[s.SpanID] = s
	return true
}

// Spans returns the recorded spans in registration order.
func (r *Recorder) Spans() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Span, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.spans[id])
	}
	return out
}

// Lookup returns a recorded span by id.
func (r *Recorder) Lookup(id SpanID) (*Span, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spans[id]
	return s, ok
}

// Dropped is the number of spans not recorded because the recorder was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
