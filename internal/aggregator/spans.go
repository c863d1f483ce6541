package aggregator

import (
	"time"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/ringbuffer"
	"github.com/your-org/roadrunner-sentry/internal/tracing"
)

// DefaultSpanBufferSize is the number of standalone spans kept between
// flushes.
const DefaultSpanBufferSize = 1000

// Spans buffers finished standalone spans.
type Spans struct {
	buf      *ringbuffer.RingBuffer[*protocol.Span]
	drops    protocol.DropRecorder
	capturer protocol.Capturer
	now      func() time.Time
}

// NewSpans returns a Spans aggregator flushing into c. A size of zero
// selects DefaultSpanBufferSize.
func NewSpans(size int, drops protocol.DropRecorder, c protocol.Capturer) (*Spans, error) {
	if size == 0 {
		size = DefaultSpanBufferSize
	}
	buf, err := ringbuffer.New[*protocol.Span](size)
	if err != nil {
		return nil, err
	}
	return &Spans{buf: buf, drops: drops, capturer: c, now: time.Now}, nil
}

// Add buffers a finished span. It is meant to be the finish hook of
// tracing.Tracer.StartSpan.
func (s *Spans) Add(span *tracing.Span) {
	item := span.ToProtocol()
	item.IsSegment = item.ParentSpanID == ""
	if s.buf.Push(item) && s.drops != nil {
		s.drops.Add(protocol.CategorySpan, protocol.ReasonBufferOverflow, 1)
	}
}

// Len returns the number of buffered spans.
func (s *Spans) Len() int { return s.buf.Count() }

// Flush hands every buffered span to the capturer as one span event.
func (s *Spans) Flush() *protocol.EventID {
	items := s.buf.Drain()
	if len(items) == 0 {
		return nil
	}
	ev := protocol.NewEvent(protocol.KindSpan)
	ev.Timestamp = s.now()
	ev.SpanItems = items
	return s.capturer.CaptureEvent(ev)
}
