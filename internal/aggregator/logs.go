package aggregator

import (
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/ringbuffer"
	"github.com/your-org/roadrunner-sentry/internal/serializer"
)

// DefaultLogBufferSize is the number of log records kept between flushes.
const DefaultLogBufferSize = 1000

// Log levels accepted by Logs.Add.
const (
	LogTrace = "trace"
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
	LogFatal = "fatal"
)

// LogOptions configures Logs.
type LogOptions struct {
	BufferSize  int
	Environment string
	Release     string
	ServerName  string
	SDK         protocol.SDKInfo

	// TraceID returns the trace the record belongs to when the record does
	// not carry one.
	TraceID func() string

	Serializer *serializer.Serializer
	Drops      protocol.DropRecorder
	Now        func() time.Time
	Logger     *zap.Logger
}

// LogRecord is a log entry before it is typed for the wire.
type LogRecord struct {
	Level      string
	Body       string
	Attributes map[string]any
	TraceID    string
	Timestamp  time.Time
}

// Logs buffers log records in a ring buffer. Records evicted before a flush
// are reported as buffer_overflow.
type Logs struct {
	opts     LogOptions
	buf      *ringbuffer.RingBuffer[*protocol.Log]
	defaults map[string]protocol.LogAttribute
	capturer protocol.Capturer
}

// NewLogs returns a Logs aggregator flushing into c.
func NewLogs(opts LogOptions, c protocol.Capturer) (*Logs, error) {
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultLogBufferSize
	}
	buf, err := ringbuffer.New[*protocol.Log](opts.BufferSize)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Serializer == nil {
		opts.Serializer = serializer.New(0, 0)
	}

	defaults := make(map[string]protocol.LogAttribute, 5)
	for k, v := range map[string]string{
		"sentry.environment":    opts.Environment,
		"sentry.release":        opts.Release,
		"sentry.sdk.name":       opts.SDK.Name,
		"sentry.sdk.version":    opts.SDK.Version,
		"sentry.server.address": opts.ServerName,
	} {
		if v != "" {
			defaults[k] = protocol.NewLogAttribute(v)
		}
	}

	return &Logs{opts: opts, buf: buf, defaults: defaults, capturer: c}, nil
}

// Add records a log entry.
func (l *Logs) Add(level, body string, attrs map[string]any) {
	l.AddRecord(LogRecord{Level: level, Body: body, Attributes: attrs})
}

// AddRecord records a log entry with an explicit trace or timestamp.
func (l *Logs) AddRecord(r LogRecord) {
	if r.Timestamp.IsZero() {
		r.Timestamp = l.opts.Now()
	}
	if r.TraceID == "" && l.opts.TraceID != nil {
		r.TraceID = l.opts.TraceID()
	}
	if r.Level == "" {
		r.Level = LogInfo
	}

	item := &protocol.Log{
		Timestamp:      protocol.UnixSeconds(r.Timestamp),
		TraceID:        r.TraceID,
		Level:          r.Level,
		SeverityNumber: protocol.LogSeverityNumber(r.Level),
		Body:           r.Body,
		Attributes:     make(map[string]protocol.LogAttribute, len(r.Attributes)+len(l.defaults)),
	}
	for k, v := range r.Attributes {
		item.Attributes[k] = l.attribute(v)
	}
	for k, v := range l.defaults {
		item.Attributes[k] = v
	}

	if l.buf.Push(item) && l.opts.Drops != nil {
		l.opts.Drops.Add(protocol.CategoryLogItem, protocol.ReasonBufferOverflow, 1)
	}
}

func (l *Logs) attribute(v any) protocol.LogAttribute {
	switch v.(type) {
	case nil, bool, string, float32, float64,
		int, int8, int16, int32, int64, uint8, uint16, uint32:
		return protocol.NewLogAttribute(v)
	}
	raw, err := json.Marshal(l.opts.Serializer.Serialize(v))
	if err != nil {
		l.opts.Logger.Debug("log attribute encoding failed", zap.Error(err))
		return protocol.NewLogAttribute(serializer.Unserializable)
	}
	return protocol.NewLogAttribute(string(raw))
}

// Len returns the number of buffered records.
func (l *Logs) Len() int { return l.buf.Count() }

// Flush hands every buffered record to the capturer as one log event.
func (l *Logs) Flush() *protocol.EventID {
	items := l.buf.Drain()
	if len(items) == 0 {
		return nil
	}
	ev := protocol.NewEvent(protocol.KindLog)
	ev.Timestamp = l.opts.Now()
	ev.Logs = items
	return l.capturer.CaptureEvent(ev)
}
