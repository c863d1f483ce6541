package protocol

import (
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"
)

// Kind discriminates the payload an Event carries. The values double as the
// envelope item type.
type Kind string

const (
	KindError        Kind = "event"
	KindTransaction  Kind = "transaction"
	KindLog          Kind = "log"
	KindMetric       Kind = "statsd"
	KindSpan         Kind = "span"
	KindProfile      Kind = "profile"
	KindProfileChunk Kind = "profile_chunk"
	KindClientReport Kind = "client_report"
	KindCheckIn      Kind = "check_in"
)

// Level is the severity of an event or breadcrumb.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// Event is a single unit handed to the transport. The JSON encoding produced by
// MarshalJSON is the payload of "event" and "transaction" items; other kinds
// carry their payload in the kind specific fields and are encoded by the
// envelope codec.
type Event struct {
	ID          EventID                   `json:"event_id"`
	Kind        Kind                      `json:"-"`
	Type        string                    `json:"type,omitempty"`
	Timestamp   time.Time                 `json:"-"`
	Level       Level                     `json:"level,omitempty"`
	Platform    string                    `json:"platform,omitempty"`
	Logger      string                    `json:"logger,omitempty"`
	ServerName  string                    `json:"server_name,omitempty"`
	Release     string                    `json:"release,omitempty"`
	Dist        string                    `json:"dist,omitempty"`
	Environment string                    `json:"environment,omitempty"`
	Message     string                    `json:"message,omitempty"`
	Exception   []Exception               `json:"exception,omitempty"`
	Fingerprint []string                  `json:"fingerprint,omitempty"`
	Tags        map[string]string         `json:"tags,omitempty"`
	Extra       map[string]any            `json:"extra,omitempty"`
	Contexts    map[string]map[string]any `json:"contexts,omitempty"`
	User        *User                     `json:"user,omitempty"`
	Breadcrumbs []Breadcrumb              `json:"breadcrumbs,omitempty"`
	SDK         *SDKInfo                  `json:"sdk,omitempty"`

	// transaction only
	Transaction    string    `json:"transaction,omitempty"`
	StartTimestamp time.Time `json:"-"`
	Spans          []*Span   `json:"spans,omitempty"`

	Logs          []*Log          `json:"-"`
	MetricBuckets []*MetricBucket `json:"-"`
	SpanItems     []*Span         `json:"-"`
	Profile       json.RawMessage `json:"-"`
	ClientReport  *ClientReport   `json:"-"`
	CheckIn       *CheckIn        `json:"-"`
	Attachments   []*Attachment   `json:"-"`

	// DynamicSamplingContext is sent as the envelope "trace" header.
	DynamicSamplingContext map[string]string `json:"-"`
}

// NewEvent returns an event of the given kind with a fresh id and timestamp.
func NewEvent(kind Kind) *Event {
	return &Event{
		ID:        NewEventID(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// MarshalJSON encodes timestamps as fractional unix seconds and omits the
// start timestamp outside transactions.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	out := struct {
		*Alias
		Timestamp      float64 `json:"timestamp"`
		StartTimestamp float64 `json:"start_timestamp,omitempty"`
	}{
		Alias:     (*Alias)(e),
		Timestamp: UnixSeconds(e.Timestamp),
	}
	if !e.StartTimestamp.IsZero() {
		out.StartTimestamp = UnixSeconds(e.StartTimestamp)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts timestamps as fractional unix seconds or RFC3339
// strings.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	in := struct {
		*Alias
		Timestamp      json.RawMessage `json:"timestamp"`
		StartTimestamp json.RawMessage `json:"start_timestamp"`
	}{Alias: (*Alias)(e)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var err error
	if e.Timestamp, err = parseTimestamp(in.Timestamp); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if e.StartTimestamp, err = parseTimestamp(in.StartTimestamp); err != nil {
		return fmt.Errorf("start_timestamp: %w", err)
	}
	return nil
}

// ItemCount is the number of telemetry units carried by the event, used as
// the quantity when the event is dropped.
func (e *Event) ItemCount() int {
	switch e.Kind {
	case KindLog:
		return len(e.Logs)
	case KindMetric:
		return len(e.MetricBuckets)
	case KindSpan:
		return len(e.SpanItems)
	default:
		return 1
	}
}

// UnixSeconds converts t to fractional seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	var sec float64
	if err := json.Unmarshal(raw, &sec); err != nil {
		return time.Time{}, err
	}
	return FromUnixSeconds(sec), nil
}

// FromUnixSeconds is the inverse of UnixSeconds, precise to the microsecond.
func FromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}

// User identifies the user affected by an event.
type User struct {
	ID        string            `json:"id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Username  string            `json:"username,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// SDKInfo identifies this client in events and envelope headers.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Breadcrumb is a trail entry recorded before an event.
type Breadcrumb struct {
	Type      string         `json:"type,omitempty"`
	Level     Level          `json:"level,omitempty"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"-"`
}

// MarshalJSON encodes the timestamp as fractional unix seconds.
func (b Breadcrumb) MarshalJSON() ([]byte, error) {
	type Alias Breadcrumb
	return json.Marshal(struct {
		*Alias
		Timestamp float64 `json:"timestamp"`
	}{Alias: (*Alias)(&b), Timestamp: UnixSeconds(b.Timestamp)})
}

// UnmarshalJSON accepts the timestamp as fractional unix seconds or an
// RFC3339 string.
func (b *Breadcrumb) UnmarshalJSON(data []byte) error {
	type Alias Breadcrumb
	in := struct {
		*Alias
		Timestamp json.RawMessage `json:"timestamp"`
	}{Alias: (*Alias)(b)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts, err := parseTimestamp(in.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	b.Timestamp = ts
	return nil
}

// Exception is one entry of an error event's exception chain.
type Exception struct {
	Type       string      `json:"type,omitempty"`
	Value      string      `json:"value,omitempty"`
	Module     string      `json:"module,omitempty"`
	Stacktrace *Stacktrace `json:"stacktrace,omitempty"`
	Mechanism  *Mechanism  `json:"mechanism,omitempty"`
}

// Mechanism describes how an exception was captured.
type Mechanism struct {
	Type    string `json:"type"`
	Handled *bool  `json:"handled,omitempty"`
}

// Stacktrace holds frames ordered from the outermost caller to the innermost.
type Stacktrace struct {
	Frames []Frame `json:"frames"`
}

// Frame is a single stack frame.
type Frame struct {
	Filename    string         `json:"filename,omitempty"`
	AbsPath     string         `json:"abs_path,omitempty"`
	Module      string         `json:"module,omitempty"`
	Function    string         `json:"function,omitempty"`
	Lineno      int            `json:"lineno,omitempty"`
	PreContext  []string       `json:"pre_context,omitempty"`
	ContextLine string         `json:"context_line,omitempty"`
	PostContext []string       `json:"post_context,omitempty"`
	Vars        map[string]any `json:"vars,omitempty"`
	InApp       bool           `json:"in_app"`
}

// Span is the wire form of a finished span.
type Span struct {
	TraceID        string            `json:"trace_id"`
	SpanID         string            `json:"span_id"`
	ParentSpanID   string            `json:"parent_span_id,omitempty"`
	Op             string            `json:"op,omitempty"`
	Description    string            `json:"description,omitempty"`
	Status         string            `json:"status,omitempty"`
	Origin         string            `json:"origin,omitempty"`
	StartTimestamp float64           `json:"start_timestamp"`
	Timestamp      float64           `json:"timestamp,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Data           map[string]any    `json:"data,omitempty"`
	IsSegment      bool              `json:"is_segment,omitempty"`
}

// Attachment is a file sent alongside an event.
type Attachment struct {
	Filename       string
	ContentType    string
	AttachmentType string
	Payload        []byte
}

// CheckIn reports the state of a cron monitor.
type CheckIn struct {
	ID            string         `json:"check_in_id"`
	MonitorSlug   string         `json:"monitor_slug"`
	Status        CheckInStatus  `json:"status"`
	Duration      float64        `json:"duration,omitempty"`
	Release       string         `json:"release,omitempty"`
	Environment   string         `json:"environment,omitempty"`
	MonitorConfig *MonitorConfig `json:"monitor_config,omitempty"`
}

// CheckInStatus is the state reported by a check-in.
type CheckInStatus string

const (
	CheckInInProgress CheckInStatus = "in_progress"
	CheckInOK         CheckInStatus = "ok"
	CheckInError      CheckInStatus = "error"
)

// MonitorConfig upserts a monitor together with its first check-in.
type MonitorConfig struct {
	Schedule      MonitorSchedule `json:"schedule"`
	CheckinMargin int             `json:"checkin_margin,omitempty"`
	MaxRuntime    int             `json:"max_runtime,omitempty"`
	Timezone      string          `json:"timezone,omitempty"`
}

// MonitorSchedule is either a crontab or an interval schedule.
type MonitorSchedule struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Capturer is the capture pipeline flushed or finished telemetry is handed
// to. It returns the id of the accepted event, or nil when it was dropped.
type Capturer interface {
	CaptureEvent(event *Event) *EventID
}
