package sentry

import (
	"time"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/tracing"
	"github.com/your-org/roadrunner-sentry/internal/transport"
)

// Event and its parts as handed to the capture pipeline.
type (
	Event         = protocol.Event
	EventID       = protocol.EventID
	Kind          = protocol.Kind
	Level         = protocol.Level
	Breadcrumb    = protocol.Breadcrumb
	User          = protocol.User
	Exception     = protocol.Exception
	Attachment    = protocol.Attachment
	CheckIn       = protocol.CheckIn
	CheckInStatus = protocol.CheckInStatus
	MonitorConfig = protocol.MonitorConfig
	Category      = protocol.Category
	DiscardReason = protocol.DiscardReason
)

// Tracing types.
type (
	Span               = tracing.Span
	Transaction        = tracing.Transaction
	TransactionContext = tracing.TransactionContext
	TracesSampler      = tracing.TracesSampler
	SamplingContext    = tracing.SamplingContext
)

// SendResult is the outcome of delivering one event.
type SendResult = transport.Result

const (
	KindError        = protocol.KindError
	KindTransaction  = protocol.KindTransaction
	KindLog          = protocol.KindLog
	KindMetric       = protocol.KindMetric
	KindSpan         = protocol.KindSpan
	KindProfile      = protocol.KindProfile
	KindProfileChunk = protocol.KindProfileChunk
	KindClientReport = protocol.KindClientReport
	KindCheckIn      = protocol.KindCheckIn
)

const (
	LevelDebug   = protocol.LevelDebug
	LevelInfo    = protocol.LevelInfo
	LevelWarning = protocol.LevelWarning
	LevelError   = protocol.LevelError
	LevelFatal   = protocol.LevelFatal
)

// EventPayload is an event built by a PHP worker. Payload is the event JSON.
type EventPayload struct {
	ID      string `json:"event_id"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// LogPayload is a structured log record sent by a PHP worker.
type LogPayload struct {
	Level      string         `json:"level"`
	Body       string         `json:"body"`
	Attributes map[string]any `json:"attributes,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	// Timestamp is fractional unix seconds; zero means now.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// MetricPayload is a single metric observation sent by a PHP worker.
type MetricPayload struct {
	// Type is one of c, g, d or s.
	Type  string            `json:"type"`
	Key   string            `json:"key"`
	Value float64           `json:"value"`
	Set   string            `json:"set,omitempty"`
	Unit  string            `json:"unit,omitempty"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// FlushRequest bounds an RPC flush.
type FlushRequest struct {
	TimeoutMs int `json:"timeout_ms"`
}

// Stats counts what the client delivered since start.
type Stats struct {
	EventsSent        uint64 `json:"events_sent"`
	EventsFailed      uint64 `json:"events_failed"`
	EventsRateLimited uint64 `json:"events_rate_limited"`
	EventsDropped     uint64 `json:"events_dropped"`
	QueueLength       int    `json:"queue_length"`
	Pending           int    `json:"pending"`
}

// Status is the snapshot returned over RPC.
type Status struct {
	Stats
	// RateLimits maps an active category to the instant it is lifted.
	RateLimits map[string]time.Time `json:"rate_limits,omitempty"`
	// PendingReports is the number of discarded items not yet reported.
	PendingReports int64 `json:"pending_reports"`
	DSNConfigured  bool  `json:"dsn_configured"`
}
