package protocol

// DiscardReason is why an item was dropped before reaching the server.
type DiscardReason string

const (
	ReasonQueueOverflow    DiscardReason = "queue_overflow"
	ReasonBufferOverflow   DiscardReason = "buffer_overflow"
	ReasonRateLimitBackoff DiscardReason = "ratelimit_backoff"
	ReasonBeforeSend       DiscardReason = "before_send"
	ReasonEventProcessor   DiscardReason = "event_processor"
	ReasonSampleRate       DiscardReason = "sample_rate"
	ReasonNetworkError     DiscardReason = "network_error"
	// ReasonSendError is an error status from the server. 429 responses are
	// counted by the server itself and never reported with this reason.
	ReasonSendError     DiscardReason = "send_error"
	ReasonInternalError DiscardReason = "internal_sdk_error"
	ReasonBackpressure  DiscardReason = "backpressure"
)

// DiscardedEvent is one row of a client report.
type DiscardedEvent struct {
	Reason   DiscardReason `json:"reason"`
	Category Category      `json:"category"`
	Quantity int64         `json:"quantity"`
}

// ClientReport is the payload of a "client_report" item.
type ClientReport struct {
	Timestamp       float64          `json:"timestamp"`
	DiscardedEvents []DiscardedEvent `json:"discarded_events"`
}

// DropRecorder accounts for discarded telemetry.
type DropRecorder interface {
	Add(category Category, reason DiscardReason, quantity int64)
}
