package sentry

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"github.com/your-org/roadrunner-sentry/internal/aggregator"
	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"go.uber.org/zap"
)

// RPC provides RPC methods for PHP communication
type RPC struct {
	plugin *Plugin
	logger *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(plugin *Plugin, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPC{
		plugin: plugin,
		logger: logger,
	}
}

// CaptureEvent captures a single event built by a worker. A dropped event
// is reported in the result, not as an error.
func (r *RPC) CaptureEvent(event *EventPayload, result *SendResult) error {
	const op = errors.Op("sentry_rpc_capture_event")

	client, err := r.client(op)
	if err != nil {
		return err
	}

	*result = r.capture(client, event)
	return nil
}

// CaptureBatch captures a batch of events
func (r *RPC) CaptureBatch(events []*EventPayload, result *[]*SendResult) error {
	const op = errors.Op("sentry_rpc_capture_batch")

	client, err := r.client(op)
	if err != nil {
		return err
	}

	r.logger.Debug("received batch of events via RPC", zap.Int("count", len(events)))

	results := make([]*SendResult, len(events))
	for i, event := range events {
		res := r.capture(client, event)
		results[i] = &res
	}

	*result = results
	return nil
}

func (r *RPC) capture(client *Client, payload *EventPayload) SendResult {
	if payload == nil {
		return SendResult{Error: "empty payload"}
	}

	ev, err := decodeEvent(payload)
	if err != nil {
		r.logger.Error("failed to decode event",
			zap.String("event_id", payload.ID),
			zap.String("type", payload.Type),
			zap.Error(err))
		return SendResult{EventID: EventID(payload.ID), Error: err.Error()}
	}

	id := client.CaptureEvent(ev)
	if id == nil {
		return SendResult{EventID: ev.ID, Error: "event dropped"}
	}

	r.logger.Debug("event queued for sending",
		zap.String("event_id", string(*id)),
		zap.String("type", payload.Type))
	return SendResult{EventID: *id, Success: true}
}

// AddBreadcrumb records a breadcrumb on the shared scope.
func (r *RPC) AddBreadcrumb(breadcrumb *Breadcrumb, ok *bool) error {
	const op = errors.Op("sentry_rpc_add_breadcrumb")

	client, err := r.client(op)
	if err != nil {
		return err
	}

	if breadcrumb == nil {
		return errors.E(op, "empty breadcrumb")
	}

	client.AddBreadcrumb(breadcrumb)
	*ok = true
	return nil
}

// AddLog buffers a structured log record.
func (r *RPC) AddLog(log *LogPayload, ok *bool) error {
	const op = errors.Op("sentry_rpc_add_log")

	client, err := r.client(op)
	if err != nil {
		return err
	}

	if log == nil {
		return errors.E(op, "empty log record")
	}

	record := aggregator.LogRecord{
		Level:      log.Level,
		Body:       log.Body,
		Attributes: log.Attributes,
		TraceID:    log.TraceID,
	}
	if log.Timestamp > 0 {
		record.Timestamp = protocol.FromUnixSeconds(log.Timestamp)
	}
	client.Logs().AddRecord(record)

	*ok = true
	return nil
}

// AddMetric records a metric observation.
func (r *RPC) AddMetric(metric *MetricPayload, ok *bool) error {
	const op = errors.Op("sentry_rpc_add_metric")

	client, err := r.client(op)
	if err != nil {
		return err
	}

	if metric == nil {
		return errors.E(op, "empty metric")
	}

	m := client.Metrics()
	switch protocol.MetricType(metric.Type) {
	case protocol.MetricCounter:
		m.Increment(metric.Key, metric.Value, metric.Unit, metric.Tags)
	case protocol.MetricGauge:
		m.Gauge(metric.Key, metric.Value, metric.Unit, metric.Tags)
	case protocol.MetricDistribution:
		m.Distribution(metric.Key, metric.Value, metric.Unit, metric.Tags)
	case protocol.MetricSet:
		if metric.Set != "" {
			m.Set(metric.Key, metric.Set, metric.Unit, metric.Tags)
		} else {
			m.Set(metric.Key, int64(metric.Value), metric.Unit, metric.Tags)
		}
	default:
		return errors.E(op, fmt.Errorf("unknown metric type %q", metric.Type))
	}

	*ok = true
	return nil
}

// Flush flushes everything buffered and waits for delivery. The result is
// false when the timeout elapsed first.
func (r *RPC) Flush(req *FlushRequest, ok *bool) error {
	const op = errors.Op("sentry_rpc_flush")

	client, err := r.client(op)
	if err != nil {
		return err
	}

	var timeout time.Duration
	if req != nil {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = r.plugin.config.Queue.ShutdownTimeout
	}

	*ok = client.FlushAll(timeout)
	return nil
}

// Status returns delivery counters and active rate limits.
func (r *RPC) Status(_ bool, status *Status) error {
	const op = errors.Op("sentry_rpc_status")

	client, err := r.client(op)
	if err != nil {
		return err
	}

	*status = client.Status()
	return nil
}

func (r *RPC) client(op errors.Op) (*Client, error) {
	if r.plugin == nil || r.plugin.client == nil {
		return nil, errors.E(op, "plugin not initialized")
	}
	return r.plugin.client, nil
}

// decodeEvent turns a worker payload into an event of the kind named by
// its type.
func decodeEvent(payload *EventPayload) (*Event, error) {
	ev := &Event{}

	switch payload.Type {
	case "", "event", "error":
		ev.Kind = KindError
	case string(KindTransaction):
		ev.Kind = KindTransaction
	case string(KindCheckIn):
		ci := &CheckIn{}
		if err := json.Unmarshal([]byte(payload.Payload), ci); err != nil {
			return nil, fmt.Errorf("check-in payload: %w", err)
		}
		ev.Kind = KindCheckIn
		ev.CheckIn = ci
		ev.ID = EventID(payload.ID)
		return ev, nil
	case string(KindProfile):
		if !json.Valid([]byte(payload.Payload)) {
			return nil, fmt.Errorf("profile payload is not valid JSON")
		}
		ev.Kind = KindProfile
		ev.Profile = json.RawMessage(payload.Payload)
		ev.ID = EventID(payload.ID)
		return ev, nil
	default:
		return nil, fmt.Errorf("unsupported event type %q", payload.Type)
	}

	if err := json.Unmarshal([]byte(payload.Payload), ev); err != nil {
		return nil, fmt.Errorf("event payload: %w", err)
	}
	if ev.ID == "" {
		ev.ID = EventID(payload.ID)
	}
	if ev.Kind == KindTransaction {
		ev.Type = string(KindTransaction)
	}
	return ev, nil
}
