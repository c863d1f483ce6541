package sentry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

const (
	namespace = "rr_sentry"
)

// metricsCollector implements prometheus.Collector interface
type metricsCollector struct {
	// Atomic counters for thread-safe metric updates
	sentEvents        *uint64 // Events accepted by the server
	failedEvents      *uint64 // Events rejected or lost on the network
	rateLimitedEvents *uint64 // Events suppressed by an active rate limit
	droppedItems      *uint64 // Items discarded before delivery, any reason

	sentEventsDesc        *prometheus.Desc
	failedEventsDesc      *prometheus.Desc
	rateLimitedEventsDesc *prometheus.Desc
	droppedItemsDesc      *prometheus.Desc
	queueLengthDesc       *prometheus.Desc

	// Vector metrics
	eventsByCategory *prometheus.CounterVec
	droppedByReason  *prometheus.CounterVec

	queueLength func() int
}

// newMetricsCollector creates a new metrics collector. queueLength is read
// on every scrape.
func newMetricsCollector(queueLength func() int) *metricsCollector {
	return &metricsCollector{
		sentEvents:        ptrTo(uint64(0)),
		failedEvents:      ptrTo(uint64(0)),
		rateLimitedEvents: ptrTo(uint64(0)),
		droppedItems:      ptrTo(uint64(0)),

		sentEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_sent_total"),
			"Total number of events accepted by Sentry",
			nil, nil),

		failedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_failed_total"),
			"Total number of events that failed to send",
			nil, nil),

		rateLimitedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_rate_limited_total"),
			"Total number of events suppressed by rate limits",
			nil, nil),

		droppedItemsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dropped_items_total"),
			"Total number of telemetry items discarded before delivery",
			nil, nil),

		queueLengthDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_length"),
			"Number of events waiting in the send queue",
			nil, nil),

		eventsByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "events_by_category_total"),
				Help: "Total number of events handed to the transport by data category",
			},
			[]string{"category"}),

		droppedByReason: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "dropped_items_by_reason_total"),
				Help: "Total number of discarded telemetry items by category and reason",
			},
			[]string{"category", "reason"}),

		queueLength: queueLength,
	}
}

// observe records the outcome of a send.
func (mc *metricsCollector) observe(category protocol.Category, res SendResult) {
	mc.eventsByCategory.WithLabelValues(string(category)).Inc()

	switch {
	case res.Success:
		atomic.AddUint64(mc.sentEvents, 1)
	case res.RateLimited:
		atomic.AddUint64(mc.rateLimitedEvents, 1)
	default:
		atomic.AddUint64(mc.failedEvents, 1)
	}
}

// dropped records discarded items.
func (mc *metricsCollector) dropped(category protocol.Category, reason protocol.DiscardReason, quantity int64) {
	if quantity <= 0 {
		return
	}
	atomic.AddUint64(mc.droppedItems, uint64(quantity))
	mc.droppedByReason.WithLabelValues(string(category), string(reason)).Add(float64(quantity))
}

func (mc *metricsCollector) stats() Stats {
	return Stats{
		EventsSent:        atomic.LoadUint64(mc.sentEvents),
		EventsFailed:      atomic.LoadUint64(mc.failedEvents),
		EventsRateLimited: atomic.LoadUint64(mc.rateLimitedEvents),
		EventsDropped:     atomic.LoadUint64(mc.droppedItems),
	}
}

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.sentEventsDesc
	ch <- mc.failedEventsDesc
	ch <- mc.rateLimitedEventsDesc
	ch <- mc.droppedItemsDesc
	ch <- mc.queueLengthDesc

	mc.eventsByCategory.Describe(ch)
	mc.droppedByReason.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		mc.sentEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.sentEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.failedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.failedEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.rateLimitedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.rateLimitedEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.droppedItemsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.droppedItems)))

	queued := 0
	if mc.queueLength != nil {
		queued = mc.queueLength()
	}
	ch <- prometheus.MustNewConstMetric(
		mc.queueLengthDesc,
		prometheus.GaugeValue,
		float64(queued))

	mc.eventsByCategory.Collect(ch)
	mc.droppedByReason.Collect(ch)
}
