package aggregator

import (
	"errors"
	"hash/crc32"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/tracing"
)

type capturer struct {
	events []*protocol.Event
}

func (c *capturer) CaptureEvent(ev *protocol.Event) *protocol.EventID {
	c.events = append(c.events, ev)
	id := ev.ID
	return &id
}

type dropTally map[protocol.Category]map[protocol.DiscardReason]int64

func (d dropTally) Add(category protocol.Category, reason protocol.DiscardReason, quantity int64) {
	if d[category] == nil {
		d[category] = make(map[protocol.DiscardReason]int64)
	}
	d[category][reason] += quantity
}

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestLogsFlush(t *testing.T) {
	c := &capturer{}
	logs, err := NewLogs(LogOptions{
		Environment: "prod",
		Release:     "1.0",
		ServerName:  "web-1",
		SDK:         protocol.SDKInfo{Name: "sentry.go.roadrunner", Version: "1.2.3"},
		TraceID:     func() string { return "4bf92f3577b34da6a3ce929d0e0e4736" },
		Now:         fixedClock(1700000000),
	}, c)
	require.NoError(t, err)

	assert.Nil(t, logs.Flush())

	logs.Add(LogWarn, "disk almost full", map[string]any{
		"free":           12,
		"ratio":          0.5,
		"mounted":        true,
		"path":           "/var",
		"sentry.release": "spoofed",
		"labels":         []string{"a", "b"},
	})
	logs.AddRecord(LogRecord{Level: LogError, Body: "boom", TraceID: "abc"})

	id := logs.Flush()
	require.NotNil(t, id)
	require.Len(t, c.events, 1)
	ev := c.events[0]
	assert.Equal(t, protocol.KindLog, ev.Kind)
	require.Len(t, ev.Logs, 2)

	first := ev.Logs[0]
	assert.Equal(t, float64(1700000000), first.Timestamp)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", first.TraceID)
	assert.Equal(t, 13, first.SeverityNumber)
	assert.Equal(t, protocol.LogAttribute{Type: "integer", Value: int64(12)}, first.Attributes["free"])
	assert.Equal(t, protocol.LogAttribute{Type: "double", Value: 0.5}, first.Attributes["ratio"])
	assert.Equal(t, protocol.LogAttribute{Type: "boolean", Value: true}, first.Attributes["mounted"])
	assert.Equal(t, protocol.LogAttribute{Type: "string", Value: `["a","b"]`}, first.Attributes["labels"])
	assert.Equal(t, "1.0", first.Attributes["sentry.release"].Value)
	assert.Equal(t, "prod", first.Attributes["sentry.environment"].Value)
	assert.Equal(t, "web-1", first.Attributes["sentry.server.address"].Value)
	assert.Equal(t, "sentry.go.roadrunner", first.Attributes["sentry.sdk.name"].Value)

	assert.Equal(t, "abc", ev.Logs[1].TraceID)
	assert.Equal(t, 0, logs.Len())
	assert.Nil(t, logs.Flush())
}

func TestLogsOverflowIsReported(t *testing.T) {
	drops := dropTally{}
	c := &capturer{}
	logs, err := NewLogs(LogOptions{BufferSize: 2, Drops: drops}, c)
	require.NoError(t, err)

	for _, body := range []string{"a", "b", "c", "d"} {
		logs.Add(LogInfo, body, nil)
	}
	assert.Equal(t, int64(2), drops[protocol.CategoryLogItem][protocol.ReasonBufferOverflow])

	require.NotNil(t, logs.Flush())
	require.Len(t, c.events[0].Logs, 2)
	assert.Equal(t, "c", c.events[0].Logs[0].Body)
	assert.Equal(t, "d", c.events[0].Logs[1].Body)
}

func TestNewLogsRejectsNegativeBuffer(t *testing.T) {
	_, err := NewLogs(LogOptions{BufferSize: -1}, &capturer{})
	assert.True(t, errors.Is(err, protocol.ErrInvalidConfiguration))
}

func TestMetricsMergeWithinBucket(t *testing.T) {
	now := int64(1700000003)
	c := &capturer{}
	m := NewMetrics(MetricOptions{Environment: "prod", Now: func() time.Time { return time.Unix(now, 0) }}, c)

	tags := map[string]string{"route": "/a"}
	m.Increment("requests", 1, "", tags)
	m.Increment("requests", 2, "", map[string]string{"route": "/a"})
	m.Gauge("queue", 5, "item", nil)
	m.Gauge("queue", 2, "item", nil)
	m.Gauge("queue", 9, "item", nil)
	m.Distribution("latency", 0.1, "second", nil)
	m.Distribution("latency", 0.3, "second", nil)
	m.Set("users", "alice", "", nil)
	m.Set("users", "alice", "", nil)
	m.Set("users", 42, "", nil)
	m.Set("users", 1.5, "", nil)

	now = 1700000009
	m.Increment("requests", 4, "", tags)
	assert.Equal(t, 4, m.Len())

	now = 1700000010
	m.Increment("requests", 1, "", tags)
	assert.Equal(t, 5, m.Len())

	require.NotNil(t, m.Flush())
	require.Len(t, c.events, 1)
	buckets := c.events[0].MetricBuckets
	require.Len(t, buckets, 5)

	byKey := map[string]*protocol.MetricBucket{}
	for _, b := range buckets[:4] {
		assert.Equal(t, int64(1700000000), b.Timestamp)
		assert.Equal(t, "prod", b.Tags["environment"])
		byKey[b.Key] = b
	}
	assert.Equal(t, []float64{7}, byKey["requests"].Values)
	assert.Equal(t, "none", byKey["requests"].Unit)
	assert.Equal(t, []float64{9, 2, 9, 16, 3}, byKey["queue"].Values)
	assert.Equal(t, []float64{0.1, 0.3}, byKey["latency"].Values)
	assert.Equal(t, []float64{float64(crc32.ChecksumIEEE([]byte("alice"))), 42}, byKey["users"].Values)

	assert.Equal(t, int64(1700000010), buckets[4].Timestamp)
	assert.Equal(t, []float64{1}, buckets[4].Values)

	assert.Nil(t, m.Flush())
}

func TestMetricsDifferentTagsDoNotMerge(t *testing.T) {
	m := NewMetrics(MetricOptions{Now: fixedClock(1700000000)}, &capturer{})
	m.Increment("requests", 1, "", map[string]string{"route": "/a"})
	m.Increment("requests", 1, "", map[string]string{"route": "/b"})
	m.Increment("requests", 1, "ms", map[string]string{"route": "/a"})
	m.Gauge("requests", 1, "", map[string]string{"route": "/a"})
	assert.Equal(t, 4, m.Len())
}

func TestMetricsIgnoresInvalidObservations(t *testing.T) {
	m := NewMetrics(MetricOptions{}, &capturer{})
	m.Increment("", 1, "", nil)
	m.Gauge("g", 0, "", nil)
	m.Distribution("d", 1, "", nil)
	m.Distribution("d", 0, "", nil)
	m.Timing("t", 0, nil)
	assert.Equal(t, 3, m.Len())
}

func TestSpansFlush(t *testing.T) {
	rate := 1.0
	engine, err := tracing.NewEngine(&rate, nil, rand.NewSource(1), nil)
	require.NoError(t, err)
	tracer := tracing.NewTracer(tracing.TracerOptions{Engine: engine})

	drops := dropTally{}
	c := &capturer{}
	spans, err := NewSpans(2, drops, c)
	require.NoError(t, err)

	root := tracer.StartSpan("queue.process", spans.Add)
	child := root.StartChild("db.query")
	child.Finish()
	root.Finish()
	assert.Equal(t, 2, spans.Len())

	require.NotNil(t, spans.Flush())
	items := c.events[0].SpanItems
	require.Len(t, items, 2)
	assert.Equal(t, child.SpanID.String(), items[0].SpanID)
	assert.False(t, items[0].IsSegment)
	assert.True(t, items[1].IsSegment)
	assert.Equal(t, protocol.KindSpan, c.events[0].Kind)

	for i := 0; i < 3; i++ {
		tracer.StartSpan("x", spans.Add).Finish()
	}
	assert.Equal(t, int64(1), drops[protocol.CategorySpan][protocol.ReasonBufferOverflow])
}
