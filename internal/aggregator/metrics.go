package aggregator

import (
	"hash/crc32"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// RollupInterval is the width of a metric bucket in seconds.
const RollupInterval = 10

// MetricOptions configures Metrics.
type MetricOptions struct {
	Environment string
	Release     string
	Now         func() time.Time
}

type metricBucket struct {
	*protocol.MetricBucket
	members map[float64]struct{}
}

// Metrics merges observations of the same metric within a rollup window
// into one bucket. The bucket key hashes type, key, unit, the sorted tags
// and the window start.
type Metrics struct {
	opts     MetricOptions
	capturer protocol.Capturer

	mu      sync.Mutex
	buckets map[uint64]*metricBucket
}

// NewMetrics returns a Metrics aggregator flushing into c.
func NewMetrics(opts MetricOptions, c protocol.Capturer) *Metrics {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Metrics{opts: opts, capturer: c, buckets: make(map[uint64]*metricBucket)}
}

// Increment adds value to a counter.
func (m *Metrics) Increment(key string, value float64, unit string, tags map[string]string) {
	m.add(protocol.MetricCounter, key, value, unit, tags)
}

// Gauge records the current value of a gauge.
func (m *Metrics) Gauge(key string, value float64, unit string, tags map[string]string) {
	m.add(protocol.MetricGauge, key, value, unit, tags)
}

// Distribution records one observation of a distribution.
func (m *Metrics) Distribution(key string, value float64, unit string, tags map[string]string) {
	m.add(protocol.MetricDistribution, key, value, unit, tags)
}

// Timing records d as a distribution in seconds.
func (m *Metrics) Timing(key string, d time.Duration, tags map[string]string) {
	m.add(protocol.MetricDistribution, key, d.Seconds(), "second", tags)
}

// Set records a member of a set. Integers are stored as is, strings by
// their CRC32 checksum; any other value is ignored.
func (m *Metrics) Set(key string, value any, unit string, tags map[string]string) {
	var member float64
	switch v := value.(type) {
	case int:
		member = float64(v)
	case int32:
		member = float64(v)
	case int64:
		member = float64(v)
	case uint32:
		member = float64(v)
	case string:
		member = float64(crc32.ChecksumIEEE([]byte(v)))
	default:
		return
	}
	m.add(protocol.MetricSet, key, member, unit, tags)
}

func (m *Metrics) add(typ protocol.MetricType, key string, value float64, unit string, tags map[string]string) {
	if key == "" || math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	if unit == "" {
		unit = "none"
	}
	tags = m.withDefaultTags(tags)
	ts := m.opts.Now().Unix() / RollupInterval * RollupInterval
	id := bucketKey(typ, key, unit, tags, ts)

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[id]
	if !ok {
		b = &metricBucket{MetricBucket: &protocol.MetricBucket{
			Timestamp: ts,
			Type:      typ,
			Key:       key,
			Unit:      unit,
			Tags:      tags,
		}}
		m.buckets[id] = b
	}
	b.merge(value)
}

func (b *metricBucket) merge(value float64) {
	switch b.Type {
	case protocol.MetricCounter:
		if len(b.Values) == 0 {
			b.Values = []float64{0}
		}
		b.Values[0] += value
	case protocol.MetricGauge:
		if len(b.Values) == 0 {
			b.Values = []float64{value, value, value, value, 1}
			return
		}
		v := b.Values
		v[0] = value
		v[1] = math.Min(v[1], value)
		v[2] = math.Max(v[2], value)
		v[3] += value
		v[4]++
	case protocol.MetricDistribution:
		b.Values = append(b.Values, value)
	case protocol.MetricSet:
		if b.members == nil {
			b.members = make(map[float64]struct{})
		}
		if _, ok := b.members[value]; ok {
			return
		}
		b.members[value] = struct{}{}
		b.Values = append(b.Values, value)
	}
}

func (m *Metrics) withDefaultTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+2)
	if m.opts.Environment != "" {
		out["environment"] = m.opts.Environment
	}
	if m.opts.Release != "" {
		out["release"] = m.opts.Release
	}
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func bucketKey(typ protocol.MetricType, key, unit string, tags map[string]string, ts int64) uint64 {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)

	d := xxhash.New()
	_, _ = d.WriteString(string(typ))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(key)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(unit)
	for _, k := range names {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(tags[k])
	}
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(ts, 10))
	return d.Sum64()
}

// Len returns the number of pending buckets.
func (m *Metrics) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Flush hands every pending bucket to the capturer as one statsd event.
// Buckets are ordered by window, then key, then type.
func (m *Metrics) Flush() *protocol.EventID {
	m.mu.Lock()
	pending := m.buckets
	m.buckets = make(map[uint64]*metricBucket, len(pending))
	m.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	buckets := make([]*protocol.MetricBucket, 0, len(pending))
	for _, b := range pending {
		buckets = append(buckets, b.MetricBucket)
	}
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Type < b.Type
	})

	ev := protocol.NewEvent(protocol.KindMetric)
	ev.Timestamp = m.opts.Now()
	ev.MetricBuckets = buckets
	return m.capturer.CaptureEvent(ev)
}
