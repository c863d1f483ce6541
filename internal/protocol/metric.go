package protocol

import (
	"bytes"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MetricType is the statsd type letter of a metric.
type MetricType string

const (
	MetricCounter      MetricType = "c"
	MetricGauge        MetricType = "g"
	MetricDistribution MetricType = "d"
	MetricSet          MetricType = "s"
)

// MetricBucket is the aggregate of one metric within one rollup window.
//
// Values hold, per type: counter [sum]; gauge [last, min, max, sum, count];
// distribution every observation; set every distinct member.
type MetricBucket struct {
	Timestamp int64
	Type      MetricType
	Key       string
	Unit      string
	Tags      map[string]string
	Values    []float64
}

var (
	metricKeyRe    = regexp.MustCompile(`[^a-zA-Z0-9_\-.]+`)
	metricUnitRe   = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
	metricTagKeyRe = regexp.MustCompile(`[^a-zA-Z0-9_\-./]+`)

	metricTagValueReplacer = strings.NewReplacer(
		"\\", `\\`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
		"|", `\u{7c}`,
		",", `\u{2c}`,
	)
)

// EncodeStatsd renders buckets in the statsd line format, one bucket per line:
//
//	key@unit:v1:v2|type|#tag:value,tag:value|T1700000000
func EncodeStatsd(buckets []*MetricBucket) []byte {
	var buf bytes.Buffer
	for i, b := range buckets {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(metricKeyRe.ReplaceAllString(b.Key, "_"))
		buf.WriteByte('@')
		unit := metricUnitRe.ReplaceAllString(b.Unit, "")
		if unit == "" {
			unit = "none"
		}
		buf.WriteString(unit)
		for _, v := range b.Values {
			buf.WriteByte(':')
			buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		buf.WriteByte('|')
		buf.WriteString(string(b.Type))
		if len(b.Tags) > 0 {
			keys := make([]string, 0, len(b.Tags))
			for k := range b.Tags {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			buf.WriteString("|#")
			first := true
			for _, k := range keys {
				name := metricTagKeyRe.ReplaceAllString(k, "")
				if name == "" {
					continue
				}
				if !first {
					buf.WriteByte(',')
				}
				first = false
				buf.WriteString(name)
				buf.WriteByte(':')
				buf.WriteString(metricTagValueReplacer.Replace(b.Tags[k]))
			}
		}
		buf.WriteString("|T")
		buf.WriteString(strconv.FormatInt(b.Timestamp, 10))
	}
	return buf.Bytes()
}
