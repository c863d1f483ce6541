// Package aggregator batches small telemetry units (log records, metric
// observations and standalone spans) and flushes each batch as one event.
//
// Add never performs I/O. Flush returns nil when nothing is pending,
// otherwise it builds exactly one event, clears the batch and hands the
// event to the capture pipeline. Every aggregator has its own lock and they
// flush independently.
package aggregator
