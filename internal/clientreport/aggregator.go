// Package clientreport tallies telemetry dropped by the client and turns the
// tally into a single client_report event.
package clientreport

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

type key struct {
	category protocol.Category
	reason   protocol.DiscardReason
}

// Aggregator sums discarded quantities per (category, reason).
type Aggregator struct {
	log *zap.Logger
	now func() time.Time

	mu     sync.Mutex
	counts map[key]int64
}

// New returns an empty Aggregator. A nil logger discards diagnostics.
func New(log *zap.Logger, now func() time.Time) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{log: log, now: now, counts: make(map[key]int64)}
}

// Add records quantity dropped items. Non-positive quantities are ignored.
func (a *Aggregator) Add(category protocol.Category, reason protocol.DiscardReason, quantity int64) {
	if quantity <= 0 {
		a.log.Debug("discarding client report entry with non-positive quantity",
			zap.String("category", string(category)),
			zap.String("reason", string(reason)),
			zap.Int64("quantity", quantity),
		)
		return
	}

	a.mu.Lock()
	a.counts[key{category, reason}] += quantity
	a.mu.Unlock()
}

// Len returns the number of distinct rows pending.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.counts)
}

// Total returns the pending quantity over every row.
func (a *Aggregator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, n := range a.counts {
		total += n
	}
	return total
}

// Take empties the tally and returns it as a client_report event, nil when
// nothing was recorded. Rows are ordered by category, then reason.
func (a *Aggregator) Take() *protocol.Event {
	a.mu.Lock()
	counts := a.counts
	a.counts = make(map[key]int64, len(counts))
	a.mu.Unlock()

	if len(counts) == 0 {
		return nil
	}

	rows := make([]protocol.DiscardedEvent, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, protocol.DiscardedEvent{Reason: k.reason, Category: k.category, Quantity: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Reason < rows[j].Reason
	})

	ev := protocol.NewEvent(protocol.KindClientReport)
	ev.Timestamp = a.now()
	ev.ClientReport = &protocol.ClientReport{
		Timestamp:       protocol.UnixSeconds(ev.Timestamp),
		DiscardedEvents: rows,
	}
	return ev
}

// Flush hands the pending report to c. It returns nil when nothing was
// pending.
func (a *Aggregator) Flush(c protocol.Capturer) *protocol.EventID {
	ev := a.Take()
	if ev == nil {
		return nil
	}
	return c.CaptureEvent(ev)
}
