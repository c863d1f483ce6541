package sentry

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender delivers a single event. *transport.Transport implements it.
type Sender interface {
	Send(ctx context.Context, ev *protocol.Event) SendResult
}

// EventQueue manages asynchronous event delivery: a bounded channel drained
// by a fixed pool of workers.
type EventQueue struct {
	events  chan *Event
	workers int
	sender  Sender
	drops   protocol.DropRecorder
	metrics *metricsCollector
	logger  *zap.Logger

	// ctx is cancelled when Stop times out, aborting in-flight sends.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
	// pending counts events enqueued but not yet sent.
	pending int
	idle    []chan struct{}

	fullLog rate.Sometimes
}

// NewEventQueue creates a new event queue
func NewEventQueue(size, workers int, sender Sender, drops protocol.DropRecorder, metrics *metricsCollector, logger *zap.Logger) *EventQueue {
	if size < 1 {
		size = DefaultQueueSize
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventQueue{
		events:  make(chan *Event, size),
		workers: workers,
		sender:  sender,
		drops:   drops,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		fullLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Start starts the queue workers
func (eq *EventQueue) Start() {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if eq.started || eq.closed {
		return
	}
	eq.started = true

	for i := 0; i < eq.workers; i++ {
		eq.wg.Add(1)
		go eq.worker(i)
	}
}

// Stop stops accepting events and waits for the workers to send what is
// queued. When ctx expires first, in-flight sends are cancelled and the
// remaining events are reported as backpressure by the transport.
func (eq *EventQueue) Stop(ctx context.Context) error {
	eq.mu.Lock()
	if eq.closed {
		eq.mu.Unlock()
		return nil
	}
	eq.closed = true
	started := eq.started
	eq.mu.Unlock()

	close(eq.events)
	if !started {
		eq.discardQueued(protocol.ReasonBackpressure)
		eq.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		eq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eq.cancel()
		eq.logger.Debug("event queue stopped gracefully")
		return nil
	case <-ctx.Done():
		eq.cancel()
		eq.logger.Warn("event queue stopped with timeout", zap.Int("pending", eq.Pending()))
		return ctx.Err()
	}
}

// Enqueue adds an event to the send queue. A full or closed queue drops the
// event and records the drop.
func (eq *EventQueue) Enqueue(ev *Event) error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if eq.closed {
		eq.discard(ev, protocol.ReasonBackpressure)
		return ErrQueueClosed
	}

	select {
	case eq.events <- ev:
		eq.pending++
		return nil
	default:
		eq.discard(ev, protocol.ReasonQueueOverflow)
		eq.fullLog.Do(func() {
			eq.logger.Warn("event queue is full, dropping event",
				zap.String("event_id", string(ev.ID)),
				zap.Int("capacity", cap(eq.events)))
		})
		return ErrQueueFull
	}
}

// Drain blocks until every enqueued event has been sent or ctx is done. On
// expiry the events still waiting in the queue are dropped and reported as
// backpressure; Drain then returns false.
func (eq *EventQueue) Drain(ctx context.Context) bool {
	eq.mu.Lock()
	if eq.pending == 0 {
		eq.mu.Unlock()
		return true
	}
	idle := make(chan struct{})
	eq.idle = append(eq.idle, idle)
	eq.mu.Unlock()

	select {
	case <-idle:
		return true
	case <-ctx.Done():
		n := eq.discardQueued(protocol.ReasonBackpressure)
		eq.logger.Warn("flush timed out, dropping queued events", zap.Int("dropped", n))
		return false
	}
}

// Len is the number of events waiting for a worker.
func (eq *EventQueue) Len() int {
	return len(eq.events)
}

// Pending is the number of events enqueued and not yet sent.
func (eq *EventQueue) Pending() int {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return eq.pending
}

// worker sends events from the queue
func (eq *EventQueue) worker(workerID int) {
	defer eq.wg.Done()

	logger := eq.logger.With(zap.Int("worker_id", workerID))

	for ev := range eq.events {
		res := eq.sender.Send(eq.ctx, ev)
		if eq.metrics != nil {
			eq.metrics.observe(ev.Kind.Category(), res)
		}

		switch {
		case res.Success:
			logger.Debug("event sent",
				zap.String("event_id", string(ev.ID)),
				zap.Int("attempts", res.Attempts))
		case res.RateLimited:
			logger.Debug("event rate limited", zap.String("event_id", string(ev.ID)))
		default:
			logger.Error("failed to send event",
				zap.String("event_id", string(ev.ID)),
				zap.String("error", res.Error),
				zap.Int("status_code", res.StatusCode),
				zap.Int("attempts", res.Attempts))
		}
		eq.done(1)
	}
}

// discardQueued empties the channel without sending.
func (eq *EventQueue) discardQueued(reason protocol.DiscardReason) int {
	n := 0
	for {
		select {
		case ev, ok := <-eq.events:
			if !ok {
				eq.done(n)
				return n
			}
			eq.discard(ev, reason)
			n++
		default:
			eq.done(n)
			return n
		}
	}
}

func (eq *EventQueue) done(n int) {
	if n == 0 {
		return
	}
	eq.mu.Lock()
	defer eq.mu.Unlock()

	eq.pending -= n
	if eq.pending > 0 {
		return
	}
	eq.pending = 0
	for _, ch := range eq.idle {
		close(ch)
	}
	eq.idle = nil
}

func (eq *EventQueue) discard(ev *Event, reason protocol.DiscardReason) {
	if eq.drops == nil {
		return
	}
	eq.drops.Add(ev.Kind.Category(), reason, int64(ev.ItemCount()))
	for range ev.Attachments {
		eq.drops.Add(protocol.CategoryAttachment, reason, 1)
	}
}

// Custom errors
var (
	ErrQueueClosed = &PluginError{Op: "queue_enqueue", Code: "queue_closed", Message: "queue is closed"}
	ErrQueueFull   = &PluginError{Op: "queue_enqueue", Code: "queue_full", Message: "queue is full"}
)

// PluginError represents a plugin-specific error
type PluginError struct {
	Op      string
	Code    string
	Message string
}

func (e *PluginError) Error() string {
	return e.Message
}
