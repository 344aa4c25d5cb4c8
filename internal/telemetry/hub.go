// Package telemetry emits best-effort pipeline signals (request counts,
// success/exception counts, latency). Emission never blocks the pipeline:
// events go into a bounded channel consumed by a single worker, and when
// the channel is full the newest event is dropped and counted.
package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Signal names a telemetry series.
type Signal string

const (
	SignalRequest   Signal = "message_request"
	SignalSuccess   Signal = "message_success_response"
	SignalException Signal = "message_exception"
	SignalLatency   Signal = "message_response_milliseconds"
)

// Event is one telemetry sample. Tag carries the sender identity; Value is
// 1 for counters and the elapsed milliseconds for SignalLatency.
type Event struct {
	Signal Signal
	Tag    string
	Value  float64
	At     time.Time
}

// Sink accepts events without blocking and without a consulted result.
type Sink interface {
	Emit(event Event)
}

// Nop discards every event. Useful default when telemetry is not wired.
type Nop struct{}

func (Nop) Emit(Event) {}

const defaultCapacity = 256

// Hub is the bounded-queue Sink consumed by a background worker that logs
// samples and aggregates per-signal counters.
type Hub struct {
	logger  *slog.Logger
	events  chan Event
	dropped atomic.Int64

	mu     sync.Mutex
	counts map[Signal]int64

	closeMu sync.RWMutex
	closed  bool

	stop sync.Once
	done chan struct{}
}

// NewHub creates a hub with the given queue capacity (or a default when
// capacity is not positive) and starts its worker.
func NewHub(log *slog.Logger, capacity int) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	h := &Hub{
		logger: log.With(slog.String("component", "telemetry")),
		events: make(chan Event, capacity),
		counts: map[Signal]int64{},
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit queues an event, dropping it when the queue is full or the hub is
// already closed. Safe to call concurrently with Close.
func (h *Hub) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.events <- event:
	default:
		h.dropped.Add(1)
	}
}

// Count returns the aggregated total for a signal.
func (h *Hub) Count(signal Signal) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[signal]
}

// Dropped returns how many events were discarded due to a full queue.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops the worker after draining queued events. Later Emit calls
// are counted as dropped.
func (h *Hub) Close() {
	h.stop.Do(func() {
		h.closeMu.Lock()
		h.closed = true
		h.closeMu.Unlock()
		close(h.events)
		<-h.done
	})
}

func (h *Hub) run() {
	defer close(h.done)
	for event := range h.events {
		h.mu.Lock()
		h.counts[event.Signal]++
		h.mu.Unlock()
		h.logger.Debug("telemetry sample",
			slog.String("signal", string(event.Signal)),
			slog.String("tag", event.Tag),
			slog.Float64("value", event.Value),
		)
	}
	if dropped := h.dropped.Load(); dropped > 0 {
		h.logger.Debug("telemetry events dropped", slog.Int64("count", dropped))
	}
}
