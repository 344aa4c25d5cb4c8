package telemetry

import (
	"log/slog"
	"testing"
)

func TestHub_AggregatesCounts(t *testing.T) {
	t.Parallel()
	h := NewHub(slog.Default(), 16)

	for i := 0; i < 3; i++ {
		h.Emit(Event{Signal: SignalRequest, Tag: "visitor", Value: 1})
	}
	h.Emit(Event{Signal: SignalSuccess, Tag: "visitor", Value: 1})
	h.Emit(Event{Signal: SignalLatency, Tag: "visitor", Value: 12.5})
	h.Close()

	if got := h.Count(SignalRequest); got != 3 {
		t.Errorf("Count(request) = %d, want 3", got)
	}
	if got := h.Count(SignalSuccess); got != 1 {
		t.Errorf("Count(success) = %d, want 1", got)
	}
	if got := h.Count(SignalLatency); got != 1 {
		t.Errorf("Count(latency) = %d, want 1", got)
	}
	if got := h.Count(SignalException); got != 0 {
		t.Errorf("Count(exception) = %d, want 0", got)
	}
	if got := h.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	// No worker: the queue fills deterministically.
	h := &Hub{
		logger: slog.Default(),
		events: make(chan Event, 1),
		counts: map[Signal]int64{},
		done:   make(chan struct{}),
	}

	h.Emit(Event{Signal: SignalRequest, Value: 1})
	h.Emit(Event{Signal: SignalRequest, Value: 1})
	h.Emit(Event{Signal: SignalRequest, Value: 1})

	if got := h.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	h := NewHub(nil, 0)
	h.Emit(Event{Signal: SignalRequest, Value: 1})
	h.Close()
	h.Close()
	if got := h.Count(SignalRequest); got != 1 {
		t.Fatalf("Count(request) after close = %d, want 1", got)
	}
}

func TestHub_EmitAfterClose(t *testing.T) {
	t.Parallel()
	h := NewHub(nil, 4)
	h.Emit(Event{Signal: SignalRequest, Value: 1})
	h.Close()

	h.Emit(Event{Signal: SignalRequest, Value: 1})

	if got := h.Count(SignalRequest); got != 1 {
		t.Fatalf("Count(request) = %d, want 1 (post-close emit must not be consumed)", got)
	}
	if got := h.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestNopSink(t *testing.T) {
	t.Parallel()
	var sink Sink = Nop{}
	sink.Emit(Event{Signal: SignalException, Value: 1})
}
