// Package relay carries session events across the boundary between a
// provider's receive goroutine and the consumer of a transcription stream.
//
// A Relay is a bounded, ordered, single-producer single-consumer queue. A full
// queue blocks the producer; nothing is ever dropped. The producer's terminal
// event (Error or Closed) is the last value delivered, after which the channel
// returned by Events is closed.
package relay

import (
	"context"
	"errors"
	"sync"

	"transcription-stream-service/internal/observability/metrics"
)

const DefaultCapacity = 256

var (
	// ErrClosed is returned when publishing after the terminal event.
	ErrClosed = errors.New("relay closed")
	// ErrAbandoned is returned once the consumer has stopped reading.
	ErrAbandoned = errors.New("relay abandoned by consumer")
)

type Relay struct {
	ch chan Event

	// publishMu serializes the producer side; the consumer never takes it.
	publishMu sync.Mutex
	closed    bool

	abandoned   chan struct{}
	abandonOnce sync.Once

	metrics *metrics.Metrics
}

// New creates a relay holding at most capacity undelivered events.
// A non-positive capacity selects DefaultCapacity. m may be nil.
func New(capacity int, m *metrics.Metrics) *Relay {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Relay{
		ch:        make(chan Event, capacity),
		abandoned: make(chan struct{}),
		metrics:   m,
	}
}

// Publish enqueues ev, blocking while the queue is full.
// After a terminal event has been published the queue is closed.
func (r *Relay) Publish(ctx context.Context, ev Event) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.isAbandoned() {
		r.closeIfTerminal(ev)
		return ErrAbandoned
	}

	blocked := false
	select {
	case r.ch <- ev:
	default:
		blocked = true
		select {
		case r.ch <- ev:
		case <-r.abandoned:
			r.closeIfTerminal(ev)
			return ErrAbandoned
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if r.metrics != nil {
		r.metrics.RecordRelayPublish(len(r.ch), blocked)
	}
	r.closeIfTerminal(ev)
	return nil
}

func (r *Relay) closeIfTerminal(ev Event) {
	if ev.Kind.Terminal() && !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Events returns the consumer side. A closed, drained channel is end-of-stream.
func (r *Relay) Events() <-chan Event {
	return r.ch
}

// Abandon tells the producer that nobody will read further events.
// A producer blocked on a full queue is released with ErrAbandoned.
func (r *Relay) Abandon() {
	r.abandonOnce.Do(func() { close(r.abandoned) })
}

func (r *Relay) isAbandoned() bool {
	select {
	case <-r.abandoned:
		return true
	default:
		return false
	}
}

// Len returns the number of queued, undelivered events.
func (r *Relay) Len() int { return len(r.ch) }

// Cap returns the queue capacity.
func (r *Relay) Cap() int { return cap(r.ch) }
