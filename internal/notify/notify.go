// Package notify fans trading events out to human-facing channels without blocking the engine.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies an event.
type Kind string

const (
	KindLevel      Kind = "level"
	KindTouch      Kind = "touch"
	KindSignal     Kind = "signal"
	KindOrderOpen  Kind = "order_open"
	KindOrderClose Kind = "order_close"
	KindStats      Kind = "stats"
	KindError      Kind = "error"
)

// Event is an immutable notification payload.
type Event struct {
	Kind       Kind      `json:"kind"`
	Instrument string    `json:"instrument"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Instrument, e.Text)
}

// Notifier delivers one event to a destination.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to a zerolog logger.
type LogNotifier struct{ log zerolog.Logger }

// NewLogNotifier wraps log.
func NewLogNotifier(log zerolog.Logger) *LogNotifier { return &LogNotifier{log: log} }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.Info().Str("kind", string(ev.Kind)).Str("instrument", ev.Instrument).Time("at", ev.At).Msg(ev.Text)
	return nil
}

// Dispatcher queues events on a bounded channel and delivers them from one goroutine.
// Publish never blocks; events are dropped when the queue is full.
type Dispatcher struct {
	log       zerolog.Logger
	notifiers []Notifier
	queue     chan Event
	timeout   time.Duration

	mu      sync.Mutex
	dropped int
	closed  bool
	done    chan struct{}
}

// NewDispatcher builds a dispatcher with the given queue capacity.
func NewDispatcher(log zerolog.Logger, size int, notifiers ...Notifier) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{
		log:       log,
		notifiers: notifiers,
		queue:     make(chan Event, size),
		timeout:   10 * time.Second,
		done:      make(chan struct{}),
	}
}

// Start launches the delivery loop. It exits after Close once the queue is empty.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for ev := range d.queue {
			d.deliver(ctx, ev)
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, n := range d.notifiers {
		nctx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := n.Notify(nctx, ev); err != nil {
			d.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("notification failed")
		}
		cancel()
	}
}

// Publish enqueues ev and reports whether it was accepted.
func (d *Dispatcher) Publish(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.dropped++
		return false
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
