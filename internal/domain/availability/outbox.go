package availability

import (
	"context"
	"expvar"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultOutboxBuffer = 1024
	publishTimeout      = 5 * time.Second
)

var (
	outboxAppendedTotal   = expvar.NewInt("availability_outbox_appended_total")
	outboxDroppedTotal    = expvar.NewInt("availability_outbox_dropped_total")
	outboxDispatchedTotal = expvar.NewInt("availability_outbox_dispatched_total")
)

// Outbox buffers availability changes between the write path and the realtime transport.
type Outbox struct {
	ch chan Change
}

// NewOutbox creates an outbox holding up to buffer pending changes.
func NewOutbox(buffer int) *Outbox {
	if buffer <= 0 {
		buffer = defaultOutboxBuffer
	}
	return &Outbox{ch: make(chan Change, buffer)}
}

// Append enqueues a change without blocking. It reports false when the change was dropped.
func (o *Outbox) Append(change Change) bool {
	if o == nil {
		return false
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}
	select {
	case o.ch <- change:
		outboxAppendedTotal.Add(1)
		return true
	default:
		outboxDroppedTotal.Add(1)
		log.Warn().
			Str("resource_id", change.ResourceID.String()).
			Str("kind", string(change.Kind)).
			Msg("Availability outbox full, change dropped")
		return false
	}
}

// Pending returns the number of buffered changes.
func (o *Outbox) Pending() int {
	return len(o.ch)
}

// Publisher delivers availability changes to realtime subscribers.
type Publisher interface {
	PublishAvailability(ctx context.Context, change Change) error
}

// Dispatcher drains the outbox into a Publisher.
type Dispatcher struct {
	outbox    *Outbox
	publisher Publisher
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(outbox *Outbox, publisher Publisher) *Dispatcher {
	return &Dispatcher{outbox: outbox, publisher: publisher}
}

// Run blocks until ctx is done, then publishes whatever is still buffered.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().Msg("Availability dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.drain()
			log.Info().Msg("Availability dispatcher stopped")
			return
		case change := <-d.outbox.ch:
			d.publish(context.Background(), change)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case change := <-d.outbox.ch:
			d.publish(context.Background(), change)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, change Change) {
	if d.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := d.publisher.PublishAvailability(ctx, change); err != nil {
		log.Error().Err(err).
			Str("resource_id", change.ResourceID.String()).
			Str("kind", string(change.Kind)).
			Msg("Failed to publish availability change")
		return
	}
	outboxDispatchedTotal.Add(1)
}
