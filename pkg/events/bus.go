package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/resource"
)

// DefaultQueueSize is the per-subscriber buffer used when none is given.
const DefaultQueueSize = 256

// DroppedFunc is called when a subscriber's queue is full and an event is
// dropped for it. Used to feed the overflow metric.
type DroppedFunc func(subscriberID string, ev Event)

// Bus fans events out to subscriber queues. Emission is synchronous and
// non-blocking: a slow subscriber loses events instead of stalling the
// emitter.
type Bus struct {
	log       zerolog.Logger
	queueSize int
	onDropped DroppedFunc

	mu     sync.Mutex
	subs   map[string]chan Event
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the per-subscriber buffer size.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDroppedFunc installs an overflow callback.
func WithDroppedFunc(fn DroppedFunc) Option {
	return func(b *Bus) { b.onDropped = fn }
}

// NewBus creates an event bus logging through log.
func NewBus(log zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:       log.With().Str("component", "event_bus").Logger(),
		queueSize: DefaultQueueSize,
		subs:      make(map[string]chan Event),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit delivers ev to every subscriber queue, FIFO per subscriber. Never
// blocks; full queues drop the event for that subscriber with a warning.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, q := range b.subs {
		select {
		case q <- ev:
		default:
			b.log.Warn().
				Str("subscriber_id", id).
				Str("event", ev.EventName()).
				Msg("subscriber queue full, event dropped")
			if b.onDropped != nil {
				b.onDropped(id, ev)
			}
		}
	}
}

// Subscribe returns a new buffered queue receiving all subsequent events.
// The returned id cancels the subscription via Unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	q := make(chan Event, b.queueSize)
	if b.closed {
		close(q)
		return id, q
	}
	b.subs[id] = q
	return id, q
}

// Unsubscribe removes a subscription and closes its queue. Unknown ids are
// ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(q)
}

// Close shuts the bus down: all queues are closed and later Emit calls are
// no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, q := range b.subs {
		delete(b.subs, id)
		close(q)
	}
}

// GraphSink adapts the bus to the registry's EventSink interface.
type GraphSink struct {
	bus *Bus
}

// NewGraphSink wraps bus for use as the registry's sink.
func NewGraphSink(bus *Bus) *GraphSink {
	return &GraphSink{bus: bus}
}

// ResourceFound emits a ResourceFound event for obj.
func (s *GraphSink) ResourceFound(obj resource.Object) {
	s.bus.Emit(ResourceFound{resourceEvent{obj}})
}

// ResourceCreated emits a ResourceCreated event for obj.
func (s *GraphSink) ResourceCreated(obj resource.Object) {
	s.bus.Emit(ResourceCreated{resourceEvent{obj}})
}

// ResourceChanged emits a ResourceChanged event carrying the prior snapshot.
func (s *GraphSink) ResourceChanged(obj resource.Object, old any) {
	s.bus.Emit(ResourceChanged{resourceEvent: resourceEvent{obj}, Old: old})
}

// ResourceClosed emits a ResourceClosed event for obj.
func (s *GraphSink) ResourceClosed(obj resource.Object) {
	s.bus.Emit(ResourceClosed{resourceEvent{obj}})
}

// NewResourceFound builds a ResourceFound event; used by tests and fakes.
func NewResourceFound(obj resource.Object) ResourceFound {
	return ResourceFound{resourceEvent{obj}}
}

// NewResourceClosed builds a ResourceClosed event for obj.
func NewResourceClosed(obj resource.Object) ResourceClosed {
	return ResourceClosed{resourceEvent{obj}}
}

// NewAgreementConfirmed builds an AgreementConfirmed event.
func NewAgreementConfirmed(obj resource.Object, providerID string) AgreementConfirmed {
	return AgreementConfirmed{resourceEvent: resourceEvent{obj}, ProviderID: providerID}
}

// NewAgreementRejected builds an AgreementRejected event.
func NewAgreementRejected(obj resource.Object, providerID string) AgreementRejected {
	return AgreementRejected{resourceEvent: resourceEvent{obj}, ProviderID: providerID}
}
