// Package collector runs background polling loops against remote event
// endpoints, buffering results for replay and fanning them out to
// subscriber queues in arrival order.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultIdleDelay is the back-off applied after an empty poll, so an idle
// endpoint is not polled in a busy loop.
const DefaultIdleDelay = 1 * time.Second

// DefaultQueueSize is the per-subscriber buffer used when none is given.
const DefaultQueueSize = 1024

// PollFunc performs one bounded poll against the remote endpoint. The wait
// window and maximum batch size are captured in the closure.
type PollFunc[T any] func(ctx context.Context) ([]T, error)

// FaultFunc receives poll failures. Collector failures are never surfaced
// synchronously; this callback is their only outlet.
type FaultFunc func(err error)

// CycleFunc receives the item count of every successful poll, empty ones
// included.
type CycleFunc func(n int)

// Collector polls one remote endpoint in the background. Every event ever
// received is kept in a replay buffer so late subscribers can request full
// history.
type Collector[T any] struct {
	poll      PollFunc[T]
	onFault   FaultFunc
	onCycle   CycleFunc
	idleDelay time.Duration
	queueSize int
	log       zerolog.Logger

	mu     sync.Mutex
	buf    []T
	queues []chan T
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Collector.
type Option func(*options)

type options struct {
	idleDelay time.Duration
	queueSize int
	onFault   FaultFunc
	onCycle   CycleFunc
}

// WithIdleDelay overrides the empty-poll back-off.
func WithIdleDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleDelay = d
		}
	}
}

// WithQueueSize overrides the per-subscriber buffer size.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithFaultFunc installs the poll failure callback.
func WithFaultFunc(fn FaultFunc) Option {
	return func(o *options) { o.onFault = fn }
}

// WithCycleFunc installs the successful-poll callback.
func WithCycleFunc(fn CycleFunc) Option {
	return func(o *options) { o.onCycle = fn }
}

// New creates a collector for one endpoint. Start must be called before any
// events flow.
func New[T any](log zerolog.Logger, endpoint string, poll PollFunc[T], opts ...Option) *Collector[T] {
	o := options{
		idleDelay: DefaultIdleDelay,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Collector[T]{
		poll:      poll,
		onFault:   o.onFault,
		onCycle:   o.onCycle,
		idleDelay: o.idleDelay,
		queueSize: o.queueSize,
		log:       log.With().Str("component", "collector").Str("endpoint", endpoint).Logger(),
	}
}

// Start launches the background polling loop. Calling Start on a running
// collector is a no-op.
func (c *Collector[T]) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx)
}

// Stop cancels the polling loop. The in-flight poll request is abandoned,
// not awaited; Stop never surfaces an error. Idempotent.
func (c *Collector[T]) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Subscribe returns a new queue receiving live events in arrival order. With
// replayPast, the queue is first populated with all previously buffered
// events, so a late subscriber misses no history gathered since Start.
func (c *Collector[T]) Subscribe(replayPast bool) <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.queueSize
	if replayPast && len(c.buf) > size {
		size = len(c.buf)
	}
	q := make(chan T, size)
	if replayPast {
		for _, ev := range c.buf {
			q <- ev
		}
	}
	c.queues = append(c.queues, q)
	return q
}

func (c *Collector[T]) run(ctx context.Context) {
	defer close(c.done)
	c.log.Debug().Msg("collector started")

	for {
		if ctx.Err() != nil {
			c.log.Debug().Msg("collector stopped")
			return
		}

		batch, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Debug().Msg("collector stopped")
				return
			}
			c.log.Warn().Err(err).Msg("poll failed")
			if c.onFault != nil {
				c.onFault(err)
			}
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		if c.onCycle != nil {
			c.onCycle(len(batch))
		}

		if len(batch) == 0 {
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.dispatch(batch)
	}
}

func (c *Collector[T]) dispatch(batch []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, batch...)
	for _, ev := range batch {
		for _, q := range c.queues {
			select {
			case q <- ev:
			default:
				c.log.Warn().Msg("subscriber queue full, event dropped")
			}
		}
	}
}

func (c *Collector[T]) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.idleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		c.log.Debug().Msg("collector stopped")
		return false
	}
}
