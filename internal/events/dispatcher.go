package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/metrics"
	"github.com/obiente/translate/livescribe/internal/queue"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

const DefaultPublishTimeout = 5 * time.Second

type DispatcherOptions struct {
	// Name labels publish metrics.
	Name string
	// PublishTimeout bounds a single delivery. Zero uses DefaultPublishTimeout.
	PublishTimeout time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Dispatcher decouples producers from a Sink. Publish only enqueues; one
// goroutine delivers events in order. The queue is unbounded so no event is
// ever dropped between the pipeline and its consumers.
type Dispatcher struct {
	sink    Sink
	opts    DispatcherOptions
	log     zerolog.Logger
	metrics *metrics.Metrics

	events    *queue.Queue[Event]
	done      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.Name == "" {
		opts.Name = "dispatch"
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	d := &Dispatcher{
		sink:    sink,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "dispatcher").Str("sink", opts.Name).Logger(),
		metrics: opts.Metrics,
		events:  queue.New[Event](0),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues ev and returns immediately.
func (d *Dispatcher) Publish(_ context.Context, ev Event) error {
	if _, _, err := d.events.Push(ev); err != nil {
		return ErrDispatcherClosed
	}
	return nil
}

// Pending returns the number of undelivered events.
func (d *Dispatcher) Pending() int { return d.events.Len() }

// Close stops accepting events and waits until the queued ones are delivered
// or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(d.events.Close)
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.log.Warn().Int("pending", d.events.Len()).Msg("dispatcher close timed out")
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		ev, ok := d.events.Next(nil)
		if !ok {
			return
		}
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := d.sink.Publish(ctx, ev)
	d.metrics.RecordSinkPublish(d.opts.Name, err, time.Since(start).Seconds())
	if err != nil {
		d.log.Warn().
			Err(err).
			Str("session", ev.SessionID).
			Str("kind", ev.Kind()).
			Msg("event delivery failed")
	}
}
