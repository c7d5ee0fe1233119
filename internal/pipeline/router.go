package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/metrics"
	"github.com/obiente/translate/livescribe/internal/queue"
)

var ErrRouterClosed = errors.New("router closed")

// Consumer processes frames on its lane goroutine. A Consumer that also
// implements io.Closer is closed by that goroutine once the lane ends.
type Consumer interface {
	Consume(f audio.Frame)
}

type ConsumerFunc func(f audio.Frame)

func (fn ConsumerFunc) Consume(f audio.Frame) { fn(f) }

type LanePolicy int

const (
	// Lossless lanes never drop. Used for the fast path.
	Lossless LanePolicy = iota
	// DropOldest lanes evict the oldest queued frame when full.
	DropOldest
)

type Lane struct {
	Name     string
	Policy   LanePolicy
	Consumer Consumer
	// Capacity bounds a DropOldest lane. For a Lossless lane it is the
	// backlog at which a warning is logged.
	Capacity int
}

type RouterOptions struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Router fans frames out from a single producer. The AudioBuffer is written
// inline; every other consumer runs on its own lane so that Route never
// waits for processing.
type Router struct {
	buf     *audio.Buffer
	lanes   []*lane
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

type lane struct {
	Lane
	q        *queue.Queue[audio.Frame]
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	log      zerolog.Logger
	drops    uint64
	warned   bool
}

func NewRouter(buf *audio.Buffer, opts RouterOptions, lanes ...Lane) *Router {
	r := &Router{
		buf:     buf,
		log:     opts.Logger.With().Str("component", "router").Logger(),
		metrics: opts.Metrics,
	}
	for _, l := range lanes {
		capacity := 0
		if l.Policy == DropOldest {
			capacity = l.Capacity
			if capacity <= 0 {
				capacity = 1
			}
		}
		ln := &lane{
			Lane: l,
			q:    queue.New[audio.Frame](capacity),
			stop: make(chan struct{}),
			done: make(chan struct{}),
			log:  r.log.With().Str("lane", l.Name).Logger(),
		}
		r.lanes = append(r.lanes, ln)
		go ln.run(r.metrics)
	}
	return r
}

// Route stores f in the buffer and enqueues it on every lane.
func (r *Router) Route(f audio.Frame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRouterClosed
	}
	if r.buf != nil {
		r.buf.Push(f)
	}
	r.metrics.RecordFrameRouted()
	for _, l := range r.lanes {
		l.push(f, r.metrics)
	}
	return nil
}

// Close stops accepting frames and waits for the lanes to finish their
// backlog. If ctx ends first the remaining frames are discarded.
func (r *Router) Close(ctx context.Context) error {
	if !r.shut() {
		return nil
	}
	for _, l := range r.lanes {
		l.q.Close()
	}
	for _, l := range r.lanes {
		select {
		case <-l.done:
		case <-ctx.Done():
			r.log.Warn().Int("backlog", l.q.Len()).Str("lane", l.Name).Msg("router drain timed out, discarding backlog")
			r.abortLanes()
			return ctx.Err()
		}
	}
	return nil
}

// Abort discards every queued frame. It returns once each lane has finished
// the frame it was processing.
func (r *Router) Abort() {
	r.shut()
	r.abortLanes()
}

func (r *Router) shut() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

func (r *Router) abortLanes() {
	for _, l := range r.lanes {
		l.q.Close()
		l.stopOnce.Do(func() { close(l.stop) })
		l.q.Clear()
	}
	for _, l := range r.lanes {
		<-l.done
	}
}

func (l *lane) push(f audio.Frame, m *metrics.Metrics) {
	_, dropped, err := l.q.Push(f)
	if err != nil {
		return
	}
	n := l.q.Len()
	m.SetLaneBacklog(l.Name, n)
	if dropped {
		l.drops++
		m.RecordFrameDropped(l.Name)
		if l.drops == 1 || l.drops%100 == 0 {
			l.log.Warn().
				Uint64("dropped_total", l.drops).
				Int("capacity", l.Capacity).
				Msg("lane full, dropping oldest frame")
		}
		return
	}
	if l.Policy == Lossless && l.Capacity > 0 {
		switch {
		case n >= l.Capacity && !l.warned:
			l.warned = true
			l.log.Warn().Int("backlog", n).Msg("fast path falling behind real time")
		case n < l.Capacity/2 && l.warned:
			l.warned = false
			l.log.Info().Int("backlog", n).Msg("fast path caught up")
		}
	}
}

func (l *lane) run(m *metrics.Metrics) {
	defer close(l.done)
	defer func() {
		if c, ok := l.Consumer.(io.Closer); ok {
			if err := c.Close(); err != nil {
				l.log.Warn().Err(err).Msg("closing lane consumer")
			}
		}
	}()
	for {
		f, ok := l.q.Next(l.stop)
		if !ok {
			return
		}
		l.Consumer.Consume(f)
		m.SetLaneBacklog(l.Name, l.q.Len())
	}
}
