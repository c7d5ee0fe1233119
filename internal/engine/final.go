package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/metrics"
	"github.com/obiente/translate/livescribe/internal/queue"
)

const DefaultQueueCapacity = 8

// Request is one accurate transcription job.
type Request struct {
	// ID identifies the request in logs, usually the segment id.
	ID     string
	Window []float32
}

// Outcome resolves a Request. Err is set when no result is available.
type Outcome struct {
	Result  Result
	Err     error
	Latency time.Duration
}

type FinalOptions struct {
	// QueueCapacity bounds waiting requests. Overflow evicts the oldest.
	QueueCapacity int
	// RequestTimeout bounds a single inference. Zero means no limit.
	RequestTimeout time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// FinalEngine serialises access to a Transcriber through a single worker and
// a bounded FIFO. Each submitted request is resolved exactly once.
type FinalEngine struct {
	avail   Availability
	t       Transcriber
	opts    FinalOptions
	log     zerolog.Logger
	metrics *metrics.Metrics

	jobs      *queue.Queue[*job]
	done      chan struct{}
	closeOnce sync.Once
	released  chan struct{}
	closeErr  error
}

type job struct {
	ctx      context.Context
	req      Request
	reply    chan Outcome
	enqueued time.Time
	once     sync.Once
}

// resolve never blocks: reply has room for exactly one outcome and nobody
// reading it is fine.
func (j *job) resolve(o Outcome) {
	j.once.Do(func() {
		j.reply <- o
	})
}

// NewFinalEngine starts the worker that owns t.
func NewFinalEngine(t Transcriber, opts FinalOptions) *FinalEngine {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	e := &FinalEngine{
		avail:    Ready(),
		t:        t,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "final_engine").Logger(),
		metrics:  opts.Metrics,
		jobs:     queue.New[*job](opts.QueueCapacity),
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	go e.run()
	return e
}

// NewUnavailableFinalEngine returns an engine that rejects every request.
func NewUnavailableFinalEngine(reason string, opts FinalOptions) *FinalEngine {
	done := make(chan struct{})
	close(done)
	return &FinalEngine{
		avail:   Unavailable(reason),
		opts:    opts,
		log:     opts.Logger.With().Str("component", "final_engine").Logger(),
		metrics: opts.Metrics,
		done:    done,
	}
}

// OpenFinalEngine attempts construction of a Transcriber and degrades to an
// unavailable engine carrying the failure reason.
func OpenFinalEngine(open func() (Transcriber, error), opts FinalOptions) (e *FinalEngine) {
	defer func() {
		if p := recover(); p != nil {
			e = NewUnavailableFinalEngine(panicReason(p), opts)
		}
	}()
	t, err := open()
	if err != nil {
		return NewUnavailableFinalEngine(err.Error(), opts)
	}
	if t == nil {
		return NewUnavailableFinalEngine("no transcriber returned", opts)
	}
	return NewFinalEngine(t, opts)
}

func (e *FinalEngine) Availability() Availability { return e.avail }

// Pending returns the number of requests waiting for the worker.
func (e *FinalEngine) Pending() int {
	if e.jobs == nil {
		return 0
	}
	return e.jobs.Len()
}

// Submit enqueues a request without blocking. The returned channel receives
// exactly one Outcome. Cancelling ctx before the worker picks the request up
// resolves it with the context error.
func (e *FinalEngine) Submit(ctx context.Context, req Request) (<-chan Outcome, error) {
	if !e.avail.Available {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, e.avail.Reason)
	}
	j := &job{ctx: ctx, req: req, reply: make(chan Outcome, 1), enqueued: time.Now()}
	evicted, dropped, err := e.jobs.Push(j)
	if err != nil {
		return nil, ErrClosed
	}
	if dropped {
		e.log.Warn().
			Str("dropped", evicted.req.ID).
			Str("request", req.ID).
			Int("capacity", e.opts.QueueCapacity).
			Msg("final queue full, dropping oldest request")
		e.metrics.RecordFinalRequest("dropped", 0)
		evicted.resolve(Outcome{Err: ErrDropped})
	}
	e.metrics.SetFinalQueueDepth(e.jobs.Len())
	return j.reply, nil
}

// Transcribe submits a request and waits for its outcome.
func (e *FinalEngine) Transcribe(ctx context.Context, window []float32) (Result, error) {
	reply, err := e.Submit(ctx, Request{Window: window})
	if err != nil {
		return Result{}, err
	}
	select {
	case o := <-reply:
		return o.Result, o.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close resolves queued requests with ErrClosed, waits for the request in
// flight, then releases the Transcriber. When ctx ends first Close returns
// its error and the Transcriber is released once the worker exits.
func (e *FinalEngine) Close(ctx context.Context) error {
	if !e.avail.Available {
		return nil
	}
	e.closeOnce.Do(func() {
		e.jobs.Close()
		for _, j := range e.jobs.Clear() {
			j.resolve(Outcome{Err: ErrClosed})
		}
		go func() {
			<-e.done
			e.closeErr = e.t.Close()
			close(e.released)
		}()
	})
	select {
	case <-e.released:
		return e.closeErr
	case <-ctx.Done():
		e.log.Warn().Msg("final engine close timed out, transcriber released after the running request")
		return ctx.Err()
	}
}

func (e *FinalEngine) run() {
	defer close(e.done)
	e.log.Info().Int("queue_capacity", e.opts.QueueCapacity).Msg("final engine worker started")
	defer e.log.Info().Msg("final engine worker stopped")
	for {
		j, ok := e.jobs.Next(nil)
		if !ok {
			return
		}
		e.metrics.SetFinalQueueDepth(e.jobs.Len())
		e.process(j)
	}
}

func (e *FinalEngine) process(j *job) {
	if err := j.ctx.Err(); err != nil {
		e.metrics.RecordFinalRequest("cancelled", 0)
		j.resolve(Outcome{Err: err})
		return
	}

	// Inference runs to completion once started; a caller that went away
	// simply never reads the outcome.
	ctx := context.WithoutCancel(j.ctx)
	if e.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.transcribe(ctx, j.req.Window)
	latency := time.Since(start)

	l := e.log.With().
		Str("request", j.req.ID).
		Int("samples", len(j.req.Window)).
		Dur("latency", latency).
		Dur("queued", start.Sub(j.enqueued)).
		Logger()
	if err != nil {
		l.Warn().Err(err).Msg("final transcription failed")
		e.metrics.RecordFinalRequest("error", latency.Seconds())
	} else {
		l.Debug().Str("text", res.Text).Msg("final transcription complete")
		e.metrics.RecordFinalRequest("ok", latency.Seconds())
	}
	j.resolve(Outcome{Result: res, Err: err, Latency: latency})
}

func (e *FinalEngine) transcribe(ctx context.Context, window []float32) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transcriber panic: %v", p)
		}
	}()
	return e.t.Transcribe(ctx, window)
}

func panicReason(p any) string {
	return fmt.Sprintf("constructor panic: %v", p)
}
