package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/events"
	"github.com/obiente/translate/livescribe/internal/metrics"
	"github.com/obiente/translate/livescribe/internal/queue"
	"github.com/obiente/translate/livescribe/internal/vad"
)

var (
	errDrainTimeout = errors.New("drain timed out")
	errEmptyWindow  = errors.New("segment audio no longer buffered")
	errEmptyResult  = errors.New("accurate pass returned no text")
)

type OrchestratorOptions struct {
	SessionID  string
	Buffer     *audio.Buffer
	Classifier vad.Classifier
	VAD        vad.Config
	Recognizer engine.Recognizer
	Final      *engine.FinalEngine
	Sink       events.Sink
	Transcript *Transcript
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Orchestrator reconciles the fast and accurate engines for one session.
//
// Consume and Flush run on the fast lane: they classify each frame, drive the
// segmenter, feed the recognizer and emit partials without ever waiting on
// the accurate engine. Closed segments are submitted to the FinalEngine and
// queued in close order; a finalizer goroutine awaits their outcomes in that
// same order, so finals leave in segment order even though only the
// finalizer blocks.
type Orchestrator struct {
	sessionID  string
	buf        *audio.Buffer
	classifier vad.Classifier
	segmenter  *vad.Segmenter
	rec        engine.Recognizer
	final      *engine.FinalEngine
	sink       events.Sink
	transcript *Transcript
	log        zerolog.Logger
	metrics    *metrics.Metrics
	partials   bool
	finals     bool

	open *openSegment

	pending    *queue.Queue[*pendingFinal]
	ctx        context.Context
	cancel     context.CancelFunc
	giveUp     chan struct{}
	giveUpOnce sync.Once
	abort      chan struct{}
	abortOnce  sync.Once
	aborted    atomic.Bool
	done       chan struct{}
}

type openSegment struct {
	seg       vad.Segment
	lc        *lifecycle
	committed string
	lastText  string
}

type pendingFinal struct {
	seg      vad.Segment
	lc       *lifecycle
	fallback string
	reply    <-chan engine.Outcome
	err      error
	closedAt time.Time
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Classifier == nil {
		opts.Classifier = vad.NewEnergyClassifier(vad.DefaultThreshold)
	}
	if opts.Recognizer == nil {
		opts.Recognizer = engine.NewUnavailableRecognizer("no recognizer configured")
	}
	if opts.Final == nil {
		opts.Final = engine.NewUnavailableFinalEngine("no final engine configured", engine.FinalOptions{Logger: opts.Logger})
	}
	if opts.Sink == nil {
		opts.Sink = events.Multi(nil)
	}
	if opts.Transcript == nil {
		opts.Transcript = NewTranscript()
	}
	if opts.Buffer == nil {
		opts.Buffer = audio.NewBuffer(time.Minute)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessionID:  opts.SessionID,
		buf:        opts.Buffer,
		classifier: opts.Classifier,
		segmenter:  vad.NewSegmenter(opts.VAD),
		rec:        opts.Recognizer,
		final:      opts.Final,
		sink:       opts.Sink,
		transcript: opts.Transcript,
		log:        opts.Logger.With().Str("component", "orchestrator").Str("session", opts.SessionID).Logger(),
		metrics:    opts.Metrics,
		partials:   opts.Recognizer.Availability().Available,
		finals:     opts.Final.Availability().Available,
		pending:    queue.New[*pendingFinal](0),
		ctx:        ctx,
		cancel:     cancel,
		giveUp:     make(chan struct{}),
		abort:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	if o.partials {
		// Drop whatever a previous session left in the recognizer.
		o.rec.Final()
	}
	go o.finalize()
	return o
}

func (o *Orchestrator) Transcript() *Transcript { return o.transcript }

// Consume processes one frame on the fast lane.
func (o *Orchestrator) Consume(f audio.Frame) {
	if o.aborted.Load() {
		return
	}
	cls := o.classifier.Classify(f.Samples)
	endpoint := false
	if o.partials {
		endpoint = o.rec.Accept(f.Samples)
	}

	updated := false
	for _, ev := range o.segmenter.Process(f, cls) {
		switch ev.Kind {
		case vad.Opened:
			o.opened(ev)
		case vad.Closed:
			if !updated {
				o.updatePartial(f.End(), endpoint)
				updated = true
			}
			o.closed(ev)
		}
	}
	if !updated {
		o.updatePartial(f.End(), endpoint)
	}
}

// Flush force-closes an open segment. It must run after the fast lane has
// drained.
func (o *Orchestrator) Flush() {
	for _, ev := range o.segmenter.Flush() {
		if ev.Kind == vad.Closed {
			o.closed(ev)
		}
	}
}

// Drain stops accepting segments and waits for every pending final. When ctx
// ends first the remaining segments resolve with their partial text.
func (o *Orchestrator) Drain(ctx context.Context) error {
	defer o.cancel()
	o.pending.Close()
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		o.log.Warn().Int("pending", o.pending.Len()).Msg("final drain timed out, resolving best-effort")
		o.giveUpOnce.Do(func() { close(o.giveUp) })
		<-o.done
		return ctx.Err()
	}
}

// Abort drops all pending work without emitting anything further. Queued
// accurate requests are skipped by the engine; one already running completes
// and its outcome is ignored.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
	o.abortOnce.Do(func() { close(o.abort) })
	o.cancel()
	o.pending.Close()
	for _, p := range o.pending.Clear() {
		p.lc.Resolve()
	}
}

func (o *Orchestrator) opened(ev vad.Event) {
	if o.open != nil {
		o.log.Warn().Uint64("segment", o.open.seg.ID).Msg("segment opened while another is open")
		return
	}
	o.open = &openSegment{seg: ev.Segment, lc: newLifecycle(ev.Segment.ID)}
	o.metrics.RecordSegmentOpened()
	o.log.Debug().
		Uint64("segment", ev.Segment.ID).
		Dur("start", ev.Segment.Start).
		Dur("at", ev.At).
		Msg("segment opened")
}

func (o *Orchestrator) updatePartial(end time.Duration, endpoint bool) {
	if !o.partials {
		return
	}
	if endpoint {
		text, _ := o.rec.Final()
		if o.open == nil {
			if text != "" {
				o.log.Debug().Str("text", text).Msg("fast text outside speech ignored")
			}
			return
		}
		o.open.committed = engine.JoinText(o.open.committed, text)
	}
	if o.open == nil {
		return
	}
	partial, _ := o.rec.Partial()
	o.emitPartial(o.open, engine.JoinText(o.open.committed, partial), end)
}

func (o *Orchestrator) emitPartial(cur *openSegment, text string, end time.Duration) {
	if text == "" || text == cur.lastText {
		return
	}
	if err := cur.lc.EmitPartial(); err != nil {
		o.log.Warn().Err(err).Uint64("segment", cur.lc.ID()).Msg("partial rejected")
		return
	}
	cur.lastText = text
	o.emit(events.Segment{
		SegmentID: cur.seg.ID,
		Text:      text,
		Start:     cur.seg.Start,
		End:       end,
	})
	o.metrics.RecordPartial()
}

func (o *Orchestrator) closed(ev vad.Event) {
	cur := o.open
	o.open = nil
	if cur == nil {
		return
	}
	seg := ev.Segment
	reason := "silence"
	if ev.Forced {
		reason = "forced"
	}
	o.metrics.RecordSegmentClosed(reason, ev.Discarded)

	if o.partials {
		text, _ := o.rec.Final()
		cur.committed = engine.JoinText(cur.committed, text)
		if !ev.Discarded {
			o.emitPartial(cur, cur.committed, seg.End)
		}
	}
	if err := cur.lc.Close(); err != nil {
		o.log.Warn().Err(err).Uint64("segment", seg.ID).Msg("segment close rejected")
		return
	}

	l := o.log.With().
		Uint64("segment", seg.ID).
		Dur("start", seg.Start).
		Dur("end", seg.End).
		Bool("forced", ev.Forced).
		Logger()

	switch {
	case ev.Discarded:
		cur.lc.Resolve()
		if cur.lastText != "" {
			o.emit(events.Segment{
				SegmentID: seg.ID,
				IsFinal:   true,
				Discarded: true,
				Start:     seg.Start,
				End:       seg.End,
			})
		}
		o.transcript.Remove(seg.ID)
		l.Debug().
			Dur("duration", seg.Duration()).
			Bool("retracted", cur.lastText != "").
			Msg("segment shorter than minimum, discarded")
		return
	case !o.finals:
		cur.lc.Resolve()
		l.Debug().Msg("segment closed, partials stand")
		return
	}

	p := &pendingFinal{seg: seg, lc: cur.lc, fallback: cur.committed, closedAt: time.Now()}
	win := o.buf.Window(seg.Start, seg.End)
	if win.Truncated {
		l.Warn().Dur("window_start", win.Start).Msg("segment audio partly evicted from buffer")
	}
	if win.Empty() {
		p.err = errEmptyWindow
	} else {
		p.reply, p.err = o.final.Submit(o.ctx, engine.Request{
			ID:     fmt.Sprintf("%s/%d", o.sessionID, seg.ID),
			Window: win.Float32(),
		})
	}
	l.Debug().Err(p.err).Int("samples", len(win.Samples)).Msg("segment closed, awaiting final")

	if _, _, err := o.pending.Push(p); err != nil {
		o.resolveBestEffort(p, err)
	}
}

func (o *Orchestrator) finalize() {
	defer close(o.done)
	for {
		p, ok := o.pending.Next(o.abort)
		if !ok {
			return
		}
		o.await(p)
	}
}

func (o *Orchestrator) await(p *pendingFinal) {
	if p.err != nil {
		o.resolveBestEffort(p, p.err)
		return
	}
	select {
	case out := <-p.reply:
		o.resolve(p, out)
		return
	default:
	}
	select {
	case out := <-p.reply:
		o.resolve(p, out)
	case <-o.giveUp:
		o.resolveBestEffort(p, errDrainTimeout)
	case <-o.abort:
		p.lc.Resolve()
	}
}

func (o *Orchestrator) resolve(p *pendingFinal, out engine.Outcome) {
	if out.Err != nil {
		o.resolveBestEffort(p, out.Err)
		return
	}
	text := strings.TrimSpace(out.Result.Text)
	if text == "" {
		o.resolveBestEffort(p, errEmptyResult)
		return
	}
	if !p.lc.Resolve() {
		return
	}
	o.emit(events.Segment{
		SegmentID:  p.seg.ID,
		Text:       text,
		IsFinal:    true,
		Start:      p.seg.Start,
		End:        p.seg.End,
		Confidence: out.Result.Confidence,
		Language:   out.Result.Language,
	})
	o.metrics.RecordFinal(false)
	o.log.Debug().
		Uint64("segment", p.seg.ID).
		Dur("inference", out.Latency).
		Dur("since_close", time.Since(p.closedAt)).
		Msg("final emitted")
}

// resolveBestEffort keeps the fast engine's text for the segment, marked as a
// best-effort final. A segment with no fast text resolves silently.
func (o *Orchestrator) resolveBestEffort(p *pendingFinal, cause error) {
	if !p.lc.Resolve() {
		return
	}
	evt := o.log.Warn()
	if errors.Is(cause, errEmptyResult) {
		evt = o.log.Debug()
	}
	evt.Err(cause).
		Uint64("segment", p.seg.ID).
		Bool("has_partial", p.fallback != "").
		Msg("no final for segment, keeping partial text")
	if p.fallback == "" {
		return
	}
	o.emit(events.Segment{
		SegmentID:  p.seg.ID,
		Text:       p.fallback,
		IsFinal:    true,
		BestEffort: true,
		Start:      p.seg.Start,
		End:        p.seg.End,
	})
	o.metrics.RecordFinal(true)
}

func (o *Orchestrator) emit(seg events.Segment) {
	if o.aborted.Load() {
		return
	}
	seg.SessionID = o.sessionID
	o.transcript.Add(seg)
	if err := o.sink.Publish(context.Background(), events.SegmentEvent(seg)); err != nil {
		o.log.Warn().Err(err).Uint64("segment", seg.SegmentID).Msg("segment publish failed")
	}
}
