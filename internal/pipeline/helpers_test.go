package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/events"
	"github.com/obiente/translate/livescribe/internal/vad"
)

func tone(d time.Duration) []int16 {
	n := int(audio.DurationToSamples(d))
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(audio.SampleRate)))
	}
	return out
}

func silence(d time.Duration) []int16 {
	return make([]int16, audio.DurationToSamples(d))
}

// wordRecognizer emits one new word for every ten voiced frames and never
// reports an endpoint on its own.
type wordRecognizer struct {
	voiced int
	next   int
	words  []string
}

func (r *wordRecognizer) Accept(samples []int16) bool {
	if vad.RMS(samples) < vad.DefaultThreshold {
		return false
	}
	r.voiced++
	if r.voiced%10 == 0 {
		r.next++
		r.words = append(r.words, fmt.Sprintf("w%d", r.next))
	}
	return false
}

func (r *wordRecognizer) Partial() (string, bool) {
	t := strings.Join(r.words, " ")
	return t, t != ""
}

func (r *wordRecognizer) Final() (string, bool) {
	t := strings.Join(r.words, " ")
	r.words = nil
	return t, t != ""
}

func (r *wordRecognizer) Availability() engine.Availability { return engine.Ready() }
func (r *wordRecognizer) Close() error                      { return nil }

// scriptedTranscriber answers "final N" for the Nth call and fails the calls
// listed in fail. When release is set every call waits for it.
type scriptedTranscriber struct {
	calls   atomic.Int32
	fail    map[int]bool
	release chan struct{}
	started chan struct{}
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, window []float32) (engine.Result, error) {
	n := int(s.calls.Add(1))
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		<-s.release
	}
	if s.fail[n] {
		return engine.Result{}, errors.New("inference failed")
	}
	return engine.Result{Text: fmt.Sprintf("final %d", n), Confidence: 0.9, Language: "en"}, nil
}

func (s *scriptedTranscriber) Close() error { return nil }

type collector struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *collector) Publish(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
	return nil
}

func (c *collector) segments() []events.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Segment
	for _, ev := range c.evs {
		if ev.Segment != nil {
			out = append(out, *ev.Segment)
		}
	}
	return out
}

func (c *collector) finals() []events.Segment {
	var out []events.Segment
	for _, s := range c.segments() {
		if s.IsFinal {
			out = append(out, s)
		}
	}
	return out
}

func (c *collector) notices() []events.Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Notice
	for _, ev := range c.evs {
		if ev.Status != nil {
			out = append(out, ev.Status.Notice)
		}
	}
	return out
}

func (c *collector) waitNotice(t *testing.T, n events.Notice) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		for _, got := range c.notices() {
			if got == n {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("notice %q never arrived, got %v", n, c.notices())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testVAD() vad.Config {
	return vad.Config{
		FramesToOpen:  5,
		FramesToClose: 8,
		MaxSegment:    15 * time.Second,
		MinSegment:    250 * time.Millisecond,
	}
}

func newFinal(t *testing.T, tr engine.Transcriber) *engine.FinalEngine {
	t.Helper()
	e := engine.NewFinalEngine(tr, engine.FinalOptions{Logger: zerolog.Nop()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Close(ctx)
	})
	return e
}

// assertAuthorityOrder fails when a partial follows the final of its segment
// or a segment gets more than one final.
func assertAuthorityOrder(t *testing.T, segs []events.Segment) {
	t.Helper()
	finalSeen := make(map[uint64]bool)
	for _, s := range segs {
		if finalSeen[s.SegmentID] {
			t.Errorf("segment %d emitted %q (final=%v) after its final", s.SegmentID, s.Text, s.IsFinal)
		}
		if s.IsFinal {
			finalSeen[s.SegmentID] = true
		}
	}
}

// assertEveryPartialResolved fails when a segment emitted partials but never
// a final of any kind.
func assertEveryPartialResolved(t *testing.T, segs []events.Segment) {
	t.Helper()
	resolved := make(map[uint64]bool)
	for _, s := range segs {
		if _, ok := resolved[s.SegmentID]; !ok || s.IsFinal {
			resolved[s.SegmentID] = s.IsFinal
		}
	}
	for id, ok := range resolved {
		if !ok {
			t.Errorf("segment %d has partials and no final", id)
		}
	}
}
