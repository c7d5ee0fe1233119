package vad

import (
	"math"
	"testing"
	"time"

	"github.com/obiente/translate/livescribe/internal/audio"
)

const frameSamples = 320

func tone(seq uint64) audio.Frame {
	s := make([]int16, frameSamples)
	for i := range s {
		n := int(seq)*frameSamples + i
		s[i] = int16(9000 * math.Sin(2*math.Pi*220*float64(n)/audio.SampleRate))
	}
	return audio.Frame{Seq: seq, Offset: time.Duration(seq) * 20 * time.Millisecond, Samples: s}
}

func silence(seq uint64) audio.Frame {
	return audio.Frame{Seq: seq, Offset: time.Duration(seq) * 20 * time.Millisecond, Samples: make([]int16, frameSamples)}
}

// feed runs a pattern of active/inactive frames through a segmenter using the
// energy classifier and returns every event produced.
func feed(t *testing.T, s *Segmenter, pattern []bool) []Event {
	t.Helper()
	c := NewEnergyClassifier(DefaultThreshold)
	var events []Event
	for i, active := range pattern {
		f := silence(uint64(i))
		if active {
			f = tone(uint64(i))
		}
		events = append(events, s.Process(f, c.Classify(f.Samples))...)
	}
	return events
}

func pattern(runs ...any) []bool {
	var out []bool
	for i := 0; i < len(runs); i += 2 {
		active := runs[i].(bool)
		n := runs[i+1].(int)
		for j := 0; j < n; j++ {
			out = append(out, active)
		}
	}
	return out
}

func TestEnergyClassifier(t *testing.T) {
	c := NewEnergyClassifier(0.02)
	tests := []struct {
		name   string
		frame  audio.Frame
		active bool
	}{
		{"silence", silence(0), false},
		{"tone", tone(0), true},
		{"empty", audio.Frame{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.frame.Samples)
			if got.Active != tt.active {
				t.Errorf("Active = %v, want %v", got.Active, tt.active)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("Confidence = %v, want within [0,1]", got.Confidence)
			}
		})
	}
}

func TestSilenceNeverOpens(t *testing.T) {
	s := NewSegmenter(Config{FramesToOpen: 5, FramesToClose: 8})
	if events := feed(t, s, pattern(false, 500)); len(events) != 0 {
		t.Errorf("got %d events on silence, want 0", len(events))
	}
	if s.State() != Silence {
		t.Errorf("State() = %v, want silence", s.State())
	}
}

func TestShortBurstDoesNotOpen(t *testing.T) {
	s := NewSegmenter(Config{FramesToOpen: 5, FramesToClose: 8})
	events := feed(t, s, pattern(true, 4, false, 10, true, 3, false, 10))
	if len(events) != 0 {
		t.Errorf("got %d events for sub-threshold bursts, want 0", len(events))
	}
}

func TestSpeechThenSilence(t *testing.T) {
	s := NewSegmenter(Config{FramesToOpen: 5, FramesToClose: 8, MaxSegment: 10 * time.Second})
	// 3s of speech then 2s of silence at 20ms framing.
	events := feed(t, s, pattern(true, 150, false, 100))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}

	open := events[0]
	if open.Kind != Opened {
		t.Fatalf("first event = %v, want opened", open.Kind)
	}
	if open.At != 100*time.Millisecond {
		t.Errorf("opened at %v, want 100ms", open.At)
	}
	if open.Segment.Start != 0 {
		t.Errorf("segment start = %v, want 0 (backdated)", open.Segment.Start)
	}

	closed := events[1]
	if closed.Kind != Closed || closed.Forced || closed.Discarded {
		t.Fatalf("second event = %+v, want natural close", closed)
	}
	if d := closed.At - 3*time.Second; d < -160*time.Millisecond || d > 160*time.Millisecond {
		t.Errorf("closed at %v, want 3s±160ms", closed.At)
	}
	if closed.Segment.End != 3*time.Second {
		t.Errorf("segment end = %v, want 3s", closed.Segment.End)
	}
	if closed.Segment.ID != open.Segment.ID {
		t.Errorf("close ID %d != open ID %d", closed.Segment.ID, open.Segment.ID)
	}
}

func TestShortPauseKeepsSegmentOpen(t *testing.T) {
	s := NewSegmenter(Config{FramesToOpen: 5, FramesToClose: 8})
	events := feed(t, s, pattern(true, 50, false, 7, true, 50, false, 8))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (one segment)", len(events))
	}
	if got := events[1].Segment.End; got != 107*20*time.Millisecond {
		t.Errorf("segment end = %v, want %v", got, 107*20*time.Millisecond)
	}
}

func TestForceCloseAtMaxDuration(t *testing.T) {
	s := NewSegmenter(Config{FramesToOpen: 5, FramesToClose: 8, MaxSegment: 2 * time.Second})
	events := feed(t, s, pattern(true, 250))

	var closes []Event
	for _, ev := range events {
		if ev.Kind == Closed {
			closes = append(closes, ev)
		}
	}
	if len(closes) == 0 {
		t.Fatal("never-silent stream was not force-closed")
	}
	first := closes[0]
	if !first.Forced {
		t.Error("close at max duration not marked forced")
	}
	if first.Segment.Duration() != 2*time.Second {
		t.Errorf("forced segment duration = %v, want 2s", first.Segment.Duration())
	}
	if s.State() != Speech {
		t.Errorf("State() after continued speech = %v, want speech (reopened)", s.State())
	}
	last := closes[len(closes)-1]
	cur, ok := s.Current()
	if !ok || cur.Start != last.Segment.End {
		t.Errorf("reopened segment start = %v, want %v", cur.Start, last.Segment.End)
	}
}

func TestMinSegmentDiscards(t *testing.T) {
	s := NewSegmenter(Config{FramesToOpen: 2, FramesToClose: 3, MinSegment: 200 * time.Millisecond})
	events := feed(t, s, pattern(true, 5, false, 5))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[1].Discarded {
		t.Errorf("100ms segment not discarded with MinSegment=200ms")
	}
}

func TestFlush(t *testing.T) {
	s := NewSegmenter(Config{FramesToOpen: 5, FramesToClose: 8})
	feed(t, s, pattern(true, 30))
	events := s.Flush()
	if len(events) != 1 || events[0].Kind != Closed || !events[0].Forced {
		t.Fatalf("Flush() = %+v, want one forced close", events)
	}
	if events[0].Segment.End != 600*time.Millisecond {
		t.Errorf("flushed end = %v, want 600ms", events[0].Segment.End)
	}
	if s.State() != Silence {
		t.Errorf("State() after flush = %v, want silence", s.State())
	}

	s2 := NewSegmenter(Config{FramesToOpen: 5, FramesToClose: 8})
	feed(t, s2, pattern(true, 3))
	if events := s2.Flush(); len(events) != 0 {
		t.Errorf("Flush during SpeechStarting produced %d events", len(events))
	}
}
